package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// setupRedis starts a Redis container and connects a client with a test
// key prefix.
func setupRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("6379/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port()), KeyPrefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPredictionCache(t *testing.T) {
	c := setupRedis(t)
	cache := NewPredictionCache(c)
	ctx := context.Background()

	_, err := cache.Get(ctx, "m1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := domain.CachedPrediction{
		MarketID:   "m1",
		Prediction: domain.Prediction{Probability: 0.62, Confidence: 0.8},
		YesPrice:   0.5,
		ComputedAt: at,
	}
	require.NoError(t, cache.Set(ctx, entry, time.Minute))

	got, err := cache.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 0.62, got.Prediction.Probability)
	assert.True(t, got.ComputedAt.Equal(at))

	ttl, err := c.Underlying().TTL(ctx, "test:prediction:m1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, cache.Invalidate(ctx, "m1"))
	_, err = cache.Get(ctx, "m1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManager(t *testing.T) {
	c := setupRedis(t)
	locks := NewLockManager(c)
	ctx := context.Background()

	_, err := locks.Acquire(ctx, "session:live", 0)
	require.Error(t, err)

	unlock, err := locks.Acquire(ctx, "session:live", time.Second)
	require.NoError(t, err)

	_, err = locks.Acquire(ctx, "session:live", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	// Refreshed past the original TTL.
	time.Sleep(1500 * time.Millisecond)
	_, err = locks.Acquire(ctx, "session:live", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := locks.Acquire(ctx, "session:live", time.Second)
	require.NoError(t, err)
	again()
}

func TestSignalBus(t *testing.T) {
	c := setupRedis(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, "trading.*")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "trading.events", []byte(`{"type":"position_opened"}`)))

	select {
	case got := <-msgs:
		assert.JSONEq(t, `{"type":"position_opened"}`, string(got))
	case <-time.After(5 * time.Second):
		t.Fatal("no pub/sub message received")
	}

	empty, err := bus.StreamRead(ctx, "trading:events", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, bus.StreamAppend(ctx, "trading:events", []byte("one")))
	require.NoError(t, bus.StreamAppend(ctx, "trading:events", []byte("two")))

	all, err := bus.StreamRead(ctx, "trading:events", "0", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "one", string(all[0].Payload))

	rest, err := bus.StreamRead(ctx, "trading:events", all[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "two", string(rest[0].Payload))

	cancel()
	for range msgs {
	}
}
