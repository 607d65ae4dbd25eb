package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrands/ai-ml-trading-bot/internal/platform/polymarket"
)

func TestPriceBookTracking(t *testing.T) {
	b := NewPriceBook()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	b.Track("m1", "tok-1")
	b.Track("m2", "tok-2")
	b.Track("", "tok-x")
	assert.Equal(t, []string{"tok-1", "tok-2"}, b.Assets())

	n := b.Apply(now,
		polymarket.PriceUpdate{AssetID: "tok-1", Price: 0.42},
		polymarket.PriceUpdate{AssetID: "tok-2", Price: 1.5},
		polymarket.PriceUpdate{AssetID: "other", Price: 0.3},
	)
	assert.Equal(t, 1, n)
	assert.Equal(t, map[string]float64{"m1": 0.42}, b.Prices())
	at, ok := b.UpdatedAt("m1")
	require.True(t, ok)
	assert.True(t, at.Equal(now))

	b.Track("m1", "tok-1b")
	assert.Equal(t, []string{"tok-1b", "tok-2"}, b.Assets())

	b.Untrack("m1")
	assert.Empty(t, b.Prices())
	assert.Equal(t, []string{"tok-2"}, b.Assets())
}

// marketServer is a fake market channel that records every frame it gets.
type marketServer struct {
	mu     sync.Mutex
	frames []string
	conns  int
	push   chan string
	drop   chan struct{}
}

func (s *marketServer) handler() http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.mu.Lock()
		s.conns++
		s.mu.Unlock()

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				s.mu.Lock()
				s.frames = append(s.frames, string(msg))
				s.mu.Unlock()
			}
		}()

		for {
			select {
			case frame := <-s.push:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			case <-s.drop:
				return
			case <-gone:
				return
			}
		}
	}
}

func (s *marketServer) snapshot() ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...), s.conns
}

func TestPriceFeedStreamsAndResubscribes(t *testing.T) {
	srv := &marketServer{push: make(chan string, 4), drop: make(chan struct{})}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	book := NewPriceBook()
	book.Track("m1", "tok-1")

	f := NewPriceFeed("ws"+strings.TrimPrefix(ts.URL, "http"), book,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithBackoff(10*time.Millisecond, 20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		frames, _ := srv.snapshot()
		return len(frames) == 1
	}, 5*time.Second, 10*time.Millisecond)
	frames, _ := srv.snapshot()
	var sub polymarket.WSSubscription
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &sub))
	assert.Equal(t, "market", sub.Type)
	assert.Equal(t, []string{"tok-1"}, sub.Assets)

	srv.push <- `[{"event_type":"last_trade_price","asset_id":"tok-1","price":"0.57"}]`
	require.Eventually(t, func() bool { return book.Prices()["m1"] == 0.57 }, 5*time.Second, 10*time.Millisecond)

	book.Track("m2", "tok-2")
	require.Eventually(t, func() bool {
		frames, _ := srv.snapshot()
		return len(frames) == 2
	}, 5*time.Second, 10*time.Millisecond)
	frames, _ = srv.snapshot()
	var upd polymarket.WSUpdate
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &upd))
	assert.Equal(t, "subscribe", upd.Operation)
	assert.Equal(t, []string{"tok-2"}, upd.Assets)

	// Server drops the connection; the feed reconnects and resubscribes to
	// the full set.
	srv.drop <- struct{}{}
	require.Eventually(t, func() bool {
		_, conns := srv.snapshot()
		return conns == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		frames, _ := srv.snapshot()
		return len(frames) == 3
	}, 5*time.Second, 10*time.Millisecond)
	frames, _ = srv.snapshot()
	require.NoError(t, json.Unmarshal([]byte(frames[2]), &sub))
	assert.Equal(t, []string{"tok-1", "tok-2"}, sub.Assets)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestPriceFeedIdlesWithoutAssets(t *testing.T) {
	f := NewPriceFeed("ws://127.0.0.1:1/unused", NewPriceBook(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.Run(ctx), context.DeadlineExceeded)
}
