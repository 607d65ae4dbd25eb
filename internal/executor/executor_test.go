package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/portfolio"
)

type placed struct {
	marketID string
	side     domain.Side
	size     float64
	price    float64
}

type fakeExchange struct {
	mu     sync.Mutex
	calls  []placed
	accept bool
	err    error
}

func (f *fakeExchange) PlaceOrder(_ context.Context, marketID string, side domain.Side, size, price float64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, placed{marketID, side, size, price})
	return f.accept, f.err
}

type recorder struct {
	opened []domain.Position
	closed []domain.Trade
}

func (r *recorder) PositionOpened(_ context.Context, p domain.Position) { r.opened = append(r.opened, p) }
func (r *recorder) PositionClosed(_ context.Context, t domain.Trade)    { r.closed = append(r.closed, t) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func signal(id, market string, side domain.Side) domain.TradingSignal {
	return domain.TradingSignal{ID: id, MarketID: market, Side: side}
}

func TestExecuteSignalOpensPosition(t *testing.T) {
	ex := &fakeExchange{accept: true}
	rec := &recorder{}
	p := portfolio.New(1000)
	e := New(p, ex, discard(), WithRecorder(rec))

	pos, err := e.ExecuteSignal(context.Background(), signal("s1", "m1", domain.SideYes), 100, 0.4)
	require.NoError(t, err)
	assert.Equal(t, 0.4, pos.EntryPrice)
	assert.Equal(t, 900.0, p.Cash())
	require.Len(t, ex.calls, 1)
	assert.Equal(t, placed{"m1", domain.SideYes, 100, 0.4}, ex.calls[0])
	assert.Len(t, rec.opened, 1)
}

func TestExecuteSignalNoSideUsesNoPrice(t *testing.T) {
	ex := &fakeExchange{accept: true}
	e := New(portfolio.New(1000), ex, discard())

	_, err := e.ExecuteSignal(context.Background(), signal("s1", "m1", domain.SideNo), 100, 0.75)
	require.NoError(t, err)
	require.Len(t, ex.calls, 1)
	assert.InDelta(t, 0.25, ex.calls[0].price, 1e-12)
}

func TestExecuteSignalRejections(t *testing.T) {
	ex := &fakeExchange{accept: true}
	p := portfolio.New(150)
	e := New(p, ex, discard())
	ctx := context.Background()

	_, err := e.ExecuteSignal(ctx, signal("s1", "m1", domain.SideYes), 100, 0.5)
	require.NoError(t, err)

	_, err = e.ExecuteSignal(ctx, signal("s2", "m1", domain.SideYes), 10, 0.5)
	require.ErrorIs(t, err, domain.ErrDuplicatePosition)

	_, err = e.ExecuteSignal(ctx, signal("s3", "m2", domain.SideYes), 60, 0.5)
	require.ErrorIs(t, err, domain.ErrInsufficientCash)

	_, err = e.ExecuteSignal(ctx, signal("s4", "m3", domain.SideYes), 10, 1.5)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)

	// None of the rejected attempts reached the exchange.
	assert.Len(t, ex.calls, 1)
	assert.Equal(t, 50.0, p.Cash())
}

func TestExecuteSignalDeduplicates(t *testing.T) {
	ex := &fakeExchange{accept: true}
	p := portfolio.New(1000)
	e := New(p, ex, discard())
	ctx := context.Background()

	_, err := e.ExecuteSignal(ctx, signal("s1", "m1", domain.SideYes), 100, 0.5)
	require.NoError(t, err)
	_, err = p.ClosePosition("m1", 0.5, 0)
	require.NoError(t, err)

	_, err = e.ExecuteSignal(ctx, signal("s1", "m1", domain.SideYes), 100, 0.5)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Len(t, ex.calls, 1)
}

func TestExecuteSignalExchangeFailureLeavesPortfolio(t *testing.T) {
	boom := errors.New("timeout")
	for name, ex := range map[string]*fakeExchange{
		"rejected": {accept: false},
		"error":    {err: boom},
	} {
		t.Run(name, func(t *testing.T) {
			p := portfolio.New(1000)
			e := New(p, ex, discard())

			_, err := e.ExecuteSignal(context.Background(), signal("s1", "m1", domain.SideYes), 100, 0.5)
			require.ErrorIs(t, err, domain.ErrExchangeRejected)
			if ex.err != nil {
				require.ErrorIs(t, err, boom)
			}
			assert.Equal(t, 1000.0, p.Cash())
			assert.False(t, p.HasPosition("m1"))
			// No retry.
			assert.Len(t, ex.calls, 1)
		})
	}
}

func TestClosePosition(t *testing.T) {
	ex := &fakeExchange{accept: true}
	rec := &recorder{}
	p := portfolio.New(1000)
	e := New(p, ex, discard(), WithRecorder(rec))
	ctx := context.Background()

	_, err := e.ExecuteSignal(ctx, signal("s1", "m1", domain.SideYes), 100, 0.5)
	require.NoError(t, err)

	trade, err := e.ClosePosition(ctx, "m1", 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 49, trade.PnL, 1e-9)
	assert.InDelta(t, 1049, p.Cash(), 1e-9)

	// Exit goes out on the NO side at the NO price.
	require.Len(t, ex.calls, 2)
	assert.Equal(t, placed{"m1", domain.SideNo, 100, 0}, ex.calls[1])
	assert.Len(t, rec.closed, 1)
}

func TestClosePositionMissing(t *testing.T) {
	ex := &fakeExchange{accept: true}
	p := portfolio.New(1000)
	e := New(p, ex, discard())

	_, err := e.ClosePosition(context.Background(), "nope", 1)
	require.ErrorIs(t, err, domain.ErrPositionNotFound)
	assert.Empty(t, ex.calls)
	assert.Equal(t, 1000.0, p.Cash())
}

func TestClosePositionExchangeFailure(t *testing.T) {
	ex := &fakeExchange{accept: true}
	p := portfolio.New(1000)
	e := New(p, ex, discard())
	ctx := context.Background()

	_, err := e.ExecuteSignal(ctx, signal("s1", "m1", domain.SideYes), 100, 0.5)
	require.NoError(t, err)

	ex.accept = false
	_, err = e.ClosePosition(ctx, "m1", 0.9)
	require.ErrorIs(t, err, domain.ErrExchangeRejected)
	assert.True(t, p.HasPosition("m1"))
	assert.Equal(t, 900.0, p.Cash())
}

func TestInflightGuard(t *testing.T) {
	e := New(portfolio.New(1000), &fakeExchange{accept: true}, discard())

	release, ok := e.acquire("m1")
	require.True(t, ok)
	_, ok = e.acquire("m1")
	assert.False(t, ok)

	_, err := e.ExecuteSignal(context.Background(), signal("s1", "m1", domain.SideYes), 10, 0.5)
	require.ErrorIs(t, err, domain.ErrDuplicatePosition)

	release()
	_, ok = e.acquire("m1")
	assert.True(t, ok)
}

func TestDedupTTL(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Zero(t, d.Len())
	assert.False(t, d.IsDuplicate("a"))
}

func TestDedupZeroTTLNeverExpires(t *testing.T) {
	d := NewDedup(0)
	assert.False(t, d.IsDuplicate("a"))
	d.Cleanup()
	assert.True(t, d.IsDuplicate("a"))
}
