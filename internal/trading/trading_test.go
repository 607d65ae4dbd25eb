package trading

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/exchange/paper"
	"github.com/iambrands/ai-ml-trading-bot/internal/executor"
	"github.com/iambrands/ai-ml-trading-bot/internal/portfolio"
	"github.com/iambrands/ai-ml-trading-bot/internal/risk"
	"github.com/iambrands/ai-ml-trading-bot/internal/signal"
	"github.com/iambrands/ai-ml-trading-bot/internal/sizing"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeMarkets struct {
	mu     sync.Mutex
	active []domain.Market
	byID   map[string]domain.Market
}

func (f *fakeMarkets) ActiveMarkets(context.Context, int) ([]domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Market(nil), f.active...), nil
}

func (f *fakeMarkets) Market(_ context.Context, id string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byID[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

type fakePredictor map[string]domain.Prediction

func (f fakePredictor) Predict(_ context.Context, m domain.Market, _ time.Time) (domain.Prediction, error) {
	p, ok := f[m.ID]
	if !ok {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return p, nil
}

type snapshotCounter struct {
	mu sync.Mutex
	n  int
}

func (s *snapshotCounter) RecordSnapshot(context.Context, portfolio.Snapshot) {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
}

func liveMarket(id string, yes float64) domain.Market {
	return domain.Market{ID: id, YesPrice: yes, NoPrice: 1 - yes, Volume24h: 5000, YesTokenID: "tok-" + id}
}

func limitsConfig() risk.LimitsConfig {
	return risk.LimitsConfig{MaxPositionPct: 0.10, MaxTotalExposure: 0.50, MaxPositions: 10, MaxDailyLoss: 0.10}
}

func newPipeline(p *portfolio.Portfolio, breaker *risk.Breaker) *Pipeline {
	gen := signal.NewGenerator(signal.Config{MinEdge: 0.05, MinConfidence: 0.6, MinLiquidity: 1000}, signal.DeterministicID, discard())
	sizer := sizing.NewPositionSizer(sizing.Config{KellyFraction: 0.25, MaxPositionPct: 0.10, MaxTotalExposure: 0.50})
	exec := executor.New(p, paper.New(discard()), discard())
	return NewPipeline(gen, sizer, risk.NewLimits(limitsConfig()), breaker, exec, discard())
}

func TestPipelineProcess(t *testing.T) {
	p := portfolio.New(10_000)
	pl := newPipeline(p, nil)
	ctx := context.Background()

	_, err := pl.Process(ctx, liveMarket("a", 0.5), domain.Prediction{Probability: 0.52, Confidence: 0.9}, t0)
	require.ErrorIs(t, err, ErrNoSignal)

	pos, err := pl.Process(ctx, liveMarket("a", 0.5), domain.Prediction{Probability: 0.7, Confidence: 0.9}, t0)
	require.NoError(t, err)
	assert.InDelta(t, 900, pos.Size, 1e-6)
	assert.Equal(t, "a@2024-03-01T12:00:00Z", pos.SignalID)

	// Second entry in the same market is rejected by the limits first.
	_, err = pl.Process(ctx, liveMarket("a", 0.5), domain.Prediction{Probability: 0.7, Confidence: 0.9}, t0.Add(time.Minute))
	assert.Equal(t, domain.ReasonPositionExists, domain.RiskReasonOf(err))
}

func TestPipelineZeroSize(t *testing.T) {
	p := portfolio.New(10_000)
	pl := newPipeline(p, nil)
	for i := 0; i < 5; i++ {
		_, err := p.AddPosition(domain.TradingSignal{MarketID: fmt.Sprintf("held-%d", i)}, 1000, 0.5)
		require.NoError(t, err)
	}

	_, err := pl.Process(context.Background(), liveMarket("a", 0.5), domain.Prediction{Probability: 0.7, Confidence: 0.9}, t0)
	require.ErrorIs(t, err, ErrZeroSize)
}

func TestPipelineCircuitOpen(t *testing.T) {
	p := portfolio.New(10_000)
	breaker := risk.NewBreaker(risk.BreakerConfig{MaxDrawdown: 0.01, MaxDailyLoss: 1, Cooldown: time.Hour}, nil)
	pl := newPipeline(p, breaker)
	ctx := context.Background()

	_, err := pl.Process(ctx, liveMarket("a", 0.5), domain.Prediction{Probability: 0.7, Confidence: 0.9}, t0)
	require.NoError(t, err)
	p.UpdatePositions(map[string]float64{"a": 0.3})

	_, err = pl.Process(ctx, liveMarket("b", 0.5), domain.Prediction{Probability: 0.7, Confidence: 0.9}, t0)
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.False(t, p.HasPosition("b"))
}

func newEngine(t *testing.T, markets *fakeMarkets, pred fakePredictor, breakerCfg risk.BreakerConfig, clock *time.Time, opts ...EngineOption) *Engine {
	t.Helper()
	p := portfolio.New(10_000)
	now := func() time.Time { return *clock }
	breaker := risk.NewBreaker(breakerCfg, nil, risk.WithBreakerClock(now))
	opts = append(opts, WithEngineClock(now))
	return NewEngine(EngineConfig{Interval: time.Minute, MarketLimit: 50, Workers: 4},
		markets, pred, newPipeline(p, nil), breaker, risk.NewLimits(limitsConfig()), discard(), opts...)
}

func relaxedBreaker() risk.BreakerConfig {
	return risk.BreakerConfig{MaxDrawdown: 0.5, MaxDailyLoss: 0.5, ConsecutiveLosses: 5, Cooldown: time.Hour}
}

func TestEngineCycleOpensAndSettles(t *testing.T) {
	markets := &fakeMarkets{
		active: []domain.Market{liveMarket("b", 0.5), liveMarket("a", 0.5), liveMarket("thin", 0.5)},
		byID:   map[string]domain.Market{},
	}
	markets.active[2].Volume24h = 10
	pred := fakePredictor{
		"a":    {Probability: 0.70, Confidence: 0.9},
		"b":    {Probability: 0.62, Confidence: 0.9},
		"thin": {Probability: 0.90, Confidence: 0.9},
	}
	clock := t0
	rec := &snapshotCounter{}
	e := newEngine(t, markets, pred, relaxedBreaker(), &clock, WithSnapshotRecorder(rec))
	ctx := context.Background()

	require.NoError(t, e.RunCycle(ctx))
	p := e.Portfolio()
	assert.Equal(t, 2, p.PositionCount())
	st := e.Status()
	assert.Equal(t, 2, st.SignalsLast)
	assert.Equal(t, 2, st.OpenedLast)
	assert.Equal(t, "2024-03-01", st.TradingDay)
	assert.Equal(t, 10_000.0, st.DayStartValue)

	// Market a resolves YES and drops out of the active list.
	res := t0.Add(time.Hour)
	resolved := liveMarket("a", 0.99)
	resolved.ResolutionDate = &res
	resolved.Outcome = domain.OutcomeYes
	markets.mu.Lock()
	markets.active = []domain.Market{liveMarket("b", 0.55)}
	markets.byID["a"] = resolved
	markets.mu.Unlock()

	clock = clock.Add(time.Minute)
	require.NoError(t, e.RunCycle(ctx))

	trades := p.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "a", trades[0].MarketID)
	assert.InDelta(t, 450*0.98, trades[0].PnL, 1e-6)
	b, ok := p.Position("b")
	require.True(t, ok)
	assert.Equal(t, 0.55, b.CurrentPrice)
	assert.Equal(t, 1, e.Status().ClosedLast)
	assert.Equal(t, 2, e.Status().Cycles)
	assert.Equal(t, 2, rec.n)
}

func TestEngineHaltsOnBreaker(t *testing.T) {
	markets := &fakeMarkets{active: []domain.Market{liveMarket("a", 0.5)}, byID: map[string]domain.Market{}}
	pred := fakePredictor{"a": {Probability: 0.7, Confidence: 0.9}, "b": {Probability: 0.7, Confidence: 0.9}}
	clock := t0
	cfg := relaxedBreaker()
	cfg.MaxDrawdown = 0.02
	e := newEngine(t, markets, pred, cfg, &clock)
	ctx := context.Background()

	require.NoError(t, e.RunCycle(ctx))
	require.True(t, e.Portfolio().HasPosition("a"))

	// a collapses: 900 * (0.1 - 0.5) = -360, a 3.6% drawdown.
	markets.mu.Lock()
	markets.active = []domain.Market{liveMarket("a", 0.1), liveMarket("b", 0.5)}
	markets.mu.Unlock()
	clock = clock.Add(time.Minute)
	require.NoError(t, e.RunCycle(ctx))

	st := e.Status()
	assert.True(t, st.Halted)
	assert.Contains(t, st.HaltReason, "OPEN")
	assert.False(t, e.Portfolio().HasPosition("b"))
	assert.Equal(t, risk.StateOpen, e.Breaker().State())

	// Next UTC day resets the breaker into probation.
	clock = t0.Add(24 * time.Hour)
	require.NoError(t, e.RunCycle(ctx))
	assert.Equal(t, "2024-03-02", e.Status().TradingDay)
	assert.Contains(t, statesOf(e.Breaker().Transitions()), risk.StateHalfOpen)
}

func TestEngineDayRollHookReadsStatus(t *testing.T) {
	markets := &fakeMarkets{active: []domain.Market{liveMarket("a", 0.5)}, byID: map[string]domain.Market{}}
	pred := fakePredictor{"a": {Probability: 0.7, Confidence: 0.9}}
	clock := t0
	now := func() time.Time { return clock }
	cfg := relaxedBreaker()
	cfg.MaxDrawdown = 0.02

	var (
		e    *Engine
		seen []string
	)
	hook := risk.OnTransition(func(tr risk.Transition) {
		seen = append(seen, e.Status().TradingDay)
	})
	breaker := risk.NewBreaker(cfg, nil, risk.WithBreakerClock(now), hook)
	e = NewEngine(EngineConfig{Interval: time.Minute, MarketLimit: 50, Workers: 1},
		markets, pred, newPipeline(portfolio.New(10_000), nil), breaker, risk.NewLimits(limitsConfig()), discard(),
		WithEngineClock(now))
	ctx := context.Background()

	require.NoError(t, e.RunCycle(ctx))
	markets.mu.Lock()
	markets.active = []domain.Market{liveMarket("a", 0.1)}
	markets.mu.Unlock()
	clock = clock.Add(time.Minute)
	require.NoError(t, e.RunCycle(ctx))
	require.Equal(t, risk.StateOpen, breaker.State())

	done := make(chan error, 1)
	clock = t0.Add(24 * time.Hour)
	go func() { done <- e.RunCycle(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("day roll blocked on a transition hook")
	}
	assert.Contains(t, statesOf(breaker.Transitions()), risk.StateHalfOpen)
	assert.NotEmpty(t, seen)
}

func statesOf(ts []risk.Transition) []risk.State {
	out := make([]risk.State, len(ts))
	for i, t := range ts {
		out[i] = t.To
	}
	return out
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	markets := &fakeMarkets{byID: map[string]domain.Market{}}
	clock := t0
	e := newEngine(t, markets, fakePredictor{}, relaxedBreaker(), &clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Status().Cycles >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
	assert.False(t, e.Status().Running)
}
