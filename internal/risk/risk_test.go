package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/portfolio"
)

func snap(total float64) portfolio.Snapshot {
	return portfolio.Snapshot{InitialCapital: 10_000, Cash: total, TotalValue: total}
}

func withPositions(s portfolio.Snapshot, exposure float64, ids ...string) portfolio.Snapshot {
	s.TotalExposure = exposure
	s.Cash = s.TotalValue - exposure
	for _, id := range ids {
		s.Positions = append(s.Positions, domain.Position{MarketID: id, Size: exposure / float64(len(ids))})
	}
	return s
}

func testLimits() *Limits {
	return NewLimits(LimitsConfig{
		MaxPositionPct:   0.10,
		MaxTotalExposure: 0.50,
		MaxPositions:     3,
		MaxDailyLoss:     0.05,
	})
}

func TestCheckPositionLimit(t *testing.T) {
	l := testLimits()

	require.NoError(t, l.CheckPositionLimit(snap(10_000), 1000))

	err := l.CheckPositionLimit(snap(10_000), 1000.01)
	assert.Equal(t, domain.ReasonPositionTooLarge, domain.RiskReasonOf(err))
	assert.True(t, errors.Is(err, domain.ErrRiskLimitExceeded))

	s := withPositions(snap(10_000), 4500, "a", "b")
	err = l.CheckPositionLimit(s, 600)
	assert.Equal(t, domain.ReasonExposureLimit, domain.RiskReasonOf(err))

	s = withPositions(snap(10_000), 300, "a", "b", "c")
	err = l.CheckPositionLimit(s, 100)
	assert.Equal(t, domain.ReasonMaxPositions, domain.RiskReasonOf(err))
}

func TestCheckDailyLossLimit(t *testing.T) {
	l := testLimits()

	require.NoError(t, l.CheckDailyLossLimit(snap(9600), 10_000))
	err := l.CheckDailyLossLimit(snap(9400), 10_000)
	assert.Equal(t, domain.ReasonDailyLossLimit, domain.RiskReasonOf(err))
	require.NoError(t, l.CheckDailyLossLimit(snap(1), 0))
}

func TestCanOpenPosition(t *testing.T) {
	l := testLimits()
	signal := domain.TradingSignal{MarketID: "a"}

	s := withPositions(snap(10_000), 100, "a")
	assert.Equal(t, domain.ReasonPositionExists, domain.RiskReasonOf(l.CanOpenPosition(s, signal, 100)))

	assert.Equal(t, domain.ReasonPositionTooLarge, domain.RiskReasonOf(l.CanOpenPosition(snap(10_000), signal, 5000)))

	lowCash := snap(10_000)
	lowCash.Cash = 50
	assert.Equal(t, domain.ReasonInsufficientCash, domain.RiskReasonOf(l.CanOpenPosition(lowCash, signal, 100)))

	require.NoError(t, l.CanOpenPosition(snap(10_000), signal, 500))
}

func TestDrawdownMonitor(t *testing.T) {
	m := NewDrawdownMonitor()
	assert.Zero(t, m.CurrentDrawdown())
	assert.Zero(t, m.MaxDrawdown())

	m.Update(snap(1000))
	m.Update(snap(1200))
	got := m.Update(snap(900))
	assert.InDelta(t, 0.25, got.Drawdown, 1e-9)
	assert.Equal(t, 1200.0, got.PeakValue)

	m.Update(snap(1100))
	assert.Equal(t, 1200.0, m.Peak())
	assert.InDelta(t, 100.0/1200.0, m.CurrentDrawdown(), 1e-9)
	assert.InDelta(t, 0.25, m.MaxDrawdown(), 1e-9)
	assert.Len(t, m.History(), 4)
}

func TestDrawdownMonitorFirstValueIsPeak(t *testing.T) {
	m := NewDrawdownMonitor()
	got := m.Update(snap(800))
	assert.Equal(t, 800.0, got.PeakValue)
	assert.Zero(t, got.Drawdown)
}

type fakeClock struct{ t time.Time }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func states(ts []Transition) []State {
	out := make([]State, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.To)
	}
	return out
}

func losses(n int) []domain.Trade {
	out := make([]domain.Trade, n)
	for i := range out {
		out[i].PnL = -1
	}
	return out
}

func withTrades(s portfolio.Snapshot, trades []domain.Trade) portfolio.Snapshot {
	s.Trades = trades
	return s
}

func breakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxDrawdown:       0.15,
		MaxDailyLoss:      0.50,
		ConsecutiveLosses: 3,
		Cooldown:          60 * time.Minute,
	}
}

func TestBreakerTripsOnDrawdownAndRecovers(t *testing.T) {
	clk := newClock()
	b := NewBreaker(breakerConfig(), nil, WithBreakerClock(clk.now))

	assert.True(t, b.Check(snap(1000)))
	assert.Equal(t, StateClosed, b.State())

	assert.False(t, b.Check(snap(800)))
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, ReasonMaxDrawdown, b.Status().Reason)

	// Cooldown not elapsed.
	clk.advance(30 * time.Minute)
	assert.False(t, b.Check(snap(800)))
	assert.Len(t, b.Transitions(), 1)

	// Cooldown elapsed: HALF_OPEN first, then straight back to OPEN.
	clk.advance(31 * time.Minute)
	assert.False(t, b.Check(snap(800)))
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateOpen}, states(b.Transitions()))
	assert.Equal(t, clk.t, *b.Status().OpenedAt)

	// Value recovers after the next cooldown.
	clk.advance(60 * time.Minute)
	assert.True(t, b.Check(snap(1000)))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateOpen, StateHalfOpen, StateClosed}, states(b.Transitions()))
}

func TestBreakerHalfOpenAllowsTrading(t *testing.T) {
	clk := newClock()
	b := NewBreaker(breakerConfig(), nil, WithBreakerClock(clk.now))

	require.True(t, b.Check(snap(1000)))
	require.False(t, b.Check(snap(800)))

	clk.advance(time.Hour)
	// 10% drawdown sits between half the limit and the limit.
	assert.True(t, b.Check(snap(900)))
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerDailyLoss(t *testing.T) {
	cfg := breakerConfig()
	cfg.MaxDrawdown = 0.5
	cfg.MaxDailyLoss = 0.05
	b := NewBreaker(cfg, nil)

	require.True(t, b.Check(snap(1000)))
	assert.False(t, b.Check(snap(940)))
	assert.Equal(t, ReasonDailyLoss, b.Status().Reason)
}

func TestBreakerConsecutiveLosses(t *testing.T) {
	clk := newClock()
	b := NewBreaker(breakerConfig(), nil, WithBreakerClock(clk.now))

	assert.True(t, b.Check(withTrades(snap(1000), losses(2))))
	assert.Equal(t, 2, b.Status().ConsecutiveLosses)

	assert.False(t, b.Check(withTrades(snap(1000), losses(3))))
	assert.Equal(t, ReasonConsecutiveLosses, b.Status().Reason)
	assert.Equal(t, 3, b.Status().ConsecutiveLosses)

	// A daily reset moves to HALF_OPEN without waiting for the cooldown, but
	// the trailing trades still all lost, so the breaker opens again.
	b.ResetDaily()
	assert.Equal(t, StateHalfOpen, b.State())
	assert.Zero(t, b.Status().ConsecutiveLosses)
	assert.False(t, b.Check(withTrades(snap(1000), losses(3))))
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 3, b.Status().ConsecutiveLosses)
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed, StateOpen}, states(b.Transitions()))
}

func TestBreakerLossAfterRecoveryReopens(t *testing.T) {
	clk := newClock()
	b := NewBreaker(breakerConfig(), nil, WithBreakerClock(clk.now))

	require.False(t, b.Check(withTrades(snap(1000), losses(3))))

	// A win ends the streak, so once the cooldown passes the breaker closes.
	recovered := append(losses(3), domain.Trade{PnL: 5})
	clk.advance(time.Hour)
	require.True(t, b.Check(withTrades(snap(1000), recovered)))
	require.Equal(t, StateClosed, b.State())

	// Three more losses make the trailing three all losers again.
	clk.advance(time.Minute)
	assert.False(t, b.Check(withTrades(snap(1000), append(recovered, losses(3)...))))
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, ReasonConsecutiveLosses, b.Status().Reason)
}

func TestBreakerReopensWhileStreakContinues(t *testing.T) {
	clk := newClock()
	b := NewBreaker(breakerConfig(), nil, WithBreakerClock(clk.now))

	require.False(t, b.Check(withTrades(snap(1000), losses(3))))
	clk.advance(time.Hour)
	assert.False(t, b.Check(withTrades(snap(1000), losses(4))))
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 4, b.Status().ConsecutiveLosses)
}

func TestBreakerWinResetsLossRun(t *testing.T) {
	b := NewBreaker(breakerConfig(), nil)
	trades := []domain.Trade{{PnL: -1}, {PnL: -1}, {PnL: 2}, {PnL: -1}, {PnL: -1}}

	assert.True(t, b.Check(withTrades(snap(1000), trades)))
	assert.Equal(t, 2, b.Status().ConsecutiveLosses)
}

func TestBreakerResetDailyWhenClosed(t *testing.T) {
	cfg := breakerConfig()
	cfg.MaxDrawdown = 0.5
	cfg.MaxDailyLoss = 0.05
	b := NewBreaker(cfg, nil)

	require.True(t, b.Check(snap(1000)))
	b.ResetDaily()
	assert.Equal(t, StateClosed, b.State())
	// The new day's baseline is 940, so a 6% fall from yesterday is ignored.
	assert.True(t, b.Check(snap(940)))
	assert.Equal(t, 940.0, b.Status().InitialValue)
}

func TestBreakerOnTransitionHook(t *testing.T) {
	var got []Transition
	b := NewBreaker(breakerConfig(), nil, OnTransition(func(tr Transition) { got = append(got, tr) }))

	b.Check(snap(1000))
	b.Check(snap(700))
	require.Len(t, got, 1)
	assert.Equal(t, StateClosed, got[0].From)
	assert.Equal(t, StateOpen, got[0].To)
	assert.Equal(t, ReasonMaxDrawdown, got[0].Reason)
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, canTransition(StateClosed, StateOpen))
	assert.True(t, canTransition(StateOpen, StateHalfOpen))
	assert.True(t, canTransition(StateHalfOpen, StateClosed))
	assert.False(t, canTransition(StateOpen, StateClosed))
	assert.False(t, canTransition(StateClosed, StateHalfOpen))
}
