package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/portfolio"
	"github.com/iambrands/ai-ml-trading-bot/internal/risk"
	"github.com/iambrands/ai-ml-trading-bot/internal/signal"
)

// PriceStream supplies streamed YES prices for tracked markets.
type PriceStream interface {
	Track(marketID, yesTokenID string)
	Untrack(marketID string)
	Prices() map[string]float64
}

// SnapshotRecorder persists a portfolio snapshot after each cycle.
type SnapshotRecorder interface {
	RecordSnapshot(ctx context.Context, snap portfolio.Snapshot)
}

// EngineConfig tunes the live loop.
type EngineConfig struct {
	Interval    time.Duration
	MarketLimit int
	Workers     int
}

// EngineStatus is a read-only view of the engine for the API.
type EngineStatus struct {
	Running       bool      `json:"running"`
	Cycles        int       `json:"cycles"`
	LastCycleAt   time.Time `json:"last_cycle_at"`
	LastError     string    `json:"last_error,omitempty"`
	TradingDay    string    `json:"trading_day"`
	DayStartValue float64   `json:"day_start_value"`
	Halted        bool      `json:"halted"`
	HaltReason    string    `json:"halt_reason,omitempty"`
	MarketsSeen   int       `json:"markets_seen"`
	SignalsLast   int       `json:"signals_last_cycle"`
	OpenedLast    int       `json:"opened_last_cycle"`
	ClosedLast    int       `json:"closed_last_cycle"`
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithPriceStream attaches a streaming price source.
func WithPriceStream(s PriceStream) EngineOption {
	return func(e *Engine) { e.stream = s }
}

// WithSnapshotRecorder attaches a snapshot recorder.
func WithSnapshotRecorder(r SnapshotRecorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithEngineClock overrides the engine's time source.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// Engine is the live trading loop.
type Engine struct {
	cfg       EngineConfig
	markets   domain.MarketProvider
	predictor domain.Predictor
	pipeline  *Pipeline
	breaker   *risk.Breaker
	limits    *risk.Limits
	stream    PriceStream
	recorder  SnapshotRecorder
	now       func() time.Time
	logger    *slog.Logger

	mu            sync.RWMutex
	status        EngineStatus
	day           time.Time
	dayStartValue float64
}

// NewEngine creates the live engine. breaker and limits are required for
// live trading; the pipeline itself is built without a breaker because the
// engine gates a whole cycle at once.
func NewEngine(
	cfg EngineConfig,
	markets domain.MarketProvider,
	predictor domain.Predictor,
	pipeline *Pipeline,
	breaker *risk.Breaker,
	limits *risk.Limits,
	logger *slog.Logger,
	opts ...EngineOption,
) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	e := &Engine{
		cfg:       cfg,
		markets:   markets,
		predictor: predictor,
		pipeline:  pipeline,
		breaker:   breaker,
		limits:    limits,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Portfolio returns the traded portfolio.
func (e *Engine) Portfolio() *portfolio.Portfolio { return e.pipeline.Executor().Portfolio() }

// Breaker returns the circuit breaker.
func (e *Engine) Breaker() *risk.Breaker { return e.breaker }

// Status returns a copy of the engine status.
func (e *Engine) Status() EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Run executes a cycle immediately and then every Interval until ctx is
// cancelled. A failed cycle is logged and the loop continues.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine started",
		slog.Duration("interval", e.cfg.Interval),
		slog.Int("workers", e.cfg.Workers),
	)
	e.setRunning(true)
	defer func() {
		e.setRunning(false)
		e.logger.Info("engine stopped")
	}()

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := e.RunCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			e.logger.ErrorContext(ctx, "cycle failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle performs one pass over the active markets.
func (e *Engine) RunCycle(ctx context.Context) error {
	now := e.now()
	status := EngineStatus{}
	defer func() { e.finishCycle(now, status) }()

	markets, err := e.markets.ActiveMarkets(ctx, e.cfg.MarketLimit)
	if err != nil {
		status.LastError = err.Error()
		return fmt.Errorf("trading: fetch markets: %w", err)
	}
	status.MarketsSeen = len(markets)

	byID := make(map[string]domain.Market, len(markets))
	for _, m := range markets {
		byID[m.ID] = m
	}

	e.markPositions(ctx, byID)
	status.ClosedLast = e.settle(ctx, byID)
	e.rollDay(now)

	snap := e.Portfolio().Snapshot()
	if halted, reason := e.gate(snap); halted {
		status.Halted = true
		status.HaltReason = reason
		e.logger.WarnContext(ctx, "new entries halted", slog.String("reason", reason))
		e.record(ctx)
		return nil
	}

	signals := e.collectSignals(ctx, markets, now)
	signals = e.pipeline.Generator().FilterSignals(signals)
	signals = signal.RankSignals(signals)
	status.SignalsLast = len(signals)

	for _, sig := range signals {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m := byID[sig.MarketID]
		pos, err := e.pipeline.Execute(ctx, sig, m.YesPrice)
		if err != nil {
			e.logger.InfoContext(ctx, "signal not executed",
				slog.String("market_id", sig.MarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		status.OpenedLast++
		if e.stream != nil && m.YesTokenID != "" {
			e.stream.Track(pos.MarketID, m.YesTokenID)
		}
	}

	e.pipeline.Executor().Cleanup()
	e.record(ctx)
	return nil
}

// markPositions marks open positions to the freshest price available: the
// stream when it has one, the market snapshot otherwise.
func (e *Engine) markPositions(ctx context.Context, byID map[string]domain.Market) {
	prices := make(map[string]float64)
	for _, pos := range e.Portfolio().Positions() {
		if m, ok := byID[pos.MarketID]; ok {
			prices[pos.MarketID] = m.YesPrice
		}
	}
	if e.stream != nil {
		for id, p := range e.stream.Prices() {
			prices[id] = p
		}
	}
	e.Portfolio().UpdatePositions(prices)
	e.logger.DebugContext(ctx, "positions marked", slog.Int("prices", len(prices)))
}

// settle closes held positions whose markets have resolved. Markets missing
// from the active list are looked up individually.
func (e *Engine) settle(ctx context.Context, byID map[string]domain.Market) int {
	closed := 0
	for _, pos := range e.Portfolio().Positions() {
		m, ok := byID[pos.MarketID]
		if !ok {
			var err error
			m, err = e.markets.Market(ctx, pos.MarketID)
			if err != nil {
				e.logger.WarnContext(ctx, "lookup held market failed",
					slog.String("market_id", pos.MarketID),
					slog.String("error", err.Error()),
				)
				continue
			}
		}
		if !m.Resolved() {
			continue
		}
		if _, err := e.pipeline.Executor().ClosePosition(ctx, m.ID, m.SettlementPrice()); err != nil {
			e.logger.ErrorContext(ctx, "settlement failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		closed++
		if e.stream != nil {
			e.stream.Untrack(m.ID)
		}
	}
	return closed
}

// rollDay starts a new trading day at UTC midnight.
func (e *Engine) rollDay(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	start := e.Portfolio().TotalValue()
	e.mu.Lock()
	if day.Equal(e.day) {
		e.mu.Unlock()
		return
	}
	rolled := !e.day.IsZero()
	e.day = day
	e.dayStartValue = start
	e.mu.Unlock()

	// Breaker hooks may read engine status, so the reset runs unlocked.
	if rolled {
		e.breaker.ResetDaily()
	}
	e.logger.Info("trading day started",
		slog.String("day", day.Format(time.DateOnly)),
		slog.Float64("start_value", start),
	)
}

func (e *Engine) gate(snap portfolio.Snapshot) (bool, string) {
	if !e.breaker.Check(snap) {
		return true, "circuit breaker " + string(e.breaker.State())
	}
	e.mu.RLock()
	dayStart := e.dayStartValue
	e.mu.RUnlock()
	if err := e.limits.CheckDailyLossLimit(snap, dayStart); err != nil {
		return true, err.Error()
	}
	return false, ""
}

// collectSignals predicts and evaluates every untraded market concurrently.
// Results keep the input market order.
func (e *Engine) collectSignals(ctx context.Context, markets []domain.Market, now time.Time) []domain.TradingSignal {
	p := e.Portfolio()
	results := make([]*domain.TradingSignal, len(markets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, m := range markets {
		if m.Closed || m.Resolved() || p.HasPosition(m.ID) {
			continue
		}
		g.Go(func() error {
			pred, err := e.predictor.Predict(gctx, m, now)
			if err != nil {
				e.logger.WarnContext(gctx, "prediction failed",
					slog.String("market_id", m.ID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if sig, ok := e.pipeline.Generator().GenerateSignal(gctx, m, pred, now); ok {
				results[i] = &sig
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.TradingSignal, 0, len(markets))
	for _, s := range results {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func (e *Engine) record(ctx context.Context) {
	if e.recorder != nil {
		e.recorder.RecordSnapshot(ctx, e.Portfolio().Snapshot())
	}
}

func (e *Engine) setRunning(v bool) {
	e.mu.Lock()
	e.status.Running = v
	e.mu.Unlock()
}

func (e *Engine) finishCycle(at time.Time, cycle EngineStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Cycles++
	e.status.LastCycleAt = at
	e.status.LastError = cycle.LastError
	e.status.Halted = cycle.Halted
	e.status.HaltReason = cycle.HaltReason
	e.status.MarketsSeen = cycle.MarketsSeen
	e.status.SignalsLast = cycle.SignalsLast
	e.status.OpenedLast = cycle.OpenedLast
	e.status.ClosedLast = cycle.ClosedLast
	e.status.DayStartValue = e.dayStartValue
	if !e.day.IsZero() {
		e.status.TradingDay = e.day.Format(time.DateOnly)
	}
}
