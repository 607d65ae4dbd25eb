// Package backtest replays resolved markets through the trading pipeline on a
// simulated clock and reports the resulting performance.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/exchange/paper"
	"github.com/iambrands/ai-ml-trading-bot/internal/executor"
	"github.com/iambrands/ai-ml-trading-bot/internal/metrics"
	"github.com/iambrands/ai-ml-trading-bot/internal/portfolio"
	"github.com/iambrands/ai-ml-trading-bot/internal/risk"
	"github.com/iambrands/ai-ml-trading-bot/internal/signal"
	"github.com/iambrands/ai-ml-trading-bot/internal/sizing"
	"github.com/iambrands/ai-ml-trading-bot/internal/trading"
)

// DefaultDaysBefore are the evaluation points, in days before resolution.
var DefaultDaysBefore = []int{14, 7, 3, 1}

// Config describes one backtest.
type Config struct {
	InitialCapital    float64
	StartDate         time.Time
	EndDate           time.Time
	DaysBefore        []int
	FeeRate           float64
	Signal            signal.Config
	Sizing            sizing.Config
	Limits            risk.LimitsConfig
	EnforceRiskLimits bool
}

// Result is the outcome of a backtest.
type Result struct {
	RunID            string             `json:"run_id"`
	Portfolio        portfolio.Snapshot `json:"portfolio"`
	Metrics          metrics.Metrics    `json:"metrics"`
	StartDate        time.Time          `json:"start_date"`
	EndDate          time.Time          `json:"end_date"`
	MarketsEvaluated int                `json:"markets_evaluated"`
	TimePoints       int                `json:"time_points"`
	Errors           int                `json:"errors"`
}

// Run converts the result into its persisted summary.
func (r *Result) Run(reportPath string, createdAt time.Time) domain.BacktestRun {
	return domain.BacktestRun{
		ID:               r.RunID,
		StartDate:        r.StartDate,
		EndDate:          r.EndDate,
		InitialCapital:   r.Metrics.InitialCapital,
		FinalValue:       r.Metrics.FinalValue,
		TotalReturn:      r.Metrics.TotalReturn,
		AnnualizedReturn: r.Metrics.AnnualizedReturn,
		SharpeRatio:      r.Metrics.SharpeRatio,
		WinRate:          r.Metrics.WinRate,
		ProfitFactor:     r.Metrics.ProfitFactor,
		MaxDrawdown:      r.Metrics.MaxDrawdown,
		TradeCount:       r.Metrics.TotalTrades,
		ReportPath:       reportPath,
		CreatedAt:        createdAt,
	}
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithRunID overrides the run ID generator.
func WithRunID(fn func() string) Option {
	return func(s *Simulator) { s.newRunID = fn }
}

// WithRecorder journals the simulated trades as they happen.
func WithRecorder(r executor.TradeRecorder) Option {
	return func(s *Simulator) { s.recorder = r }
}

// Simulator runs backtests. Each Run starts from a fresh portfolio, so a
// Simulator can be reused.
type Simulator struct {
	cfg       Config
	source    domain.ResolvedMarketSource
	predictor domain.Predictor
	recorder  executor.TradeRecorder
	newRunID  func() string
	logger    *slog.Logger
}

// NewSimulator creates a Simulator.
func NewSimulator(cfg Config, source domain.ResolvedMarketSource, predictor domain.Predictor, logger *slog.Logger, opts ...Option) *Simulator {
	if len(cfg.DaysBefore) == 0 {
		cfg.DaysBefore = DefaultDaysBefore
	}
	s := &Simulator{
		cfg:       cfg,
		source:    source,
		predictor: predictor,
		newRunID:  newULID,
		logger:    logger.With(slog.String("component", "backtest")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newULID returns a time-sortable run ID.
func newULID() string { return ulid.Make().String() }

// Run replays every resolved market in the configured window. Failures at a
// single market or time-point are logged and counted, never fatal; only a
// source failure or ctx cancellation aborts the run.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	start, end := s.cfg.StartDate, s.cfg.EndDate
	if end.Before(start) {
		return nil, fmt.Errorf("backtest: end date %s before start date %s",
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	if s.cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("backtest: initial capital must be positive, got %v", s.cfg.InitialCapital)
	}

	markets, err := s.source.ResolvedMarkets(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("backtest: fetch resolved markets: %w", err)
	}
	sort.SliceStable(markets, func(i, j int) bool {
		return resolutionOf(markets[i]).Before(resolutionOf(markets[j]))
	})

	clock := &simClock{at: start}
	p := portfolio.New(s.cfg.InitialCapital, portfolio.WithClock(clock.Now))
	opts := []executor.Option{executor.WithFeeRate(s.cfg.FeeRate), executor.WithDedupTTL(0)}
	if s.recorder != nil {
		opts = append(opts, executor.WithRecorder(s.recorder))
	}
	exec := executor.New(p, paper.New(s.logger, paper.WithClock(clock.Now)), s.logger, opts...)

	var limits *risk.Limits
	if s.cfg.EnforceRiskLimits {
		limits = risk.NewLimits(s.cfg.Limits)
	}
	pipeline := trading.NewPipeline(
		signal.NewGenerator(s.cfg.Signal, signal.DeterministicID, s.logger),
		sizing.NewPositionSizer(s.cfg.Sizing),
		limits,
		nil,
		exec,
		s.logger,
	)

	res := &Result{RunID: s.newRunID(), StartDate: start, EndDate: end}
	s.logger.InfoContext(ctx, "backtest started",
		slog.String("run_id", res.RunID),
		slog.String("start", start.Format(time.DateOnly)),
		slog.String("end", end.Format(time.DateOnly)),
		slog.Int("markets", len(markets)),
	)

	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest: %w", err)
		}
		if !m.Resolved() {
			continue
		}
		res.MarketsEvaluated++
		s.replay(ctx, pipeline, clock, m, res)
		s.settle(ctx, exec, clock, m, res)
	}

	clock.Set(end)
	res.Portfolio = p.Snapshot()
	res.Metrics = metrics.FromSnapshot(res.Portfolio, start, end)

	s.logger.InfoContext(ctx, "backtest finished",
		slog.String("run_id", res.RunID),
		slog.Int("markets", res.MarketsEvaluated),
		slog.Int("time_points", res.TimePoints),
		slog.Int("trades", res.Metrics.TotalTrades),
		slog.Float64("total_return", res.Metrics.TotalReturn),
		slog.Int("errors", res.Errors),
	)
	return res, nil
}

// replay evaluates m at each configured time-point, using the market's
// current price as the stand-in for the historical one.
func (s *Simulator) replay(ctx context.Context, pipeline *trading.Pipeline, clock *simClock, m domain.Market, res *Result) {
	for _, days := range s.cfg.DaysBefore {
		at := m.ResolutionDate.AddDate(0, 0, -days)
		if at.Before(s.cfg.StartDate) || at.After(s.cfg.EndDate) {
			continue
		}
		if !m.CreatedAt.IsZero() && at.Before(m.CreatedAt) {
			continue
		}
		clock.Set(at)
		res.TimePoints++

		log := s.logger.With(slog.String("market_id", m.ID), slog.Int("days_before", days))

		pred, err := s.predictor.Predict(ctx, m, at)
		if err != nil {
			res.Errors++
			log.WarnContext(ctx, "prediction failed", slog.String("error", err.Error()))
			continue
		}

		pos, err := pipeline.Process(ctx, m, pred, at)
		switch {
		case err == nil:
			log.DebugContext(ctx, "position opened",
				slog.String("side", string(pos.Side)),
				slog.Float64("size", pos.Size),
				slog.Float64("price", pos.EntryPrice),
			)
		case skipped(err):
			log.DebugContext(ctx, "time-point skipped", slog.String("reason", err.Error()))
		default:
			res.Errors++
			log.WarnContext(ctx, "time-point failed", slog.String("error", err.Error()))
		}
	}
}

// settle closes any position left in m at its resolution price.
func (s *Simulator) settle(ctx context.Context, exec *executor.Executor, clock *simClock, m domain.Market, res *Result) {
	if !exec.Portfolio().HasPosition(m.ID) {
		return
	}
	clock.Set(*m.ResolutionDate)
	trade, err := exec.ClosePosition(ctx, m.ID, m.SettlementPrice())
	if err != nil {
		res.Errors++
		s.logger.WarnContext(ctx, "settlement failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.DebugContext(ctx, "position settled",
		slog.String("market_id", m.ID),
		slog.String("outcome", string(m.Outcome)),
		slog.Float64("pnl", trade.PnL),
	)
}

// skipped reports whether err is an expected non-trade rather than a failure.
func skipped(err error) bool {
	return errors.Is(err, trading.ErrNoSignal) ||
		errors.Is(err, trading.ErrZeroSize) ||
		errors.Is(err, domain.ErrDuplicatePosition) ||
		errors.Is(err, domain.ErrRiskLimitExceeded) ||
		errors.Is(err, domain.ErrInsufficientCash)
}

func resolutionOf(m domain.Market) time.Time {
	if m.ResolutionDate == nil {
		return time.Time{}
	}
	return *m.ResolutionDate
}

type simClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *simClock) Set(t time.Time) {
	c.mu.Lock()
	c.at = t
	c.mu.Unlock()
}
