package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/iambrands/ai-ml-trading-bot/internal/backtest"
	"github.com/iambrands/ai-ml-trading-bot/internal/config"
	"github.com/iambrands/ai-ml-trading-bot/internal/dataset"
	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/exchange/paper"
	"github.com/iambrands/ai-ml-trading-bot/internal/executor"
	"github.com/iambrands/ai-ml-trading-bot/internal/feed"
	"github.com/iambrands/ai-ml-trading-bot/internal/platform/polymarket"
	"github.com/iambrands/ai-ml-trading-bot/internal/portfolio"
	"github.com/iambrands/ai-ml-trading-bot/internal/risk"
	"github.com/iambrands/ai-ml-trading-bot/internal/server"
	"github.com/iambrands/ai-ml-trading-bot/internal/server/handler"
	"github.com/iambrands/ai-ml-trading-bot/internal/server/ws"
	"github.com/iambrands/ai-ml-trading-bot/internal/service"
	"github.com/iambrands/ai-ml-trading-bot/internal/signal"
	"github.com/iambrands/ai-ml-trading-bot/internal/sizing"
	"github.com/iambrands/ai-ml-trading-bot/internal/trading"
)

// liveLockKey is held for the lifetime of a live session so two processes
// never trade the same portfolio.
func liveLockKey(session string) string { return "session:" + session }

// journalSinks maps the wired backends onto journal sinks. A notifier without
// senders is left out so the journal sees a nil interface.
func journalSinks(deps *Dependencies) service.JournalSinks {
	sinks := service.JournalSinks{
		Trades:    deps.Trades,
		Snapshots: deps.Snapshots,
		Audit:     deps.Audit,
		Bus:       deps.Bus,
	}
	if deps.Notifier.Enabled() {
		sinks.Notifier = deps.Notifier
	}
	return sinks
}

// LiveMode runs the paper-trading engine, the websocket price feed and the
// HTTP API until ctx is cancelled or one of them fails.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	session := a.cfg.Live.SessionID
	a.logger.InfoContext(ctx, "starting live mode", slog.String("session", session))

	if deps.Locks != nil {
		unlock, err := deps.Locks.Acquire(ctx, liveLockKey(session), a.cfg.Live.LockTTL.Duration)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: live session %q is already running elsewhere: %w", session, err)
			}
			return fmt.Errorf("app: acquire session lock: %w", err)
		}
		defer unlock()
	}

	predictor, err := buildPredictor(a.cfg.Model, deps.Predictions, a.logger)
	if err != nil {
		return err
	}

	journal := service.NewJournalService(session, journalSinks(deps), a.logger)
	engine, book := a.buildEngine(deps.Markets, predictor, journal)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(ctx)
	})

	if book != nil {
		url := strings.TrimRight(a.cfg.Polymarket.WsHost, "/") + polymarket.MarketChannelPath
		priceFeed := feed.NewPriceFeed(url, book, a.logger)
		g.Go(func() error {
			return priceFeed.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		var hub *ws.Hub
		if deps.Bus != nil {
			hub = ws.NewHub(deps.Bus, ws.Config{
				Channel:   service.EventsChannel,
				Mode:      "live",
				StartedAt: time.Now().UTC(),
			}, a.logger)
			g.Go(func() error {
				return hub.Run(ctx)
			})
		}
		srv := server.NewServer(a.serverConfig(), a.liveHandlers(engine, deps, journal), hub, a.logger)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		a.logger.Info("live mode stopped",
			slog.Int("cycles", engine.Status().Cycles),
			slog.Float64("total_value", engine.Portfolio().TotalValue()),
		)
	}
	return err
}

// buildEngine assembles the live trading stack around a fresh paper
// portfolio. The returned price book is nil when price streaming is off.
func (a *App) buildEngine(markets domain.MarketProvider, predictor domain.Predictor, journal *service.JournalService) (*trading.Engine, *feed.PriceBook) {
	tc := a.cfg.Trading

	pf := portfolio.New(a.cfg.Live.InitialCapital)
	exec := executor.New(pf, paper.New(a.logger), a.logger,
		executor.WithRecorder(journal),
		executor.WithFeeRate(tc.FeeRate),
	)
	generator := signal.NewGenerator(signalConfig(tc), signal.RandomID, a.logger)
	sizer := sizing.NewPositionSizer(sizingConfig(tc))
	limits := risk.NewLimits(limitsConfig(tc))
	breaker := risk.NewBreaker(risk.BreakerConfig{
		MaxDrawdown:       tc.MaxDrawdown,
		MaxDailyLoss:      tc.MaxDailyLoss,
		ConsecutiveLosses: tc.ConsecutiveLossesLimit,
		Cooldown:          tc.Cooldown(),
	}, risk.NewDrawdownMonitor(), risk.OnTransition(journal.BreakerTransition))

	pipeline := trading.NewPipeline(generator, sizer, limits, nil, exec, a.logger)

	opts := []trading.EngineOption{trading.WithSnapshotRecorder(journal)}
	var book *feed.PriceBook
	if a.cfg.Live.StreamPrices && a.cfg.Polymarket.WsHost != "" {
		book = feed.NewPriceBook()
		opts = append(opts, trading.WithPriceStream(book))
	}

	engine := trading.NewEngine(trading.EngineConfig{
		Interval:    a.cfg.Live.Interval.Duration,
		MarketLimit: a.cfg.Live.MarketLimit,
		Workers:     a.cfg.Live.Workers,
	}, markets, predictor, pipeline, breaker, limits, a.logger, opts...)
	return engine, book
}

func (a *App) serverConfig() server.Config {
	return server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateBurst:   a.cfg.Server.RateBurst,
	}
}

func (a *App) liveHandlers(engine *trading.Engine, deps *Dependencies, journal *service.JournalService) server.Handlers {
	var trades handler.TradeLister
	if deps.Trades != nil {
		trades = deps.Trades
	}
	h := server.Handlers{
		Health:    handler.NewHealthHandler("live", engine, a.logger),
		Portfolio: handler.NewPortfolioHandler(engine.Portfolio(), time.Now().UTC(), a.logger),
		Trades:    handler.NewTradeHandler(trades, journal.Session(), engine.Portfolio(), a.logger),
		Breaker:   handler.NewBreakerHandler(engine.Breaker()),
	}
	if deps.Bus != nil {
		h.Events = handler.NewEventHandler(journal, a.logger)
	}
	return h
}

// BacktestMode replays the configured window, prints the report, archives it
// when S3 is enabled and records the run summary.
func (a *App) BacktestMode(ctx context.Context, deps *Dependencies) (*backtest.Result, error) {
	bc := a.cfg.Backtest
	start, err := bc.Start()
	if err != nil {
		return nil, fmt.Errorf("app: backtest start_date: %w", err)
	}
	end, err := bc.End()
	if err != nil {
		return nil, fmt.Errorf("app: backtest end_date: %w", err)
	}

	source, predictor, err := a.backtestInputs(deps)
	if err != nil {
		return nil, err
	}

	runID := ulid.Make().String()
	journal := service.NewJournalService(runID, journalSinks(deps), a.logger)

	tc := a.cfg.Trading
	sim := backtest.NewSimulator(backtest.Config{
		InitialCapital:    bc.InitialCapital,
		StartDate:         start,
		EndDate:           end,
		DaysBefore:        bc.DaysBefore,
		FeeRate:           tc.FeeRate,
		Signal:            signalConfig(tc),
		Sizing:            sizingConfig(tc),
		Limits:            limitsConfig(tc),
		EnforceRiskLimits: bc.EnforceRiskLimits,
	}, source, predictor, a.logger,
		backtest.WithRunID(func() string { return runID }),
		backtest.WithRecorder(journal),
	)

	a.logger.InfoContext(ctx, "starting backtest",
		slog.String("run_id", runID),
		slog.String("source", bc.Source),
		slog.String("predictor", bc.Predictor),
		slog.Time("start", start),
		slog.Time("end", end),
	)

	res, err := sim.Run(ctx)
	if err != nil {
		journal.ReportError(ctx, "Backtest "+runID+" failed", err)
		return nil, fmt.Errorf("app: backtest: %w", err)
	}

	if err := backtest.WriteReport(a.out, res); err != nil {
		return nil, err
	}

	reportPath := ""
	if deps.Archiver != nil && bc.Archive {
		reportPath, err = deps.Archiver.Archive(ctx, res)
		if err != nil {
			a.logger.WarnContext(ctx, "backtest archive failed",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
			journal.ReportError(ctx, "Backtest "+runID+" archive failed", err)
			reportPath = ""
		}
	}

	if deps.Runs != nil {
		if err := deps.Runs.SaveRun(ctx, res.Run(reportPath, time.Now().UTC())); err != nil {
			return res, fmt.Errorf("app: save backtest run: %w", err)
		}
	}

	journal.BacktestFinished(ctx, res, reportPath)
	return res, nil
}

// backtestInputs picks the market source and predictor named in the
// backtest config.
func (a *App) backtestInputs(deps *Dependencies) (domain.ResolvedMarketSource, domain.Predictor, error) {
	bc := a.cfg.Backtest

	var ds *dataset.Dataset
	if bc.Source == "dataset" {
		var err error
		ds, err = dataset.Load(bc.DatasetPath)
		if err != nil {
			return nil, nil, fmt.Errorf("app: backtest dataset: %w", err)
		}
	}

	var source domain.ResolvedMarketSource
	switch bc.Source {
	case "dataset":
		source = ds
	case "polymarket":
		source = deps.Markets
	default:
		return nil, nil, fmt.Errorf("app: unknown backtest source %q", bc.Source)
	}

	switch bc.Predictor {
	case "dataset":
		if ds == nil {
			return nil, nil, fmt.Errorf("app: predictor = dataset requires source = dataset")
		}
		return source, ds, nil
	case "model":
		pred, err := buildPredictor(a.cfg.Model, deps.Predictions, a.logger)
		if err != nil {
			return nil, nil, err
		}
		return source, pred, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown backtest predictor %q", bc.Predictor)
	}
}

func signalConfig(tc config.TradingConfig) signal.Config {
	return signal.Config{
		MinEdge:       tc.MinEdge,
		MinConfidence: tc.MinConfidence,
		MinLiquidity:  tc.MinLiquidity,
	}
}

func sizingConfig(tc config.TradingConfig) sizing.Config {
	return sizing.Config{
		KellyFraction:    tc.KellyFraction,
		MaxPositionPct:   tc.MaxPositionPct,
		MaxTotalExposure: tc.MaxTotalExposure,
		MinPositionSize:  tc.MinPositionSize,
	}
}

func limitsConfig(tc config.TradingConfig) risk.LimitsConfig {
	return risk.LimitsConfig{
		MaxPositionPct:   tc.MaxPositionPct,
		MaxTotalExposure: tc.MaxTotalExposure,
		MaxPositions:     tc.MaxPositions,
		MaxDailyLoss:     tc.MaxDailyLoss,
	}
}
