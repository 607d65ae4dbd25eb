// Package trading wires signal generation, sizing, risk checks and execution
// into one pipeline, and runs it on a fixed interval against live markets.
package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/executor"
	"github.com/iambrands/ai-ml-trading-bot/internal/risk"
	"github.com/iambrands/ai-ml-trading-bot/internal/signal"
	"github.com/iambrands/ai-ml-trading-bot/internal/sizing"
)

var (
	// ErrNoSignal means the signal thresholds filtered the market out.
	ErrNoSignal = errors.New("trading: no signal")
	// ErrZeroSize means the sizer allotted nothing to the signal.
	ErrZeroSize = errors.New("trading: position sized to zero")
)

// Pipeline runs one market through signal -> size -> gates -> execution.
// The breaker and the limits are optional.
type Pipeline struct {
	generator *signal.Generator
	sizer     *sizing.PositionSizer
	limits    *risk.Limits
	breaker   *risk.Breaker
	executor  *executor.Executor
	logger    *slog.Logger
}

// NewPipeline creates a Pipeline. limits and breaker may be nil.
func NewPipeline(
	generator *signal.Generator,
	sizer *sizing.PositionSizer,
	limits *risk.Limits,
	breaker *risk.Breaker,
	exec *executor.Executor,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		generator: generator,
		sizer:     sizer,
		limits:    limits,
		breaker:   breaker,
		executor:  exec,
		logger:    logger.With(slog.String("component", "pipeline")),
	}
}

// Generator returns the signal generator.
func (p *Pipeline) Generator() *signal.Generator { return p.generator }

// Executor returns the trade executor.
func (p *Pipeline) Executor() *executor.Executor { return p.executor }

// Process evaluates market with pred at time at and, if a signal results,
// executes it at the market's current YES price. It returns ErrNoSignal when
// no signal was produced and domain.ErrCircuitOpen when the breaker halts
// trading.
func (p *Pipeline) Process(ctx context.Context, market domain.Market, pred domain.Prediction, at time.Time) (domain.Position, error) {
	sig, ok := p.generator.GenerateSignal(ctx, market, pred, at)
	if !ok {
		return domain.Position{}, ErrNoSignal
	}
	if p.breaker != nil && !p.breaker.Check(p.executor.Portfolio().Snapshot()) {
		return domain.Position{}, fmt.Errorf("trading: %s: %w", market.ID, domain.ErrCircuitOpen)
	}
	return p.Execute(ctx, sig, market.YesPrice)
}

// Execute sizes sig against the current portfolio, applies the risk limits
// and hands it to the executor. price is the YES price.
func (p *Pipeline) Execute(ctx context.Context, sig domain.TradingSignal, price float64) (domain.Position, error) {
	snap := p.executor.Portfolio().Snapshot()

	size := p.sizer.Size(sig, snap.TotalValue, snap.TotalExposure)
	if size <= 0 {
		return domain.Position{}, fmt.Errorf("trading: %s: %w", sig.MarketID, ErrZeroSize)
	}

	if p.limits != nil {
		if err := p.limits.CanOpenPosition(snap, sig, size); err != nil {
			p.logger.InfoContext(ctx, "risk check rejected signal",
				slog.String("market_id", sig.MarketID),
				slog.Float64("size", size),
				slog.String("reason", string(domain.RiskReasonOf(err))),
			)
			return domain.Position{}, fmt.Errorf("trading: %s: %w", sig.MarketID, err)
		}
	}

	return p.executor.ExecuteSignal(ctx, sig, size, price)
}
