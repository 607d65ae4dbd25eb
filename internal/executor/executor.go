// Package executor places orders through the exchange and applies the
// fills to the portfolio.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/portfolio"
)

// TradeRecorder is notified after every successful open and close. It is
// typically implemented by the journal service.
type TradeRecorder interface {
	PositionOpened(ctx context.Context, pos domain.Position)
	PositionClosed(ctx context.Context, trade domain.Trade)
}

// Option configures an Executor.
type Option func(*Executor)

// WithRecorder attaches a TradeRecorder.
func WithRecorder(r TradeRecorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithDedupTTL sets how long a signal ID is remembered. Zero remembers IDs
// for the executor's lifetime.
func WithDedupTTL(ttl time.Duration) Option {
	return func(e *Executor) { e.dedup = NewDedup(ttl) }
}

// WithFeeRate overrides portfolio.DefaultFeeRate.
func WithFeeRate(rate float64) Option {
	return func(e *Executor) { e.feeRate = rate }
}

// Executor turns sized signals into portfolio positions. Orders are placed at
// most once: a failed exchange call is reported, never retried.
type Executor struct {
	portfolio *portfolio.Portfolio
	exchange  domain.Exchange
	recorder  TradeRecorder
	dedup     *Dedup
	feeRate   float64
	logger    *slog.Logger

	inflightMu sync.Mutex
	inflight   map[string]struct{} // market IDs with an order outstanding
}

// New creates an Executor that trades p through exchange.
func New(p *portfolio.Portfolio, exchange domain.Exchange, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		portfolio: p,
		exchange:  exchange,
		dedup:     NewDedup(2 * time.Hour),
		feeRate:   portfolio.DefaultFeeRate,
		logger:    logger.With(slog.String("component", "executor")),
		inflight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Portfolio returns the portfolio the executor mutates.
func (e *Executor) Portfolio() *portfolio.Portfolio { return e.portfolio }

// FeeRate returns the fee rate applied on close.
func (e *Executor) FeeRate() float64 { return e.feeRate }

// ExecuteSignal opens a position of size USD for sig at the given YES price.
// The portfolio is only mutated after the exchange accepts the order.
func (e *Executor) ExecuteSignal(ctx context.Context, sig domain.TradingSignal, size, price float64) (domain.Position, error) {
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("market_id", sig.MarketID),
		slog.String("side", string(sig.Side)),
	)

	if size <= 0 || price < 0 || price > 1 {
		return domain.Position{}, fmt.Errorf("executor: execute %s size=%.4f price=%.4f: %w",
			sig.MarketID, size, price, domain.ErrInvalidOrder)
	}
	if sig.ID != "" && e.dedup.IsDuplicate(sig.ID) {
		log.DebugContext(ctx, "signal deduplicated, skipping")
		return domain.Position{}, fmt.Errorf("executor: signal %s: %w", sig.ID, domain.ErrAlreadyExists)
	}

	release, ok := e.acquire(sig.MarketID)
	if !ok {
		return domain.Position{}, fmt.Errorf("executor: execute %s: order in flight: %w",
			sig.MarketID, domain.ErrDuplicatePosition)
	}
	defer release()

	if e.portfolio.HasPosition(sig.MarketID) {
		return domain.Position{}, fmt.Errorf("executor: execute %s: %w", sig.MarketID, domain.ErrDuplicatePosition)
	}
	if cash := e.portfolio.Cash(); cash < size {
		return domain.Position{}, fmt.Errorf("executor: execute %s size=%.2f cash=%.2f: %w",
			sig.MarketID, size, cash, domain.ErrInsufficientCash)
	}

	if err := e.place(ctx, sig.MarketID, sig.Side, size, sig.Side.PriceOf(price)); err != nil {
		log.WarnContext(ctx, "entry order failed", slog.String("error", err.Error()))
		return domain.Position{}, fmt.Errorf("executor: execute %s: %w", sig.MarketID, err)
	}

	pos, err := e.portfolio.AddPosition(sig, size, price)
	if err != nil {
		// The exchange filled but the ledger refused; this needs an operator.
		log.ErrorContext(ctx, "order filled but position not recorded",
			slog.Float64("size", size),
			slog.String("error", err.Error()),
		)
		return domain.Position{}, fmt.Errorf("executor: record %s: %w", sig.MarketID, err)
	}

	log.InfoContext(ctx, "position opened",
		slog.Float64("size", size),
		slog.Float64("price", price),
		slog.Float64("edge", sig.Edge),
	)
	if e.recorder != nil {
		e.recorder.PositionOpened(ctx, pos)
	}
	return pos, nil
}

// ClosePosition exits the position in marketID at the given YES price by
// placing an opposite-side order, then realizes it in the portfolio.
func (e *Executor) ClosePosition(ctx context.Context, marketID string, exitPrice float64) (domain.Trade, error) {
	release, ok := e.acquire(marketID)
	if !ok {
		return domain.Trade{}, fmt.Errorf("executor: close %s: order in flight: %w",
			marketID, domain.ErrDuplicatePosition)
	}
	defer release()

	pos, ok := e.portfolio.Position(marketID)
	if !ok {
		return domain.Trade{}, fmt.Errorf("executor: close %s: %w", marketID, domain.ErrPositionNotFound)
	}

	exitSide := pos.Side.Opposite()
	if err := e.place(ctx, marketID, exitSide, pos.Size, exitSide.PriceOf(exitPrice)); err != nil {
		e.logger.WarnContext(ctx, "exit order failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return domain.Trade{}, fmt.Errorf("executor: close %s: %w", marketID, err)
	}

	trade, err := e.portfolio.ClosePosition(marketID, exitPrice, e.feeRate)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("executor: close %s: %w", marketID, err)
	}

	e.logger.InfoContext(ctx, "position closed",
		slog.String("market_id", marketID),
		slog.String("side", string(trade.Side)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("pnl", trade.PnL),
	)
	if e.recorder != nil {
		e.recorder.PositionClosed(ctx, trade)
	}
	return trade, nil
}

// Cleanup expires old dedup entries.
func (e *Executor) Cleanup() { e.dedup.Cleanup() }

func (e *Executor) place(ctx context.Context, marketID string, side domain.Side, size, price float64) error {
	ok, err := e.exchange.PlaceOrder(ctx, marketID, side, size, price)
	if err != nil {
		return errors.Join(domain.ErrExchangeRejected, err)
	}
	if !ok {
		return domain.ErrExchangeRejected
	}
	return nil
}

// acquire marks marketID as having an order in flight. The returned func
// clears the mark.
func (e *Executor) acquire(marketID string) (func(), bool) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if _, busy := e.inflight[marketID]; busy {
		return nil, false
	}
	e.inflight[marketID] = struct{}{}
	return func() {
		e.inflightMu.Lock()
		delete(e.inflight, marketID)
		e.inflightMu.Unlock()
	}, true
}
