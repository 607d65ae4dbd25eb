// Package paper provides a simulated exchange that fills every well-formed
// order immediately. Backtests and paper-mode live sessions trade through it.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// Order is one order received by the paper exchange.
type Order struct {
	ID       string
	MarketID string
	Side     domain.Side
	Size     float64
	Price    float64
	Filled   bool
	At       time.Time
}

// RejectFunc may veto an order. Returning a non-nil error fails the call,
// returning true rejects the order cleanly.
type RejectFunc func(o Order) (reject bool, err error)

// Exchange is an in-memory domain.Exchange.
type Exchange struct {
	mu     sync.Mutex
	orders []Order
	reject RejectFunc
	now    func() time.Time
	logger *slog.Logger
}

var _ domain.Exchange = (*Exchange)(nil)

// Option configures an Exchange.
type Option func(*Exchange)

// WithReject installs a rejection hook.
func WithReject(fn RejectFunc) Option {
	return func(e *Exchange) { e.reject = fn }
}

// WithClock sets the time source used to stamp orders.
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

// New creates a paper exchange.
func New(logger *slog.Logger, opts ...Option) *Exchange {
	e := &Exchange{
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "paper-exchange")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PlaceOrder fills the order when size > 0 and price is within [0, 1].
func (e *Exchange) PlaceOrder(ctx context.Context, marketID string, side domain.Side, size, price float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if size <= 0 || price < 0 || price > 1 {
		return false, fmt.Errorf("paper: order %s size=%.4f price=%.4f: %w", marketID, size, price, domain.ErrInvalidOrder)
	}

	o := Order{
		ID:       uuid.NewString(),
		MarketID: marketID,
		Side:     side,
		Size:     size,
		Price:    price,
		At:       e.now(),
	}
	if e.reject != nil {
		reject, err := e.reject(o)
		if err != nil {
			return false, err
		}
		if reject {
			e.record(o)
			return false, nil
		}
	}

	o.Filled = true
	e.record(o)
	e.logger.DebugContext(ctx, "paper fill",
		slog.String("market_id", marketID),
		slog.String("side", string(side)),
		slog.Float64("size", size),
		slog.Float64("price", price),
	)
	return true, nil
}

func (e *Exchange) record(o Order) {
	e.mu.Lock()
	e.orders = append(e.orders, o)
	e.mu.Unlock()
}

// Orders returns a copy of the order log.
func (e *Exchange) Orders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, len(e.orders))
	copy(out, e.orders)
	return out
}
