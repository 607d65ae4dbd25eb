// Package portfolio keeps the cash, open positions and closed-trade ledger of
// a trading session. It is the single source of truth for portfolio value and
// exposure; every derived figure is recomputed from the ledger on each call.
package portfolio

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// DefaultFeeRate is charged on winning trades only.
const DefaultFeeRate = 0.02

// Option configures a Portfolio.
type Option func(*Portfolio)

// WithClock overrides the time source used to stamp entries and exits.
func WithClock(now func() time.Time) Option {
	return func(p *Portfolio) {
		if now != nil {
			p.now = now
		}
	}
}

// Portfolio is safe for concurrent use. All mutating calls are serialized
// behind one mutex so cross-cutting reads observe a consistent ledger.
type Portfolio struct {
	mu             sync.Mutex
	initialCapital float64
	cash           float64
	realizedPnL    float64
	positions      map[string]*domain.Position
	trades         []domain.Trade
	now            func() time.Time
}

// New creates a Portfolio funded with initialCapital in cash.
func New(initialCapital float64, opts ...Option) *Portfolio {
	p := &Portfolio{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*domain.Position),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddPosition opens a position for signal.MarketID, debiting size from cash.
// price is the YES-contract entry price.
func (p *Portfolio) AddPosition(signal domain.TradingSignal, size, price float64) (domain.Position, error) {
	if size <= 0 || price < 0 || price > 1 {
		return domain.Position{}, fmt.Errorf("portfolio: add %s size=%.4f price=%.4f: %w",
			signal.MarketID, size, price, domain.ErrInvalidOrder)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if size > p.cash {
		return domain.Position{}, fmt.Errorf("portfolio: add %s size=%.2f cash=%.2f: %w",
			signal.MarketID, size, p.cash, domain.ErrInsufficientCash)
	}
	if _, ok := p.positions[signal.MarketID]; ok {
		return domain.Position{}, fmt.Errorf("portfolio: add %s: %w", signal.MarketID, domain.ErrDuplicatePosition)
	}

	pos := &domain.Position{
		MarketID:     signal.MarketID,
		SignalID:     signal.ID,
		Side:         signal.Side,
		EntryPrice:   price,
		Size:         size,
		EntryTime:    p.now(),
		CurrentPrice: price,
	}
	pos.UnrealizedPnL = pos.PnLAt(price)

	p.cash -= size
	p.positions[signal.MarketID] = pos
	return *pos, nil
}

// ClosePosition realizes the position in marketID at exitPrice. The fee is
// applied only when the gross P&L is positive.
func (p *Portfolio) ClosePosition(marketID string, exitPrice, feeRate float64) (domain.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[marketID]
	if !ok {
		return domain.Trade{}, fmt.Errorf("portfolio: close %s: %w", marketID, domain.ErrPositionNotFound)
	}

	gross := pos.PnLAt(exitPrice)
	var fees float64
	if gross > 0 {
		fees = gross * feeRate
	}
	net := gross - fees

	trade := domain.Trade{
		ID:         tradeID(pos),
		MarketID:   pos.MarketID,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Size:       pos.Size,
		PnL:        net,
		Fees:       fees,
		EntryTime:  pos.EntryTime,
		ExitTime:   p.now(),
	}

	p.cash += pos.Size + net
	p.realizedPnL += net
	p.trades = append(p.trades, trade)
	delete(p.positions, marketID)
	return trade, nil
}

func tradeID(pos *domain.Position) string {
	if pos.SignalID != "" {
		return pos.SignalID
	}
	return pos.MarketID + "@" + pos.EntryTime.Format(time.RFC3339Nano)
}

// UpdatePositions marks every open position present in prices (market ID to
// YES price). Positions missing from the map keep their previous mark.
func (p *Portfolio) UpdatePositions(prices map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, price := range prices {
		pos, ok := p.positions[id]
		if !ok {
			continue
		}
		pos.CurrentPrice = price
		pos.UnrealizedPnL = pos.PnLAt(price)
	}
}

// HasPosition reports whether a position is open for marketID.
func (p *Portfolio) HasPosition(marketID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.positions[marketID]
	return ok
}

// Position returns a copy of the open position for marketID.
func (p *Portfolio) Position(marketID string) (domain.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[marketID]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions ordered by market ID.
func (p *Portfolio) Positions() []domain.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionsLocked()
}

// Trades returns a copy of the trade history in close order.
func (p *Portfolio) Trades() []domain.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// InitialCapital returns the starting cash.
func (p *Portfolio) InitialCapital() float64 { return p.initialCapital }

// Cash returns uncommitted cash.
func (p *Portfolio) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// RealizedPnL returns the running sum of closed-trade P&L.
func (p *Portfolio) RealizedPnL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realizedPnL
}

// TotalExposure is the USD committed across open positions.
func (p *Portfolio) TotalExposure() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exposureLocked()
}

// UnrealizedPnL is the mark-to-market P&L across open positions.
func (p *Portfolio) UnrealizedPnL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unrealizedLocked()
}

// TotalValue is cash + exposure + unrealized P&L.
func (p *Portfolio) TotalValue() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash + p.exposureLocked() + p.unrealizedLocked()
}

// TotalPnL is TotalValue minus the initial capital.
func (p *Portfolio) TotalPnL() float64 {
	return p.TotalValue() - p.initialCapital
}

// PositionCount returns the number of open positions.
func (p *Portfolio) PositionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.positions)
}

// Snapshot captures the whole ledger under a single lock acquisition.
func (p *Portfolio) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	trades := make([]domain.Trade, len(p.trades))
	copy(trades, p.trades)

	exposure := p.exposureLocked()
	unrealized := p.unrealizedLocked()
	return Snapshot{
		Timestamp:      p.now(),
		InitialCapital: p.initialCapital,
		Cash:           p.cash,
		RealizedPnL:    p.realizedPnL,
		TotalExposure:  exposure,
		UnrealizedPnL:  unrealized,
		TotalValue:     p.cash + exposure + unrealized,
		Positions:      p.positionsLocked(),
		Trades:         trades,
	}
}

func (p *Portfolio) positionsLocked() []domain.Position {
	out := make([]domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

func (p *Portfolio) exposureLocked() float64 {
	var total float64
	for _, pos := range p.positions {
		total += pos.Size
	}
	return total
}

func (p *Portfolio) unrealizedLocked() float64 {
	var total float64
	for _, pos := range p.positions {
		total += pos.UnrealizedPnL
	}
	return total
}
