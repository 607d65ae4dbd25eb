package domain

import "time"

// Position is an open position in one market. EntryPrice and CurrentPrice
// are YES-contract prices regardless of Side; Size is the USD committed.
type Position struct {
	MarketID      string    `json:"market_id"`
	SignalID      string    `json:"signal_id"`
	Side          Side      `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	Size          float64   `json:"size"`
	EntryTime     time.Time `json:"entry_time"`
	CurrentPrice  float64   `json:"current_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
}

// PnLAt returns the position's P&L if marked at the given YES price.
func (p Position) PnLAt(price float64) float64 {
	return PositionPnL(p.Side, p.EntryPrice, price, p.Size)
}

// PositionPnL computes P&L for a binary position. The NO formula mirrors
// the YES formula through price 0.5.
func PositionPnL(side Side, entry, current, size float64) float64 {
	if side == SideNo {
		noEntry := 1 - entry
		noCurrent := 1 - current
		return (noCurrent - noEntry) * size
	}
	return (current - entry) * size
}
