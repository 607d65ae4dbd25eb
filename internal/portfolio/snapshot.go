package portfolio

import (
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// Snapshot is an immutable, internally consistent copy of a Portfolio.
// Risk checks, the circuit breaker and metrics all read snapshots.
type Snapshot struct {
	Timestamp      time.Time         `json:"timestamp"`
	InitialCapital float64           `json:"initial_capital"`
	Cash           float64           `json:"cash"`
	RealizedPnL    float64           `json:"realized_pnl"`
	TotalExposure  float64           `json:"total_exposure"`
	UnrealizedPnL  float64           `json:"unrealized_pnl"`
	TotalValue     float64           `json:"total_value"`
	Positions      []domain.Position `json:"positions"`
	Trades         []domain.Trade    `json:"trades"`
}

// HasPosition reports whether the snapshot holds a position in marketID.
func (s Snapshot) HasPosition(marketID string) bool {
	for _, p := range s.Positions {
		if p.MarketID == marketID {
			return true
		}
	}
	return false
}

// TotalPnL is TotalValue minus the initial capital.
func (s Snapshot) TotalPnL() float64 {
	return s.TotalValue - s.InitialCapital
}

// Domain converts the snapshot into its persisted form.
func (s Snapshot) Domain(sessionID string) domain.PortfolioSnapshot {
	return domain.PortfolioSnapshot{
		SessionID:      sessionID,
		Timestamp:      s.Timestamp,
		InitialCapital: s.InitialCapital,
		Cash:           s.Cash,
		TotalExposure:  s.TotalExposure,
		UnrealizedPnL:  s.UnrealizedPnL,
		RealizedPnL:    s.RealizedPnL,
		TotalValue:     s.TotalValue,
		OpenPositions:  len(s.Positions),
		TradeCount:     len(s.Trades),
		Positions:      s.Positions,
	}
}
