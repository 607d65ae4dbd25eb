package domain

import "time"

// Trade is the immutable record of a closed position. PnL is net of Fees.
type Trade struct {
	ID         string    `json:"id"`
	MarketID   string    `json:"market_id"`
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Size       float64   `json:"size"`
	PnL        float64   `json:"pnl"`
	Fees       float64   `json:"fees"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
}

// Won reports whether the trade closed with a positive net P&L.
func (t Trade) Won() bool { return t.PnL > 0 }

// PortfolioSnapshot is the persisted and reported view of a portfolio at a
// point in time.
type PortfolioSnapshot struct {
	SessionID      string     `json:"session_id"`
	Timestamp      time.Time  `json:"timestamp"`
	InitialCapital float64    `json:"initial_capital"`
	Cash           float64    `json:"cash"`
	TotalExposure  float64    `json:"total_exposure"`
	UnrealizedPnL  float64    `json:"unrealized_pnl"`
	RealizedPnL    float64    `json:"realized_pnl"`
	TotalValue     float64    `json:"total_value"`
	OpenPositions  int        `json:"open_positions"`
	TradeCount     int        `json:"trade_count"`
	Positions      []Position `json:"positions,omitempty"`
}

// DrawdownSnapshot records the drawdown observed at one update.
type DrawdownSnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	PeakValue    float64   `json:"peak_value"`
	CurrentValue float64   `json:"current_value"`
	Drawdown     float64   `json:"drawdown"`
}

// BacktestRun is the persisted summary of one backtest.
type BacktestRun struct {
	ID               string
	StartDate        time.Time
	EndDate          time.Time
	InitialCapital   float64
	FinalValue       float64
	TotalReturn      float64
	AnnualizedReturn float64
	SharpeRatio      float64
	WinRate          float64
	ProfitFactor     float64
	MaxDrawdown      float64
	TradeCount       int
	ReportPath       string
	CreatedAt        time.Time
}
