package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists closed trades per trading session (a live session or
// a backtest run).
type TradeStore interface {
	InsertTrade(ctx context.Context, sessionID string, trade Trade) error
	InsertTrades(ctx context.Context, sessionID string, trades []Trade) error
	ListTrades(ctx context.Context, sessionID string, opts ListOpts) ([]Trade, error)
}

// SnapshotStore persists portfolio snapshots.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap PortfolioSnapshot) error
	LatestSnapshot(ctx context.Context, sessionID string) (PortfolioSnapshot, error)
}

// BacktestStore persists backtest run summaries.
type BacktestStore interface {
	SaveRun(ctx context.Context, run BacktestRun) error
	GetRun(ctx context.Context, id string) (BacktestRun, error)
	ListRuns(ctx context.Context, opts ListOpts) ([]BacktestRun, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
