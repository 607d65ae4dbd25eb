// Package sqlite implements the domain journal stores on a local SQLite file
// (pure Go, no CGo). It is the default backend when no Postgres is
// configured.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    session_id  TEXT NOT NULL,
    id          TEXT NOT NULL,
    market_id   TEXT NOT NULL,
    side        TEXT NOT NULL,
    entry_price REAL NOT NULL,
    exit_price  REAL NOT NULL,
    size        REAL NOT NULL,
    pnl         REAL NOT NULL,
    fees        REAL NOT NULL DEFAULT 0,
    entry_time  TEXT NOT NULL,
    exit_time   TEXT NOT NULL,
    PRIMARY KEY (session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_trades_session_exit ON trades(session_id, exit_time);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      TEXT    NOT NULL,
    taken_at        TEXT    NOT NULL,
    initial_capital REAL    NOT NULL,
    cash            REAL    NOT NULL,
    total_exposure  REAL    NOT NULL,
    unrealized_pnl  REAL    NOT NULL,
    realized_pnl    REAL    NOT NULL,
    total_value     REAL    NOT NULL,
    open_positions  INTEGER NOT NULL,
    trade_count     INTEGER NOT NULL,
    positions       TEXT    NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_snapshots_session ON portfolio_snapshots(session_id, taken_at DESC);

CREATE TABLE IF NOT EXISTS backtest_runs (
    id                TEXT PRIMARY KEY,
    start_date        TEXT    NOT NULL,
    end_date          TEXT    NOT NULL,
    initial_capital   REAL    NOT NULL,
    final_value       REAL    NOT NULL,
    total_return      REAL    NOT NULL,
    annualized_return REAL    NOT NULL,
    sharpe_ratio      REAL    NOT NULL,
    win_rate          REAL    NOT NULL,
    profit_factor     REAL    NOT NULL,
    max_drawdown      REAL    NOT NULL,
    trade_count       INTEGER NOT NULL,
    report_path       TEXT    NOT NULL DEFAULT '',
    created_at        TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event      TEXT NOT NULL,
    detail     TEXT,
    created_at TEXT NOT NULL
);
`

// Timestamps are stored as fixed-width RFC 3339 UTC text so they sort
// lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

// Store implements the trade, snapshot, backtest and audit stores.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ domain.TradeStore    = (*Store)(nil)
	_ domain.SnapshotStore = (*Store)(nil)
	_ domain.BacktestStore = (*Store)(nil)
	_ domain.AuditStore    = (*Store)(nil)
)

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Trades ──────────────────────────────────────────────────────────────────

const insertTrade = `INSERT OR IGNORE INTO trades (
	session_id, id, market_id, side, entry_price, exit_price, size, pnl, fees, entry_time, exit_time
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func tradeArgs(sessionID string, t domain.Trade) []any {
	return []any{
		sessionID, t.ID, t.MarketID, string(t.Side), t.EntryPrice, t.ExitPrice,
		t.Size, t.PnL, t.Fees, formatTime(t.EntryTime), formatTime(t.ExitTime),
	}
}

// InsertTrade records a closed trade. Duplicates are ignored.
func (s *Store) InsertTrade(ctx context.Context, sessionID string, trade domain.Trade) error {
	if _, err := s.db.ExecContext(ctx, insertTrade, tradeArgs(sessionID, trade)...); err != nil {
		return fmt.Errorf("sqlite: insert trade %s: %w", trade.ID, err)
	}
	return nil
}

// InsertTrades records trades in one transaction.
func (s *Store) InsertTrades(ctx context.Context, sessionID string, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertTrade)
	if err != nil {
		return fmt.Errorf("sqlite: prepare trade insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range trades {
		if _, err := stmt.ExecContext(ctx, tradeArgs(sessionID, t)...); err != nil {
			return fmt.Errorf("sqlite: insert trade %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit trades: %w", err)
	}
	return nil
}

// ListTrades returns a session's trades in close order.
func (s *Store) ListTrades(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := withListOpts(
		`SELECT id, market_id, side, entry_price, exit_price, size, pnl, fees, entry_time, exit_time
		 FROM trades WHERE session_id = ?`,
		[]any{sessionID}, "exit_time", "exit_time ASC, id ASC", opts,
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, entry, exit string
		if err := rows.Scan(&t.ID, &t.MarketID, &side, &t.EntryPrice, &t.ExitPrice,
			&t.Size, &t.PnL, &t.Fees, &entry, &exit); err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		t.Side = domain.Side(side)
		if t.EntryTime, err = parseTime(entry); err != nil {
			return nil, fmt.Errorf("sqlite: trade %s entry_time: %w", t.ID, err)
		}
		if t.ExitTime, err = parseTime(exit); err != nil {
			return nil, fmt.Errorf("sqlite: trade %s exit_time: %w", t.ID, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ─── Snapshots ───────────────────────────────────────────────────────────────

// InsertSnapshot appends a portfolio snapshot.
func (s *Store) InsertSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error {
	positions := snap.Positions
	if positions == nil {
		positions = []domain.Position{}
	}
	raw, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("sqlite: marshal snapshot positions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO portfolio_snapshots (
			session_id, taken_at, initial_capital, cash, total_exposure, unrealized_pnl,
			realized_pnl, total_value, open_positions, trade_count, positions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SessionID, formatTime(snap.Timestamp), snap.InitialCapital, snap.Cash, snap.TotalExposure,
		snap.UnrealizedPnL, snap.RealizedPnL, snap.TotalValue, snap.OpenPositions, snap.TradeCount, string(raw),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert snapshot for %s: %w", snap.SessionID, err)
	}
	return nil
}

// LatestSnapshot returns the newest snapshot for sessionID, or
// domain.ErrNotFound.
func (s *Store) LatestSnapshot(ctx context.Context, sessionID string) (domain.PortfolioSnapshot, error) {
	var snap domain.PortfolioSnapshot
	var takenAt, raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, taken_at, initial_capital, cash, total_exposure, unrealized_pnl,
			realized_pnl, total_value, open_positions, trade_count, positions
		 FROM portfolio_snapshots WHERE session_id = ?
		 ORDER BY taken_at DESC, id DESC LIMIT 1`, sessionID,
	).Scan(&snap.SessionID, &takenAt, &snap.InitialCapital, &snap.Cash, &snap.TotalExposure,
		&snap.UnrealizedPnL, &snap.RealizedPnL, &snap.TotalValue, &snap.OpenPositions, &snap.TradeCount, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PortfolioSnapshot{}, fmt.Errorf("sqlite: latest snapshot %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("sqlite: latest snapshot %s: %w", sessionID, err)
	}
	if snap.Timestamp, err = parseTime(takenAt); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("sqlite: snapshot taken_at: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &snap.Positions); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("sqlite: unmarshal snapshot positions: %w", err)
	}
	return snap, nil
}

// ─── Backtest runs ───────────────────────────────────────────────────────────

const runCols = `id, start_date, end_date, initial_capital, final_value, total_return,
	annualized_return, sharpe_ratio, win_rate, profit_factor, max_drawdown, trade_count,
	report_path, created_at`

// SaveRun upserts a backtest summary.
func (s *Store) SaveRun(ctx context.Context, run domain.BacktestRun) error {
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO backtest_runs (`+runCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.StartDate), formatTime(run.EndDate), run.InitialCapital, run.FinalValue,
		run.TotalReturn, run.AnnualizedReturn, run.SharpeRatio, run.WinRate, run.ProfitFactor,
		run.MaxDrawdown, run.TradeCount, run.ReportPath, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save backtest run %s: %w", run.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.BacktestRun, error) {
	var r domain.BacktestRun
	var start, end, created string
	if err := row.Scan(&r.ID, &start, &end, &r.InitialCapital, &r.FinalValue, &r.TotalReturn,
		&r.AnnualizedReturn, &r.SharpeRatio, &r.WinRate, &r.ProfitFactor, &r.MaxDrawdown,
		&r.TradeCount, &r.ReportPath, &created); err != nil {
		return r, err
	}
	var err error
	if r.StartDate, err = parseTime(start); err != nil {
		return r, err
	}
	if r.EndDate, err = parseTime(end); err != nil {
		return r, err
	}
	r.CreatedAt, err = parseTime(created)
	return r, err
}

// GetRun returns a run by ID, or domain.ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (domain.BacktestRun, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runCols+` FROM backtest_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BacktestRun{}, fmt.Errorf("sqlite: get backtest run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.BacktestRun{}, fmt.Errorf("sqlite: get backtest run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns runs, newest first.
func (s *Store) ListRuns(ctx context.Context, opts domain.ListOpts) ([]domain.BacktestRun, error) {
	query, args := withListOpts(`SELECT `+runCols+` FROM backtest_runs WHERE 1=1`,
		nil, "created_at", "created_at DESC, id DESC", opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.BacktestRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan backtest run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ─── Audit ───────────────────────────────────────────────────────────────────

// Log appends an audit entry.
func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(raw), formatTime(s.now()),
	); err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries, newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := withListOpts(`SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`,
		nil, "created_at", "created_at DESC, id DESC", opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detail sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.Event, &detail, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("sqlite: audit created_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func withListOpts(query string, args []any, col, orderBy string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(query)
	if opts.Since != nil {
		b.WriteString(" AND " + col + " >= ?")
		args = append(args, formatTime(*opts.Since))
	}
	if opts.Until != nil {
		b.WriteString(" AND " + col + " <= ?")
		args = append(args, formatTime(*opts.Until))
	}
	b.WriteString(" ORDER BY " + orderBy)
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, opts.Offset)
	}
	return b.String(), args
}
