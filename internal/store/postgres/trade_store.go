package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, market_id, side, entry_price, exit_price, size, pnl, fees, entry_time, exit_time`

// Re-inserting a trade for the same session is a no-op, so replays and
// retries are idempotent.
const insertTradeQuery = `
	INSERT INTO trades (
		session_id, id, market_id, side,
		entry_price, exit_price, size, pnl, fees,
		entry_time, exit_time
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8, $9,
		$10, $11
	) ON CONFLICT (session_id, id) DO NOTHING`

func tradeArgs(sessionID string, t domain.Trade) []any {
	return []any{
		sessionID, t.ID, t.MarketID, string(t.Side),
		t.EntryPrice, t.ExitPrice, t.Size, t.PnL, t.Fees,
		t.EntryTime, t.ExitTime,
	}
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(
			&t.ID, &t.MarketID, &side,
			&t.EntryPrice, &t.ExitPrice, &t.Size, &t.PnL, &t.Fees,
			&t.EntryTime, &t.ExitTime,
		); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertTrade records one closed trade.
func (s *TradeStore) InsertTrade(ctx context.Context, sessionID string, trade domain.Trade) error {
	if _, err := s.pool.Exec(ctx, insertTradeQuery, tradeArgs(sessionID, trade)...); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", trade.ID, err)
	}
	return nil
}

// InsertTrades inserts multiple trades efficiently using pgx Batch.
func (s *TradeStore) InsertTrades(ctx context.Context, sessionID string, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(insertTradeQuery, tradeArgs(sessionID, t)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListTrades returns a session's trades in close order, with pagination and
// optional exit-time filtering.
func (s *TradeStore) ListTrades(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := withListOpts(
		`SELECT `+tradeSelectCols+` FROM trades WHERE session_id = $1`,
		[]any{sessionID}, "exit_time", "exit_time ASC, id ASC", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// withListOpts appends time filtering on col, ordering and pagination to a
// query that already binds len(args) parameters.
func withListOpts(query string, args []any, col, orderBy string, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", col, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", col, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY " + orderBy

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
