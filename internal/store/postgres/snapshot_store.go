package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// InsertSnapshot appends a portfolio snapshot. Open positions are stored as
// JSONB.
func (s *SnapshotStore) InsertSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error {
	positions := snap.Positions
	if positions == nil {
		positions = []domain.Position{}
	}
	positionsJSON, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot positions: %w", err)
	}

	const query = `
		INSERT INTO portfolio_snapshots (
			session_id, taken_at, initial_capital, cash, total_exposure,
			unrealized_pnl, realized_pnl, total_value, open_positions,
			trade_count, positions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.pool.Exec(ctx, query,
		snap.SessionID, snap.Timestamp, snap.InitialCapital, snap.Cash, snap.TotalExposure,
		snap.UnrealizedPnL, snap.RealizedPnL, snap.TotalValue, snap.OpenPositions,
		snap.TradeCount, positionsJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot for %s: %w", snap.SessionID, err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot for sessionID, or
// domain.ErrNotFound.
func (s *SnapshotStore) LatestSnapshot(ctx context.Context, sessionID string) (domain.PortfolioSnapshot, error) {
	const query = `
		SELECT session_id, taken_at, initial_capital, cash, total_exposure,
			unrealized_pnl, realized_pnl, total_value, open_positions,
			trade_count, positions
		FROM portfolio_snapshots
		WHERE session_id = $1
		ORDER BY taken_at DESC, id DESC
		LIMIT 1`

	var snap domain.PortfolioSnapshot
	var positionsJSON []byte
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&snap.SessionID, &snap.Timestamp, &snap.InitialCapital, &snap.Cash, &snap.TotalExposure,
		&snap.UnrealizedPnL, &snap.RealizedPnL, &snap.TotalValue, &snap.OpenPositions,
		&snap.TradeCount, &positionsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: latest snapshot %s: %w", sessionID, domain.ErrNotFound)
		}
		return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: latest snapshot %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(positionsJSON, &snap.Positions); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("postgres: unmarshal snapshot positions: %w", err)
	}
	return snap, nil
}
