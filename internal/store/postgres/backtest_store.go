package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// BacktestStore implements domain.BacktestStore using PostgreSQL.
type BacktestStore struct {
	pool *pgxpool.Pool
}

var _ domain.BacktestStore = (*BacktestStore)(nil)

// NewBacktestStore creates a new BacktestStore backed by the given pool.
func NewBacktestStore(pool *pgxpool.Pool) *BacktestStore {
	return &BacktestStore{pool: pool}
}

const backtestSelectCols = `id, start_date, end_date, initial_capital, final_value,
	total_return, annualized_return, sharpe_ratio, win_rate, profit_factor,
	max_drawdown, trade_count, report_path, created_at`

func scanRun(row pgx.Row) (domain.BacktestRun, error) {
	var r domain.BacktestRun
	err := row.Scan(
		&r.ID, &r.StartDate, &r.EndDate, &r.InitialCapital, &r.FinalValue,
		&r.TotalReturn, &r.AnnualizedReturn, &r.SharpeRatio, &r.WinRate, &r.ProfitFactor,
		&r.MaxDrawdown, &r.TradeCount, &r.ReportPath, &r.CreatedAt,
	)
	return r, err
}

// SaveRun upserts a backtest summary.
func (s *BacktestStore) SaveRun(ctx context.Context, run domain.BacktestRun) error {
	const query = `
		INSERT INTO backtest_runs (
			id, start_date, end_date, initial_capital, final_value,
			total_return, annualized_return, sharpe_ratio, win_rate, profit_factor,
			max_drawdown, trade_count, report_path, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			final_value       = EXCLUDED.final_value,
			total_return      = EXCLUDED.total_return,
			annualized_return = EXCLUDED.annualized_return,
			sharpe_ratio      = EXCLUDED.sharpe_ratio,
			win_rate          = EXCLUDED.win_rate,
			profit_factor     = EXCLUDED.profit_factor,
			max_drawdown      = EXCLUDED.max_drawdown,
			trade_count       = EXCLUDED.trade_count,
			report_path       = EXCLUDED.report_path`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.StartDate, run.EndDate, run.InitialCapital, run.FinalValue,
		run.TotalReturn, run.AnnualizedReturn, run.SharpeRatio, run.WinRate, run.ProfitFactor,
		run.MaxDrawdown, run.TradeCount, run.ReportPath, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save backtest run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns a run by ID, or domain.ErrNotFound.
func (s *BacktestStore) GetRun(ctx context.Context, id string) (domain.BacktestRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+backtestSelectCols+` FROM backtest_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BacktestRun{}, fmt.Errorf("postgres: get backtest run %s: %w", id, domain.ErrNotFound)
		}
		return domain.BacktestRun{}, fmt.Errorf("postgres: get backtest run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns runs, newest first.
func (s *BacktestStore) ListRuns(ctx context.Context, opts domain.ListOpts) ([]domain.BacktestRun, error) {
	query, args := withListOpts(
		`SELECT `+backtestSelectCols+` FROM backtest_runs WHERE 1=1`,
		nil, "created_at", "created_at DESC, id DESC", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.BacktestRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan backtest run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list backtest runs rows: %w", err)
	}
	return runs, nil
}
