package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/iambrands/ai-ml-trading-bot/internal/backtest"
	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// ErrNoRunHistory is returned when neither a run store nor an archive is
// configured.
var ErrNoRunHistory = errors.New("app: no backtest history configured (enable storage or s3)")

// ListRuns prints recorded backtest runs, newest first. Runs come from the
// journal store; when none is configured the S3 archive is listed instead.
func (a *App) ListRuns(ctx context.Context, limit int) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	switch {
	case deps.Runs != nil:
		runs, err := deps.Runs.ListRuns(ctx, domain.ListOpts{Limit: limit})
		if err != nil {
			return fmt.Errorf("app: list runs: %w", err)
		}
		return a.writeRuns(runs)

	case deps.Archiver != nil:
		archived, err := deps.Archiver.List(ctx)
		if err != nil {
			return fmt.Errorf("app: list archived runs: %w", err)
		}
		if limit > 0 && len(archived) > limit {
			archived = archived[:limit]
		}
		t := tablewriter.NewWriter(a.out)
		t.Header("Run", "Archived", "Size", "Path")
		for _, r := range archived {
			err := t.Append(r.RunID, r.LastModified.UTC().Format(time.DateTime), fmt.Sprintf("%d", r.Size), r.ResultPath)
			if err != nil {
				return fmt.Errorf("app: list archived runs: %w", err)
			}
		}
		return t.Render()

	default:
		return ErrNoRunHistory
	}
}

func (a *App) writeRuns(runs []domain.BacktestRun) error {
	if len(runs) == 0 {
		fmt.Fprintln(a.out, "no backtest runs recorded")
		return nil
	}
	t := tablewriter.NewWriter(a.out)
	t.Header("Run", "Window", "Return", "Sharpe", "Win rate", "Profit factor", "Max DD", "Trades", "Report")
	for _, r := range runs {
		err := t.Append(
			r.ID,
			r.StartDate.Format(time.DateOnly)+" .. "+r.EndDate.Format(time.DateOnly),
			fmt.Sprintf("%.2f%%", r.TotalReturn*100),
			fmt.Sprintf("%.2f", r.SharpeRatio),
			fmt.Sprintf("%.1f%%", r.WinRate*100),
			formatProfitFactor(r.ProfitFactor),
			fmt.Sprintf("%.2f%%", r.MaxDrawdown*100),
			fmt.Sprintf("%d", r.TradeCount),
			r.ReportPath,
		)
		if err != nil {
			return fmt.Errorf("app: list runs: %w", err)
		}
	}
	return t.Render()
}

// ShowRun prints the full report of an archived run.
func (a *App) ShowRun(ctx context.Context, runID string) error {
	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}
	if deps.Archiver == nil {
		return fmt.Errorf("app: show run %s: s3 archive is not enabled", runID)
	}
	res, err := deps.Archiver.Fetch(ctx, runID)
	if err != nil {
		return fmt.Errorf("app: show run %s: %w", runID, err)
	}
	return backtest.WriteReport(a.out, res)
}

func formatProfitFactor(pf float64) string {
	if math.IsInf(pf, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", pf)
}
