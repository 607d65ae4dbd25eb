package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// WriteReport renders a human-readable summary of res.
func WriteReport(w io.Writer, res *Result) error {
	m := res.Metrics
	fmt.Fprintf(w, "========================================================\n")
	fmt.Fprintf(w, "  BACKTEST %s\n", res.RunID)
	fmt.Fprintf(w, "  %s to %s\n", res.StartDate.Format(time.DateOnly), res.EndDate.Format(time.DateOnly))
	fmt.Fprintf(w, "========================================================\n\n")

	summary := tablewriter.NewWriter(w)
	summary.Header("Metric", "Value")
	rows := [][]string{
		{"Initial capital", usd(m.InitialCapital)},
		{"Final value", usd(m.FinalValue)},
		{"Total return", pct(m.TotalReturn)},
		{"Annualized return", pct(m.AnnualizedReturn)},
		{"Sharpe ratio", fmt.Sprintf("%.2f", m.SharpeRatio)},
		{"Win rate", pct(m.WinRate)},
		{"Profit factor", profitFactor(m.ProfitFactor)},
		{"Max drawdown", pct(m.MaxDrawdown)},
		{"Trades", fmt.Sprintf("%d (%d won, %d lost)", m.TotalTrades, m.WinningTrades, m.LosingTrades)},
		{"Fees", usd(m.TotalFees)},
		{"Markets evaluated", strconv.Itoa(res.MarketsEvaluated)},
		{"Time-points", strconv.Itoa(res.TimePoints)},
		{"Errors", strconv.Itoa(res.Errors)},
	}
	for _, r := range rows {
		if err := summary.Append(r[0], r[1]); err != nil {
			return fmt.Errorf("backtest: report: %w", err)
		}
	}
	if err := summary.Render(); err != nil {
		return fmt.Errorf("backtest: report: %w", err)
	}

	if len(res.Portfolio.Trades) == 0 {
		fmt.Fprintf(w, "\n  no trades\n")
		return nil
	}

	fmt.Fprintf(w, "\n  --- TRADES ---\n")
	trades := tablewriter.NewWriter(w)
	trades.Header("Market", "Side", "Entry", "Exit", "Size", "PnL", "Closed")
	for _, t := range res.Portfolio.Trades {
		err := trades.Append(
			t.MarketID,
			string(t.Side),
			fmt.Sprintf("%.3f", t.EntryPrice),
			fmt.Sprintf("%.3f", t.ExitPrice),
			usd(t.Size),
			usd(t.PnL),
			t.ExitTime.Format(time.DateOnly),
		)
		if err != nil {
			return fmt.Errorf("backtest: report: %w", err)
		}
	}
	if err := trades.Render(); err != nil {
		return fmt.Errorf("backtest: report: %w", err)
	}
	return nil
}

var tradeColumns = []string{
	"id", "market_id", "side", "entry_price", "exit_price", "size", "pnl", "fees", "entry_time", "exit_time",
}

// WriteTradesCSV writes trades as CSV with a header row.
func WriteTradesCSV(w io.Writer, trades []domain.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeColumns); err != nil {
		return fmt.Errorf("backtest: csv header: %w", err)
	}
	for _, t := range trades {
		rec := []string{
			t.ID,
			t.MarketID,
			string(t.Side),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.Size),
			formatFloat(t.PnL),
			formatFloat(t.Fees),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("backtest: csv row %s: %w", t.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func usd(v float64) string { return fmt.Sprintf("$%.2f", v) }

func pct(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }

func profitFactor(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", v)
}
