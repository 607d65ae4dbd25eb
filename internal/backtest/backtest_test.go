package backtest

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrands/ai-ml-trading-bot/internal/dataset"
	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/risk"
	"github.com/iambrands/ai-ml-trading-bot/internal/signal"
	"github.com/iambrands/ai-ml-trading-bot/internal/sizing"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func tsPtr(s string) *time.Time {
	t := ts(s)
	return &t
}

// fixture: team-a resolves first even though it is listed second.
func fixture(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New([]dataset.MarketRecord{
		{
			ID:             "fed-cut-march",
			YesPrice:       0.35,
			Volume24h:      25000,
			CreatedAt:      ts("2024-01-02T00:00:00Z"),
			ResolutionDate: tsPtr("2024-03-20T18:00:00Z"),
			Outcome:        "NO",
			Predictions: []dataset.RecordedPrediction{
				{DaysBefore: 14, Probability: 0.20, Confidence: 0.80},
				{DaysBefore: 7, Probability: 0.15, Confidence: 0.85},
				{DaysBefore: 3, Probability: 0.10, Confidence: 0.90},
				{DaysBefore: 1, Probability: 0.05, Confidence: 0.95},
			},
		},
		{
			ID:             "team-a-wins",
			YesPrice:       0.50,
			Volume24h:      8000,
			CreatedAt:      ts("2024-02-20T00:00:00Z"),
			ResolutionDate: tsPtr("2024-03-10T20:00:00Z"),
			Outcome:        "YES",
			Predictions: []dataset.RecordedPrediction{
				{DaysBefore: 7, Probability: 0.68, Confidence: 0.80},
				{DaysBefore: 3, Probability: 0.70, Confidence: 0.80},
			},
		},
		{
			ID:        "open-market",
			YesPrice:  0.02,
			Volume24h: 100,
			CreatedAt: ts("2024-01-01T00:00:00Z"),
		},
	})
	require.NoError(t, err)
	return ds
}

func config() Config {
	return Config{
		InitialCapital: 10_000,
		StartDate:      ts("2024-01-01T00:00:00Z"),
		EndDate:        ts("2024-12-31T00:00:00Z"),
		FeeRate:        0.02,
		Signal:         signal.Config{MinEdge: 0.05, MinConfidence: 0.6, MinLiquidity: 1000},
		Sizing:         sizing.Config{KellyFraction: 0.25, MaxPositionPct: 0.10, MaxTotalExposure: 0.50},
		Limits:         risk.LimitsConfig{MaxPositionPct: 0.10, MaxTotalExposure: 0.50, MaxPositions: 10, MaxDailyLoss: 0.05},
	}
}

func run(t *testing.T, cfg Config) *Result {
	t.Helper()
	ds := fixture(t)
	sim := NewSimulator(cfg, ds, ds, discard(), WithRunID(func() string { return "run-1" }))
	res, err := sim.Run(context.Background())
	require.NoError(t, err)
	return res
}

func TestRunReplaysAndSettles(t *testing.T) {
	res := run(t, config())

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 2, res.MarketsEvaluated)
	assert.Equal(t, 8, res.TimePoints)
	// team-a has no recorded prediction 14 or 1 days out.
	assert.Equal(t, 2, res.Errors)

	trades := res.Portfolio.Trades
	require.Len(t, trades, 2)

	teamA := trades[0]
	assert.Equal(t, "team-a-wins", teamA.MarketID)
	assert.Equal(t, "team-a-wins@2024-03-03T20:00:00Z", teamA.ID)
	assert.Equal(t, domain.SideYes, teamA.Side)
	assert.InDelta(t, 720, teamA.Size, 1e-9)
	assert.Equal(t, 1.0, teamA.ExitPrice)
	assert.InDelta(t, 360*0.98, teamA.PnL, 1e-9)
	assert.Equal(t, ts("2024-03-03T20:00:00Z"), teamA.EntryTime)
	assert.Equal(t, ts("2024-03-10T20:00:00Z"), teamA.ExitTime)

	fed := trades[1]
	assert.Equal(t, "fed-cut-march", fed.MarketID)
	assert.Equal(t, domain.SideNo, fed.Side)
	assert.Equal(t, 0.0, fed.ExitPrice)
	assert.Greater(t, fed.PnL, 0.0)
	assert.InDelta(t, 0.35*fed.Size*0.98, fed.PnL, 1e-9)

	assert.Empty(t, res.Portfolio.Positions)
	assert.InDelta(t, 10_000+teamA.PnL+fed.PnL, res.Portfolio.TotalValue, 1e-9)
	assert.Equal(t, 2, res.Metrics.TotalTrades)
	assert.Equal(t, 1.0, res.Metrics.WinRate)
}

func TestRunIsDeterministic(t *testing.T) {
	a := run(t, config())
	b := run(t, config())
	assert.Equal(t, a.Portfolio.Trades, b.Portfolio.Trades)
	assert.Equal(t, a.Metrics, b.Metrics)
}

func TestRunWindowFiltersTimePoints(t *testing.T) {
	cfg := config()
	cfg.StartDate = ts("2024-03-08T00:00:00Z")
	cfg.EndDate = ts("2024-03-31T00:00:00Z")
	res := run(t, cfg)

	// team-a keeps only the 1-day point; fed keeps 7, 3 and 1.
	assert.Equal(t, 4, res.TimePoints)
	require.Len(t, res.Portfolio.Trades, 1)
	assert.Equal(t, "fed-cut-march", res.Portfolio.Trades[0].MarketID)
}

func TestRunSkipsPointsBeforeCreation(t *testing.T) {
	cfg := config()
	cfg.DaysBefore = []int{30, 7}
	res := run(t, cfg)

	// team-a was created 19 days before it resolved.
	assert.Equal(t, 3, res.TimePoints)
}

func TestRunWithRiskLimits(t *testing.T) {
	cfg := config()
	cfg.EnforceRiskLimits = true
	cfg.Limits.MaxPositionPct = 0.01
	res := run(t, cfg)
	assert.Empty(t, res.Portfolio.Trades)
	assert.Equal(t, 2, res.Errors)
}

func TestRunRejectsBadConfig(t *testing.T) {
	ds := fixture(t)
	cfg := config()
	cfg.EndDate = cfg.StartDate.Add(-time.Hour)
	_, err := NewSimulator(cfg, ds, ds, discard()).Run(context.Background())
	require.Error(t, err)

	cfg = config()
	cfg.InitialCapital = 0
	_, err = NewSimulator(cfg, ds, ds, discard()).Run(context.Background())
	require.Error(t, err)
}

type failingSource struct{}

func (failingSource) ResolvedMarkets(context.Context, time.Time, time.Time) ([]domain.Market, error) {
	return nil, errors.New("boom")
}

func TestRunSourceFailureAborts(t *testing.T) {
	_, err := NewSimulator(config(), failingSource{}, fixture(t), discard()).Run(context.Background())
	require.Error(t, err)
}

func TestRunCancelled(t *testing.T) {
	ds := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSimulator(config(), ds, ds, discard()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDefaultRunIDIsULID(t *testing.T) {
	ds := fixture(t)
	res, err := NewSimulator(config(), ds, ds, discard()).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.RunID, 26)
}

func TestWriteReport(t *testing.T) {
	res := run(t, config())
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, res))
	out := buf.String()
	assert.Contains(t, out, "BACKTEST run-1")
	assert.Contains(t, out, "team-a-wins")
	assert.Contains(t, out, "inf")
}

func TestWriteTradesCSV(t *testing.T) {
	res := run(t, config())
	var buf bytes.Buffer
	require.NoError(t, WriteTradesCSV(&buf, res.Portfolio.Trades))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, tradeColumns, rows[0])
	assert.Equal(t, "team-a-wins", rows[1][1])
	assert.Equal(t, "2024-03-10T20:00:00Z", rows[1][9])
}

func TestResultJSON(t *testing.T) {
	res := run(t, config())
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"profit_factor":"inf"`)

	r := res.Run("backtests/run-1/result.json", ts("2024-04-01T00:00:00Z"))
	assert.Equal(t, "run-1", r.ID)
	assert.Equal(t, 2, r.TradeCount)
}
