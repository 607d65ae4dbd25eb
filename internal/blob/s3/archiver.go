package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/backtest"
	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

const (
	reportPrefix = "backtests/"
	resultFile   = "result.json"
	tradesFile   = "trades.csv"
)

// ResultPath is the object key of a run's JSON result.
func ResultPath(runID string) string { return reportPrefix + runID + "/" + resultFile }

// TradesPath is the object key of a run's trade CSV.
func TradesPath(runID string) string { return reportPrefix + runID + "/" + tradesFile }

// ArchivedRun describes one archived backtest.
type ArchivedRun struct {
	RunID        string
	ResultPath   string
	Size         int64
	LastModified time.Time
}

// ReportArchiver stores backtest results under backtests/<run-id>/.
type ReportArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewReportArchiver creates a ReportArchiver. audit may be nil.
func NewReportArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *ReportArchiver {
	return &ReportArchiver{writer: writer, reader: reader, audit: audit}
}

// Archive uploads result.json and trades.csv and returns the result path. An
// already archived run is never overwritten: domain.ErrAlreadyExists.
func (a *ReportArchiver) Archive(ctx context.Context, res *backtest.Result) (string, error) {
	if res.RunID == "" {
		return "", fmt.Errorf("s3blob: archive: empty run id")
	}

	resultPath := ResultPath(res.RunID)
	exists, err := a.reader.Exists(ctx, resultPath)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", res.RunID, err)
	}
	if exists {
		return "", fmt.Errorf("s3blob: archive %s: %w", res.RunID, domain.ErrAlreadyExists)
	}

	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: encode result: %w", res.RunID, err)
	}
	var csvBuf bytes.Buffer
	if err := backtest.WriteTradesCSV(&csvBuf, res.Portfolio.Trades); err != nil {
		return "", fmt.Errorf("s3blob: archive %s: encode trades: %w", res.RunID, err)
	}

	if err := a.writer.Put(ctx, resultPath, raw, "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", res.RunID, err)
	}
	if err := a.writer.Put(ctx, TradesPath(res.RunID), csvBuf.Bytes(), "text/csv"); err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", res.RunID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "backtest.archived", map[string]any{
			"run_id": res.RunID,
			"path":   resultPath,
			"trades": len(res.Portfolio.Trades),
		}); err != nil {
			return resultPath, fmt.Errorf("s3blob: archive %s: audit: %w", res.RunID, err)
		}
	}
	return resultPath, nil
}

// List returns the archived runs, newest run ID first (run IDs are ULIDs).
func (a *ReportArchiver) List(ctx context.Context) ([]ArchivedRun, error) {
	infos, err := a.reader.List(ctx, reportPrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list runs: %w", err)
	}

	var runs []ArchivedRun
	for _, info := range infos {
		rest := strings.TrimPrefix(info.Path, reportPrefix)
		runID, file := path.Split(rest)
		runID = strings.TrimSuffix(runID, "/")
		if file != resultFile || runID == "" || strings.Contains(runID, "/") {
			continue
		}
		runs = append(runs, ArchivedRun{
			RunID:        runID,
			ResultPath:   info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID > runs[j].RunID })
	return runs, nil
}

// Fetch downloads and decodes a run's result. A missing run is
// domain.ErrNotFound.
func (a *ReportArchiver) Fetch(ctx context.Context, runID string) (*backtest.Result, error) {
	raw, err := a.reader.Get(ctx, ResultPath(runID))
	if err != nil {
		return nil, fmt.Errorf("s3blob: fetch %s: %w", runID, err)
	}
	var res backtest.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("s3blob: fetch %s: decode: %w", runID, err)
	}
	return &res, nil
}
