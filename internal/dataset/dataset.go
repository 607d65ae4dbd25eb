// Package dataset loads historical resolved markets, optionally with the
// predictions recorded for them, from a YAML or JSON file. It serves offline
// backtests as both the market source and the predictor.
package dataset

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// RecordedPrediction is a prediction captured days_before resolution.
type RecordedPrediction struct {
	DaysBefore  int     `yaml:"days_before"`
	Probability float64 `yaml:"probability"`
	Confidence  float64 `yaml:"confidence"`
}

// MarketRecord is one market as stored in the file.
type MarketRecord struct {
	ID             string               `yaml:"id"`
	Question       string               `yaml:"question"`
	Slug           string               `yaml:"slug"`
	YesPrice       float64              `yaml:"yes_price"`
	NoPrice        float64              `yaml:"no_price"`
	Volume24h      float64              `yaml:"volume_24h"`
	Liquidity      float64              `yaml:"liquidity"`
	CreatedAt      time.Time            `yaml:"created_at"`
	ResolutionDate *time.Time           `yaml:"resolution_date"`
	Outcome        string               `yaml:"outcome"`
	Predictions    []RecordedPrediction `yaml:"predictions"`
}

type file struct {
	Markets []MarketRecord `yaml:"markets"`
}

// Dataset is an in-memory set of historical markets.
type Dataset struct {
	records []MarketRecord
	byID    map[string]int
}

var (
	_ domain.ResolvedMarketSource = (*Dataset)(nil)
	_ domain.Predictor            = (*Dataset)(nil)
)

// Load reads a dataset file. JSON is accepted as a subset of YAML.
func Load(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read %s: %w", path, err)
	}
	ds, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return ds, nil
}

// Parse decodes dataset content.
func Parse(raw []byte) (*Dataset, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return New(f.Markets)
}

// New builds a Dataset from records, validating IDs, outcomes, prices and
// recorded predictions.
func New(records []MarketRecord) (*Dataset, error) {
	ds := &Dataset{records: records, byID: make(map[string]int, len(records))}
	for i, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("market %d: missing id", i)
		}
		if _, dup := ds.byID[r.ID]; dup {
			return nil, fmt.Errorf("market %s: duplicate id", r.ID)
		}
		switch strings.ToUpper(r.Outcome) {
		case "", "YES", "NO":
		default:
			return nil, fmt.Errorf("market %s: invalid outcome %q", r.ID, r.Outcome)
		}
		if !unit(r.YesPrice) {
			return nil, fmt.Errorf("market %s: yes_price %v outside [0,1]", r.ID, r.YesPrice)
		}
		for _, p := range r.Predictions {
			if !unit(p.Probability) || !unit(p.Confidence) {
				return nil, fmt.Errorf("market %s: prediction %dd: probability %v confidence %v outside [0,1]",
					r.ID, p.DaysBefore, p.Probability, p.Confidence)
			}
		}
		ds.byID[r.ID] = i
	}
	return ds, nil
}

// unit reports whether v is a probability. NaN fails every comparison.
func unit(v float64) bool { return v >= 0 && v <= 1 }

// Len returns the number of markets.
func (d *Dataset) Len() int { return len(d.records) }

// Markets returns every market in file order.
func (d *Dataset) Markets() []domain.Market {
	out := make([]domain.Market, len(d.records))
	for i, r := range d.records {
		out[i] = r.market()
	}
	return out
}

// ResolvedMarkets returns markets whose resolution date falls within
// [start, end], in file order.
func (d *Dataset) ResolvedMarkets(ctx context.Context, start, end time.Time) ([]domain.Market, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Market
	for _, r := range d.records {
		if r.ResolutionDate == nil {
			continue
		}
		if r.ResolutionDate.Before(start) || r.ResolutionDate.After(end) {
			continue
		}
		out = append(out, r.market())
	}
	return out, nil
}

// Predict returns the prediction recorded for the number of whole days
// between at and the market's resolution.
func (d *Dataset) Predict(_ context.Context, market domain.Market, at time.Time) (domain.Prediction, error) {
	i, ok := d.byID[market.ID]
	if !ok {
		return domain.Prediction{}, fmt.Errorf("dataset: market %s: %w", market.ID, domain.ErrNotFound)
	}
	r := d.records[i]
	if r.ResolutionDate == nil {
		return domain.Prediction{}, fmt.Errorf("dataset: market %s has no resolution date: %w", market.ID, domain.ErrNotFound)
	}

	days := int(math.Round(r.ResolutionDate.Sub(at).Hours() / 24))
	for _, p := range r.Predictions {
		if p.DaysBefore == days {
			return domain.Prediction{Probability: p.Probability, Confidence: p.Confidence}, nil
		}
	}
	return domain.Prediction{}, fmt.Errorf("dataset: market %s: no prediction %d days out: %w", market.ID, days, domain.ErrNotFound)
}

func (r MarketRecord) market() domain.Market {
	m := domain.Market{
		ID:        r.ID,
		Question:  r.Question,
		Slug:      r.Slug,
		YesPrice:  r.YesPrice,
		NoPrice:   r.NoPrice,
		Volume24h: r.Volume24h,
		Liquidity: r.Liquidity,
		CreatedAt: r.CreatedAt,
		Outcome:   domain.Outcome(strings.ToUpper(r.Outcome)),
	}
	if r.NoPrice == 0 && r.YesPrice > 0 {
		m.NoPrice = 1 - r.YesPrice
	}
	if r.ResolutionDate != nil {
		res := r.ResolutionDate.UTC()
		m.ResolutionDate = &res
		m.Closed = m.Outcome != domain.OutcomeNone
	}
	return m
}
