package dataset

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

func load(t *testing.T) *Dataset {
	t.Helper()
	ds, err := Load("testdata/markets.yaml")
	require.NoError(t, err)
	return ds
}

func TestLoad(t *testing.T) {
	ds := load(t)
	require.Equal(t, 3, ds.Len())

	markets := ds.Markets()
	fed := markets[0]
	assert.Equal(t, "fed-cut-march", fed.ID)
	assert.Equal(t, domain.OutcomeNo, fed.Outcome)
	assert.Equal(t, 0.66, fed.NoPrice)
	require.NotNil(t, fed.ResolutionDate)
	assert.Equal(t, time.Date(2024, 3, 20, 18, 0, 0, 0, time.UTC), *fed.ResolutionDate)
	assert.True(t, fed.Resolved())

	// Missing no_price is derived from yes_price.
	assert.Equal(t, 0.5, markets[1].NoPrice)
	assert.False(t, markets[2].Resolved())
}

func TestResolvedMarketsWindow(t *testing.T) {
	ds := load(t)
	ctx := context.Background()

	all, err := ds.ResolvedMarkets(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "fed-cut-march", all[0].ID)

	some, err := ds.ResolvedMarkets(ctx, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "team-a-wins", some[0].ID)
}

func TestPredict(t *testing.T) {
	ds := load(t)
	m := ds.Markets()[0]

	p, err := ds.Predict(context.Background(), m, m.ResolutionDate.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, domain.Prediction{Probability: 0.15, Confidence: 0.85}, p)

	_, err = ds.Predict(context.Background(), m, m.ResolutionDate.AddDate(0, 0, -30))
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = ds.Predict(context.Background(), domain.Market{ID: "nope"}, time.Now())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse([]byte("markets:\n  - id: a\n  - id: a\n"))
	require.Error(t, err)

	_, err = Parse([]byte("markets:\n  - id: a\n    outcome: MAYBE\n"))
	require.Error(t, err)

	_, err = Parse([]byte("markets:\n  - question: no id\n"))
	require.Error(t, err)

	for _, bad := range []string{
		"markets:\n  - id: a\n    yes_price: 1.2\n",
		"markets:\n  - id: a\n    yes_price: .nan\n",
		"markets:\n  - id: a\n    predictions:\n      - {days_before: 7, probability: -0.1, confidence: 0.8}\n",
		"markets:\n  - id: a\n    predictions:\n      - {days_before: 7, probability: 0.6, confidence: .nan}\n",
	} {
		_, err = Parse([]byte(bad))
		assert.ErrorContains(t, err, "outside [0,1]", bad)
	}
}

func TestParseJSON(t *testing.T) {
	ds, err := Parse([]byte(`{"markets":[{"id":"a","yes_price":0.4,"volume_24h":1500,"outcome":"yes"}]}`))
	require.NoError(t, err)
	m := ds.Markets()[0]
	assert.Equal(t, domain.OutcomeYes, m.Outcome)
	assert.Equal(t, 1500.0, m.Volume24h)
	assert.InDelta(t, 0.6, m.NoPrice, 1e-12)
	assert.False(t, m.Resolved())
}
