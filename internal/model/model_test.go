package model

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testMarket(yes float64) domain.Market {
	res := now.Add(10 * 24 * time.Hour)
	return domain.Market{
		ID:             "m1",
		Question:       "Will the bill pass the Senate?",
		YesPrice:       yes,
		NoPrice:        1 - yes,
		Volume24h:      math.E - 1,
		Liquidity:      0,
		ResolutionDate: &res,
		CreatedAt:      now.Add(-4 * 24 * time.Hour),
	}
}

func TestCombineSingle(t *testing.T) {
	p, err := Combine([]Output{{Kind: KindNeural, Probability: 0.7, Confidence: 0.8}}, map[Kind]float64{KindNeural: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, p.Probability, 1e-12)
	assert.InDelta(t, 0.8, p.Confidence, 1e-12)
}

func TestCombineDisagreementLowersConfidence(t *testing.T) {
	outs := []Output{
		{Kind: KindGradientBoosted, Probability: 0.6, Confidence: 1},
		{Kind: KindNeural, Probability: 0.8, Confidence: 1},
	}
	p, err := Combine(outs, map[Kind]float64{KindGradientBoosted: 1, KindNeural: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, p.Probability, 1e-12)
	assert.InDelta(t, 0.8, p.Confidence, 1e-12)
}

func TestCombineConfidenceWeighting(t *testing.T) {
	outs := []Output{
		{Kind: KindGradientBoosted, Probability: 0.9, Confidence: 0.9},
		{Kind: KindNLP, Probability: 0.5, Confidence: 0.1},
	}
	p, err := Combine(outs, map[Kind]float64{KindGradientBoosted: 1, KindNLP: 1})
	require.NoError(t, err)
	assert.InDelta(t, (0.81+0.05)/1.0, p.Probability, 1e-12)
}

func TestCombineZeroConfidenceFallsBackToWeights(t *testing.T) {
	outs := []Output{
		{Kind: KindGradientBoosted, Probability: 0.6},
		{Kind: KindNeural, Probability: 0.8},
	}
	p, err := Combine(outs, map[Kind]float64{KindGradientBoosted: 1, KindNeural: 3})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, p.Probability, 1e-12)
	assert.Zero(t, p.Confidence)
}

func TestCombineIgnoresModelIdentity(t *testing.T) {
	a := []Output{{Kind: KindGradientBoosted, Probability: 0.3, Confidence: 0.5}, {Kind: KindNeural, Probability: 0.6, Confidence: 0.7}}
	b := []Output{{Kind: KindNeural, Probability: 0.3, Confidence: 0.5}, {Kind: KindGradientBoosted, Probability: 0.6, Confidence: 0.7}}
	w := map[Kind]float64{KindGradientBoosted: 1, KindNeural: 1}

	pa, err := Combine(a, w)
	require.NoError(t, err)
	pb, err := Combine(b, w)
	require.NoError(t, err)
	assert.InDelta(t, pa.Probability, pb.Probability, 1e-12)
	assert.InDelta(t, pa.Confidence, pb.Confidence, 1e-12)
}

func TestCombineNoOutputs(t *testing.T) {
	_, err := Combine(nil, map[Kind]float64{KindNeural: 1})
	require.ErrorIs(t, err, ErrNoOutputs)

	_, err = Combine([]Output{{Kind: KindNLP, Probability: 0.5, Confidence: 1}}, map[Kind]float64{KindNeural: 1})
	require.ErrorIs(t, err, ErrNoOutputs)
}

func TestBuildFeatures(t *testing.T) {
	f := BuildFeatures(testMarket(0.25), now)
	assert.Equal(t, 0.25, f[FeatYesPrice])
	assert.Equal(t, 0.75, f[FeatNoPrice])
	assert.InDelta(t, 0, f[FeatOverround], 1e-12)
	assert.InDelta(t, 1, f[FeatLogVolume], 1e-12)
	assert.InDelta(t, 10, f[FeatDaysToResolution], 1e-12)
	assert.InDelta(t, 4, f[FeatAgeDays], 1e-12)
	assert.InDelta(t, 0.5, f[FeatPriceExtremity], 1e-12)
	assert.Len(t, f.Map(), NumFeatures)

	m := testMarket(0.5)
	m.ResolutionDate = nil
	assert.Equal(t, -1.0, BuildFeatures(m, now)[FeatDaysToResolution])
}

func TestGradientBoostedFromFile(t *testing.T) {
	m, err := LoadGradientBoosted("testdata/gbdt.json")
	require.NoError(t, err)
	assert.Equal(t, KindGradientBoosted, m.Kind())

	// yes 0.4 -> +1.0; log volume 1 < 5 -> -0.2. Score 0.5*(1.0-0.2) = 0.4.
	out, err := m.Predict(context.Background(), testMarket(0.4), BuildFeatures(testMarket(0.4), now))
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(0.4), out.Probability, 1e-12)
	assert.InDelta(t, 0.5, out.Confidence, 1e-12)

	// yes 0.6 -> -1.0 and -0.2 agree.
	out, err = m.Predict(context.Background(), testMarket(0.6), BuildFeatures(testMarket(0.6), now))
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(-0.6), out.Probability, 1e-12)
	assert.Equal(t, 1.0, out.Confidence)
}

func TestNeuralFromFile(t *testing.T) {
	m, err := LoadNeural("testdata/mlp.json")
	require.NoError(t, err)

	// 2*0.5 - 1 + 0.1*1 = 0.1
	out, err := m.Predict(context.Background(), testMarket(0.5), BuildFeatures(testMarket(0.5), now))
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(0.1), out.Probability, 1e-12)
	assert.InDelta(t, 0.5+math.Abs(sigmoid(0.1)-0.5), out.Confidence, 1e-12)

	_, err = LoadNeural("testdata/mlp_bad.json")
	require.Error(t, err)
	_, err = LoadNeural("testdata/missing.json")
	require.Error(t, err)
}

func TestNLPSentiment(t *testing.T) {
	m := NewNLP(DefaultNLPConfig())

	score, hits := m.Sentiment("Will the bill pass the Senate?")
	assert.Equal(t, 1.0, score)
	assert.Equal(t, 1, hits)

	out, err := m.Predict(context.Background(), testMarket(0.5), BuildFeatures(testMarket(0.5), now))
	require.NoError(t, err)
	assert.InDelta(t, 0.58, out.Probability, 1e-12)
	assert.InDelta(t, 0.2, out.Confidence, 1e-12)

	neutral := testMarket(0.5)
	neutral.Question = "Who will host the show?"
	out, err = m.Predict(context.Background(), neutral, BuildFeatures(neutral, now))
	require.NoError(t, err)
	assert.Equal(t, 0.5, out.Probability)
	assert.Zero(t, out.Confidence)
}

type countingModel struct {
	calls int
	out   Output
	err   error
}

func (c *countingModel) sealed()    {}
func (c *countingModel) Kind() Kind { return c.out.Kind }
func (c *countingModel) Predict(context.Context, domain.Market, FeatureVector) (Output, error) {
	c.calls++
	return c.out, c.err
}

func TestEnsembleUsesCache(t *testing.T) {
	cm := &countingModel{out: Output{Kind: KindNeural, Probability: 0.7, Confidence: 0.9}}
	cache := NewMemoryCache()
	e := NewEnsemble([]Model{cm}, map[Kind]float64{KindNeural: 1}, cache,
		CachePolicy{TTL: time.Hour, MaxPriceDelta: 0.05, ResolutionWindow: 24 * time.Hour}, discard())
	ctx := context.Background()

	p1, err := e.Predict(ctx, testMarket(0.5), now)
	require.NoError(t, err)
	p2, err := e.Predict(ctx, testMarket(0.52), now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, cm.calls)

	// Price moved too far.
	_, err = e.Predict(ctx, testMarket(0.60), now.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, cm.calls)

	// TTL expired.
	_, err = e.Predict(ctx, testMarket(0.60), now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, cm.calls)

	require.NoError(t, cache.Invalidate(ctx, "m1"))
	_, err = cache.Get(ctx, "m1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEnsembleSkipsFailingModel(t *testing.T) {
	good := &countingModel{out: Output{Kind: KindNeural, Probability: 0.7, Confidence: 1}}
	bad := &countingModel{out: Output{Kind: KindGradientBoosted}, err: errors.New("boom")}
	e := NewEnsemble([]Model{bad, good}, map[Kind]float64{KindNeural: 1, KindGradientBoosted: 1}, nil, CachePolicy{}, discard())

	p, err := e.Predict(context.Background(), testMarket(0.5), now)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, p.Probability, 1e-12)

	e = NewEnsemble([]Model{bad}, map[Kind]float64{KindGradientBoosted: 1}, nil, CachePolicy{}, discard())
	_, err = e.Predict(context.Background(), testMarket(0.5), now)
	require.ErrorIs(t, err, ErrNoOutputs)
}

func TestCachePolicyResolutionWindow(t *testing.T) {
	p := CachePolicy{ResolutionWindow: 48 * time.Hour}
	m := testMarket(0.5)
	entry := domain.CachedPrediction{MarketID: "m1", YesPrice: 0.5, ComputedAt: now}

	assert.True(t, p.Fresh(entry, m, now.Add(time.Hour)))
	assert.False(t, p.Fresh(entry, m, now.Add(9*24*time.Hour)))
	// Never serve a prediction computed after the requested time.
	assert.False(t, p.Fresh(entry, m, now.Add(-time.Minute)))
}
