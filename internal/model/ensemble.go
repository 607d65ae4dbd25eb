package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// Ensemble runs every configured model and combines their outputs. It
// implements domain.Predictor.
type Ensemble struct {
	models  []Model
	weights map[Kind]float64
	cache   domain.PredictionCache
	policy  CachePolicy
	logger  *slog.Logger
}

var _ domain.Predictor = (*Ensemble)(nil)

// NewEnsemble creates an Ensemble. cache may be nil to disable caching.
func NewEnsemble(models []Model, weights map[Kind]float64, cache domain.PredictionCache, policy CachePolicy, logger *slog.Logger) *Ensemble {
	return &Ensemble{
		models:  models,
		weights: weights,
		cache:   cache,
		policy:  policy,
		logger:  logger.With(slog.String("component", "ensemble")),
	}
}

// Kinds returns the kinds of the configured models.
func (e *Ensemble) Kinds() []Kind {
	out := make([]Kind, len(e.models))
	for i, m := range e.models {
		out[i] = m.Kind()
	}
	return out
}

// Predict returns a cached prediction when the cache policy allows it, and
// otherwise runs the models. A failing model is skipped; the call fails only
// when no model produced an output.
func (e *Ensemble) Predict(ctx context.Context, market domain.Market, at time.Time) (domain.Prediction, error) {
	if e.cache != nil {
		entry, err := e.cache.Get(ctx, market.ID)
		switch {
		case err == nil && e.policy.Fresh(entry, market, at):
			return entry.Prediction, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			e.logger.WarnContext(ctx, "prediction cache read failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	features := BuildFeatures(market, at)
	outputs := make([]Output, 0, len(e.models))
	for _, m := range e.models {
		out, err := m.Predict(ctx, market, features)
		if err != nil {
			e.logger.WarnContext(ctx, "model failed",
				slog.String("model", string(m.Kind())),
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		outputs = append(outputs, out)
	}

	pred, err := Combine(outputs, e.weights)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("model: predict %s: %w", market.ID, err)
	}

	if e.cache != nil {
		entry := domain.CachedPrediction{
			MarketID:   market.ID,
			Prediction: pred,
			YesPrice:   market.YesPrice,
			ComputedAt: at,
		}
		if err := e.cache.Set(ctx, entry, e.policy.TTL); err != nil {
			e.logger.WarnContext(ctx, "prediction cache write failed",
				slog.String("market_id", market.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return pred, nil
}
