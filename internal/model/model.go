// Package model holds the probability models and the ensemble that combines
// them into a single prediction.
//
// The set of models is closed: only the variants defined in this package
// satisfy Model. The ensemble combiner works on their outputs alone and
// never inspects which variant produced them.
package model

import (
	"context"
	"errors"
	"math"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// Kind names a model variant.
type Kind string

const (
	KindGradientBoosted Kind = "gradient_boosted"
	KindNeural          Kind = "neural"
	KindNLP             Kind = "nlp"
)

// ErrNoOutputs is returned when nothing is left to combine.
var ErrNoOutputs = errors.New("model: no model outputs to combine")

// Output is one model's forecast.
type Output struct {
	Kind        Kind
	Probability float64
	Confidence  float64
}

// Model is a probability model. It is implemented only by GradientBoosted,
// Neural and NLP.
type Model interface {
	Kind() Kind
	Predict(ctx context.Context, market domain.Market, features FeatureVector) (Output, error)
	sealed()
}

// Combine aggregates model outputs into one prediction. weights are keyed by
// kind; outputs without a positive weight are ignored.
//
// The probability is the weight x confidence average of the model
// probabilities (plain weights when every confidence is zero). The
// confidence is the weighted mean confidence scaled down by disagreement
// between models, measured as twice the weighted standard deviation of the
// probabilities.
func Combine(outputs []Output, weights map[Kind]float64) (domain.Prediction, error) {
	var sumW, sumWC, sumWP, sumWCP float64
	used := 0
	for _, o := range outputs {
		w := weights[o.Kind]
		if w <= 0 || math.IsNaN(o.Probability) {
			continue
		}
		c := clamp01(o.Confidence)
		p := clamp01(o.Probability)
		sumW += w
		sumWC += w * c
		sumWP += w * p
		sumWCP += w * c * p
		used++
	}
	if used == 0 || sumW == 0 {
		return domain.Prediction{}, ErrNoOutputs
	}

	prob := sumWP / sumW
	if sumWC > 0 {
		prob = sumWCP / sumWC
	}

	mean := sumWP / sumW
	var variance float64
	for _, o := range outputs {
		w := weights[o.Kind]
		if w <= 0 || math.IsNaN(o.Probability) {
			continue
		}
		d := clamp01(o.Probability) - mean
		variance += w * d * d
	}
	dispersion := 2 * math.Sqrt(variance/sumW)

	return domain.Prediction{
		Probability: clamp01(prob),
		Confidence:  clamp01(sumWC / sumW * (1 - dispersion)),
	}, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
