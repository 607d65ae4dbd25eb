package model

import (
	"math"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// Feature indexes into a FeatureVector.
const (
	FeatYesPrice = iota
	FeatNoPrice
	FeatOverround
	FeatLogVolume
	FeatLogLiquidity
	FeatDaysToResolution
	FeatAgeDays
	FeatPriceExtremity
	NumFeatures
)

// FeatureNames lists the features in vector order.
var FeatureNames = [NumFeatures]string{
	"yes_price",
	"no_price",
	"overround",
	"log_volume_24h",
	"log_liquidity",
	"days_to_resolution",
	"age_days",
	"price_extremity",
}

// FeatureVector is the model input derived from one market snapshot.
type FeatureVector [NumFeatures]float64

// BuildFeatures derives the feature vector of market as of at. Unknown
// resolution dates encode as -1 days.
func BuildFeatures(market domain.Market, at time.Time) FeatureVector {
	var f FeatureVector
	f[FeatYesPrice] = market.YesPrice
	f[FeatNoPrice] = market.NoPrice
	f[FeatOverround] = market.YesPrice + market.NoPrice - 1
	f[FeatLogVolume] = math.Log1p(math.Max(market.Volume24h, 0))
	f[FeatLogLiquidity] = math.Log1p(math.Max(market.Liquidity, 0))
	f[FeatDaysToResolution] = -1
	if market.ResolutionDate != nil {
		f[FeatDaysToResolution] = math.Max(market.ResolutionDate.Sub(at).Hours()/24, 0)
	}
	if !market.CreatedAt.IsZero() {
		f[FeatAgeDays] = math.Max(at.Sub(market.CreatedAt).Hours()/24, 0)
	}
	f[FeatPriceExtremity] = math.Abs(market.YesPrice-0.5) * 2
	return f
}

// Map returns the features keyed by name.
func (f FeatureVector) Map() map[string]float64 {
	out := make(map[string]float64, NumFeatures)
	for i, name := range FeatureNames {
		out[name] = f[i]
	}
	return out
}
