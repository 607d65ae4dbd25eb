// Package sizing converts a trading signal into a USD position size with
// fractional Kelly.
package sizing

import (
	"math"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// Config holds the sizing parameters.
type Config struct {
	KellyFraction    float64 // multiplier applied to full Kelly, e.g. 0.25
	MaxPositionPct   float64
	MaxTotalExposure float64
	MinPositionSize  float64
}

// PositionSizer computes position sizes. It has no state.
type PositionSizer struct {
	cfg Config
}

// NewPositionSizer creates a PositionSizer.
func NewPositionSizer(cfg Config) *PositionSizer {
	return &PositionSizer{cfg: cfg}
}

// KellyFraction returns full Kelly for the signal's side, clamped to [0, 1].
// For a binary contract paying 1 at price p, f = edge / p.
func (s *PositionSizer) KellyFraction(signal domain.TradingSignal) float64 {
	price := signal.Side.PriceOf(signal.MarketProbability)
	if price <= 0 || price >= 1 {
		return 0
	}
	edge := signal.Side.PriceOf(signal.ModelProbability) - price
	return clamp(edge/price, 0, 1)
}

// Size returns the USD size for signal. The clamps run in a fixed order:
// Kelly, the single-position cap, the remaining-exposure cap, a zero floor,
// the minimum position size, and finally [0, bankroll]. The minimum size is
// applied after the exposure cap, so it can push a position past the total
// exposure ceiling.
func (s *PositionSizer) Size(signal domain.TradingSignal, bankroll, currentExposure float64) float64 {
	f := s.KellyFraction(signal)
	size := bankroll * f * s.cfg.KellyFraction * signal.Confidence

	size = math.Min(size, bankroll*s.cfg.MaxPositionPct)

	remaining := bankroll*s.cfg.MaxTotalExposure - currentExposure
	size = math.Min(size, remaining)
	size = math.Max(size, 0)

	size = math.Max(size, s.cfg.MinPositionSize)

	return clamp(size, 0, math.Max(bankroll, 0))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
