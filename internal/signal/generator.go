// Package signal turns a market snapshot and a model prediction into a
// directional trading decision.
package signal

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// Strength thresholds on |edge|.
const (
	StrongEdge = 0.15
	MediumEdge = 0.10
)

// SkipReason names why no signal was produced.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipEdge          SkipReason = "edge_below_min"
	SkipConfidence    SkipReason = "confidence_below_min"
	SkipLiquidity     SkipReason = "liquidity_below_min"
	SkipInvalidMarket SkipReason = "invalid_market_price"
)

// Config holds the signal thresholds.
type Config struct {
	MinEdge       float64
	MinConfidence float64
	MinLiquidity  float64 // minimum 24h volume in USD
}

// IDFunc assigns an ID to a new signal.
type IDFunc func(market domain.Market, at time.Time) string

// RandomID assigns a random UUID.
func RandomID(domain.Market, time.Time) string { return uuid.NewString() }

// DeterministicID derives the ID from the market and evaluation time, so
// replays over the same inputs produce the same IDs.
func DeterministicID(market domain.Market, at time.Time) string {
	return market.ID + "@" + at.UTC().Format(time.RFC3339)
}

// Generator produces trading signals.
type Generator struct {
	cfg    Config
	newID  IDFunc
	logger *slog.Logger
}

// NewGenerator creates a Generator. A nil idFunc defaults to RandomID.
func NewGenerator(cfg Config, idFunc IDFunc, logger *slog.Logger) *Generator {
	if idFunc == nil {
		idFunc = RandomID
	}
	return &Generator{
		cfg:    cfg,
		newID:  idFunc,
		logger: logger.With(slog.String("component", "signal")),
	}
}

// Config returns the thresholds in use.
func (g *Generator) Config() Config { return g.cfg }

// GenerateSignal returns a signal for market, or false when a threshold
// filters it out. Each skip is logged with its reason.
func (g *Generator) GenerateSignal(ctx context.Context, market domain.Market, pred domain.Prediction, at time.Time) (domain.TradingSignal, bool) {
	sig, reason := g.Evaluate(market, pred, at)
	if reason != SkipNone {
		g.logger.DebugContext(ctx, "signal skipped",
			slog.String("market_id", market.ID),
			slog.String("reason", string(reason)),
			slog.Float64("probability", pred.Probability),
			slog.Float64("confidence", pred.Confidence),
			slog.Float64("yes_price", market.YesPrice),
			slog.Float64("volume_24h", market.Volume24h),
		)
		return domain.TradingSignal{}, false
	}
	g.logger.InfoContext(ctx, "signal generated",
		slog.String("market_id", market.ID),
		slog.String("side", string(sig.Side)),
		slog.Float64("edge", sig.Edge),
		slog.String("strength", string(sig.Strength)),
	)
	return sig, true
}

// Evaluate applies the thresholds in order (edge, confidence, liquidity)
// and reports the first that fails.
func (g *Generator) Evaluate(market domain.Market, pred domain.Prediction, at time.Time) (domain.TradingSignal, SkipReason) {
	if market.YesPrice < 0 || market.YesPrice > 1 {
		return domain.TradingSignal{}, SkipInvalidMarket
	}

	edge := pred.Probability - market.YesPrice
	switch {
	case math.Abs(edge) < g.cfg.MinEdge:
		return domain.TradingSignal{}, SkipEdge
	case pred.Confidence < g.cfg.MinConfidence:
		return domain.TradingSignal{}, SkipConfidence
	case market.Volume24h < g.cfg.MinLiquidity:
		return domain.TradingSignal{}, SkipLiquidity
	}

	side := domain.SideNo
	if edge > 0 {
		side = domain.SideYes
	}

	return domain.TradingSignal{
		ID:                g.newID(market, at),
		MarketID:          market.ID,
		Side:              side,
		ModelProbability:  pred.Probability,
		MarketProbability: market.YesPrice,
		Edge:              edge,
		Confidence:        pred.Confidence,
		Strength:          StrengthOf(edge),
		Timestamp:         at,
	}, SkipNone
}

// StrengthOf buckets an edge by magnitude.
func StrengthOf(edge float64) domain.SignalStrength {
	switch abs := math.Abs(edge); {
	case abs > StrongEdge:
		return domain.StrengthStrong
	case abs > MediumEdge:
		return domain.StrengthMedium
	default:
		return domain.StrengthWeak
	}
}

// FilterSignals keeps MEDIUM and STRONG signals that meet the confidence
// threshold. Order is preserved.
func (g *Generator) FilterSignals(signals []domain.TradingSignal) []domain.TradingSignal {
	out := make([]domain.TradingSignal, 0, len(signals))
	for _, s := range signals {
		if s.Strength == domain.StrengthWeak || s.Confidence < g.cfg.MinConfidence {
			continue
		}
		out = append(out, s)
	}
	return out
}

// RankSignals returns the signals sorted by expected value, highest first.
// Ties keep their input order.
func RankSignals(signals []domain.TradingSignal) []domain.TradingSignal {
	out := make([]domain.TradingSignal, len(signals))
	copy(out, signals)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExpectedValue() > out[j].ExpectedValue()
	})
	return out
}
