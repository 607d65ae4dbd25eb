package domain

import (
	"math"
	"time"
)

// Side is the contract side of a binary market.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Opposite returns the other contract side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// PriceOf converts a YES-contract price into the price of side s.
func (s Side) PriceOf(yesPrice float64) float64 {
	if s == SideNo {
		return 1 - yesPrice
	}
	return yesPrice
}

// SignalStrength buckets the magnitude of a signal's edge.
type SignalStrength string

const (
	StrengthWeak   SignalStrength = "WEAK"
	StrengthMedium SignalStrength = "MEDIUM"
	StrengthStrong SignalStrength = "STRONG"
)

// TradingSignal is a directional trade decision for a single market. Edge is
// signed: ModelProbability - MarketProbability, both expressed for YES.
type TradingSignal struct {
	ID                string
	MarketID          string
	Side              Side
	ModelProbability  float64
	MarketProbability float64
	Edge              float64
	Confidence        float64
	Strength          SignalStrength
	Timestamp         time.Time
}

// ExpectedValue is the ranking score |edge| * confidence.
func (s TradingSignal) ExpectedValue() float64 {
	return math.Abs(s.Edge) * s.Confidence
}
