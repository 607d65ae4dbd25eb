package domain

import "time"

// Outcome is the resolved result of a binary market. The zero value means
// the market has not resolved.
type Outcome string

const (
	OutcomeNone Outcome = ""
	OutcomeYes  Outcome = "YES"
	OutcomeNo   Outcome = "NO"
)

// Market is an immutable snapshot of a binary prediction market as seen by
// the data provider at fetch time.
type Market struct {
	ID             string
	Question       string
	Slug           string
	YesTokenID     string
	YesPrice       float64
	NoPrice        float64 // not required to equal 1 - YesPrice
	Volume24h      float64
	Liquidity      float64
	ResolutionDate *time.Time
	Outcome        Outcome
	CreatedAt      time.Time
	Closed         bool
}

// Resolved reports whether the market has both a resolution date and an
// outcome.
func (m Market) Resolved() bool {
	return m.ResolutionDate != nil && m.Outcome != OutcomeNone
}

// SettlementPrice is the YES-contract price a position settles at once the
// market resolved: 1 for YES, 0 otherwise.
func (m Market) SettlementPrice() float64 {
	if m.Outcome == OutcomeYes {
		return 1.0
	}
	return 0.0
}

// Prediction is a model forecast for one market at one evaluation time.
type Prediction struct {
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
}
