package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	ErrInsufficientCash  = errors.New("insufficient cash")
	ErrDuplicatePosition = errors.New("position already open for market")
	ErrPositionNotFound  = errors.New("position not found")
	ErrRiskLimitExceeded = errors.New("risk limit exceeded")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrExchangeRejected  = errors.New("exchange rejected order")
)

// RiskReason identifies which risk rule rejected a trade.
type RiskReason string

const (
	ReasonPositionExists   RiskReason = "position_exists"
	ReasonPositionTooLarge RiskReason = "position_too_large"
	ReasonExposureLimit    RiskReason = "exposure_limit"
	ReasonMaxPositions     RiskReason = "max_positions"
	ReasonDailyLossLimit   RiskReason = "daily_loss_limit"
	ReasonInsufficientCash RiskReason = "insufficient_cash"
)

// RiskLimitError is returned by the risk checks. It matches
// ErrRiskLimitExceeded under errors.Is.
type RiskLimitError struct {
	Reason RiskReason
	Detail string
}

func (e *RiskLimitError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("risk limit exceeded: %s", e.Reason)
	}
	return fmt.Sprintf("risk limit exceeded: %s: %s", e.Reason, e.Detail)
}

// Unwrap lets callers test for ErrRiskLimitExceeded.
func (e *RiskLimitError) Unwrap() error { return ErrRiskLimitExceeded }

// RiskReasonOf extracts the reason code from err, or "" when err is not a
// risk rejection.
func RiskReasonOf(err error) RiskReason {
	var rl *RiskLimitError
	if errors.As(err, &rl) {
		return rl.Reason
	}
	return ""
}
