// Package risk holds the pre-trade limit checks, the drawdown monitor and the
// circuit breaker. None of them mutate a portfolio; they all evaluate a
// portfolio.Snapshot taken under the portfolio lock.
package risk

import (
	"fmt"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
	"github.com/iambrands/ai-ml-trading-bot/internal/portfolio"
)

// LimitsConfig holds the hard position and loss limits.
type LimitsConfig struct {
	MaxPositionPct   float64 // max single position as a fraction of total value
	MaxTotalExposure float64 // max committed capital as a fraction of total value
	MaxPositions     int
	MaxDailyLoss     float64 // fraction of the day-start value
}

// Limits evaluates LimitsConfig against portfolio snapshots.
type Limits struct {
	cfg LimitsConfig
}

// NewLimits creates a Limits checker.
func NewLimits(cfg LimitsConfig) *Limits {
	return &Limits{cfg: cfg}
}

// Config returns the configured limits.
func (l *Limits) Config() LimitsConfig { return l.cfg }

// CheckPositionLimit verifies that adding a position of size keeps the
// portfolio within the single-position, total-exposure and position-count
// limits. The first failing check is reported.
func (l *Limits) CheckPositionLimit(s portfolio.Snapshot, size float64) error {
	if maxSize := s.TotalValue * l.cfg.MaxPositionPct; size > maxSize {
		return &domain.RiskLimitError{
			Reason: domain.ReasonPositionTooLarge,
			Detail: fmt.Sprintf("size %.2f > max %.2f", size, maxSize),
		}
	}
	if maxExposure := s.TotalValue * l.cfg.MaxTotalExposure; s.TotalExposure+size > maxExposure {
		return &domain.RiskLimitError{
			Reason: domain.ReasonExposureLimit,
			Detail: fmt.Sprintf("exposure %.2f + %.2f > max %.2f", s.TotalExposure, size, maxExposure),
		}
	}
	if len(s.Positions) >= l.cfg.MaxPositions {
		return &domain.RiskLimitError{
			Reason: domain.ReasonMaxPositions,
			Detail: fmt.Sprintf("%d/%d open", len(s.Positions), l.cfg.MaxPositions),
		}
	}
	return nil
}

// CheckDailyLossLimit fails when the loss since dayStartValue exceeds
// MaxDailyLoss. A non-positive day-start value never fails.
func (l *Limits) CheckDailyLossLimit(s portfolio.Snapshot, dayStartValue float64) error {
	if dayStartValue <= 0 {
		return nil
	}
	loss := (dayStartValue - s.TotalValue) / dayStartValue
	if loss > l.cfg.MaxDailyLoss {
		return &domain.RiskLimitError{
			Reason: domain.ReasonDailyLossLimit,
			Detail: fmt.Sprintf("daily loss %.2f%% > max %.2f%%", loss*100, l.cfg.MaxDailyLoss*100),
		}
	}
	return nil
}

// CanOpenPosition composes the pre-trade checks for a new position.
func (l *Limits) CanOpenPosition(s portfolio.Snapshot, signal domain.TradingSignal, size float64) error {
	if s.HasPosition(signal.MarketID) {
		return &domain.RiskLimitError{Reason: domain.ReasonPositionExists, Detail: signal.MarketID}
	}
	if err := l.CheckPositionLimit(s, size); err != nil {
		return err
	}
	if s.Cash < size {
		return &domain.RiskLimitError{
			Reason: domain.ReasonInsufficientCash,
			Detail: fmt.Sprintf("cash %.2f < size %.2f", s.Cash, size),
		}
	}
	return nil
}
