package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionPnL_Yes(t *testing.T) {
	assert.InDelta(t, 20.0, PositionPnL(SideYes, 0.40, 0.60, 100), 1e-9)
	assert.InDelta(t, -20.0, PositionPnL(SideYes, 0.60, 0.40, 100), 1e-9)
}

func TestPositionPnL_NoMirrorsYes(t *testing.T) {
	// A NO position gains exactly what a YES position at the mirrored price gains.
	no := PositionPnL(SideNo, 0.60, 0.40, 100)
	yes := PositionPnL(SideYes, 0.40, 0.60, 100)
	assert.InDelta(t, yes, no, 1e-9)
	assert.InDelta(t, 20.0, no, 1e-9)
}

func TestPosition_PnLAt(t *testing.T) {
	p := Position{MarketID: "m1", Side: SideNo, EntryPrice: 0.7, Size: 50}
	assert.InDelta(t, 35.0, p.PnLAt(0.0), 1e-9)
	assert.InDelta(t, -15.0, p.PnLAt(1.0), 1e-9)
}

func TestSide_PriceOfAndOpposite(t *testing.T) {
	assert.InDelta(t, 0.3, SideNo.PriceOf(0.7), 1e-9)
	assert.InDelta(t, 0.7, SideYes.PriceOf(0.7), 1e-9)
	assert.Equal(t, SideNo, SideYes.Opposite())
	assert.Equal(t, SideYes, SideNo.Opposite())
}

func TestMarket_Resolved(t *testing.T) {
	m := Market{ID: "m1"}
	assert.False(t, m.Resolved())

	m.Outcome = OutcomeYes
	assert.False(t, m.Resolved(), "outcome without resolution date")

	now := mustTime(t)
	m.ResolutionDate = &now
	assert.True(t, m.Resolved())
	assert.Equal(t, 1.0, m.SettlementPrice())

	m.Outcome = OutcomeNo
	assert.Equal(t, 0.0, m.SettlementPrice())
}

func TestRiskLimitError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &RiskLimitError{Reason: ReasonMaxPositions, Detail: "5/5"})
	require.True(t, errors.Is(err, ErrRiskLimitExceeded))
	assert.Equal(t, ReasonMaxPositions, RiskReasonOf(err))
	assert.Contains(t, err.Error(), "max_positions")
	assert.Equal(t, RiskReason(""), RiskReasonOf(errors.New("other")))
}
