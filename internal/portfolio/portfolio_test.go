package portfolio

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

func fixedClock() func() time.Time {
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func sig(marketID string, side domain.Side) domain.TradingSignal {
	return domain.TradingSignal{ID: "sig-" + marketID, MarketID: marketID, Side: side}
}

func assertLedger(t *testing.T, p *Portfolio) {
	t.Helper()
	s := p.Snapshot()
	assert.InDelta(t, s.TotalValue, s.Cash+s.TotalExposure+s.UnrealizedPnL, 1e-9)
	assert.GreaterOrEqual(t, s.Cash, 0.0)
	var sum float64
	for _, tr := range s.Trades {
		sum += tr.PnL
	}
	assert.InDelta(t, s.RealizedPnL, sum, 1e-9)
}

func TestAddPosition(t *testing.T) {
	p := New(1000, WithClock(fixedClock()))

	pos, err := p.AddPosition(sig("m1", domain.SideYes), 100, 0.40)
	require.NoError(t, err)
	assert.Equal(t, "m1", pos.MarketID)
	assert.Equal(t, "sig-m1", pos.SignalID)
	assert.Equal(t, 0.40, pos.CurrentPrice)
	assert.Zero(t, pos.UnrealizedPnL)

	assert.Equal(t, 900.0, p.Cash())
	assert.Equal(t, 100.0, p.TotalExposure())
	assert.Equal(t, 1000.0, p.TotalValue())
	assert.True(t, p.HasPosition("m1"))
	assertLedger(t, p)
}

func TestAddPositionInsufficientCash(t *testing.T) {
	p := New(50)
	_, err := p.AddPosition(sig("m1", domain.SideYes), 51, 0.5)
	require.ErrorIs(t, err, domain.ErrInsufficientCash)
	assert.Equal(t, 50.0, p.Cash())
	assert.Zero(t, p.PositionCount())
}

func TestAddPositionDuplicate(t *testing.T) {
	p := New(1000)
	_, err := p.AddPosition(sig("m1", domain.SideYes), 100, 0.5)
	require.NoError(t, err)

	_, err = p.AddPosition(sig("m1", domain.SideNo), 100, 0.5)
	require.ErrorIs(t, err, domain.ErrDuplicatePosition)
	assert.Equal(t, 900.0, p.Cash())
	assert.Equal(t, 1, p.PositionCount())
}

func TestAddPositionInvalid(t *testing.T) {
	p := New(1000)
	for _, tc := range []struct {
		size, price float64
	}{{0, 0.5}, {-1, 0.5}, {10, 1.2}, {10, -0.1}} {
		_, err := p.AddPosition(sig("m1", domain.SideYes), tc.size, tc.price)
		require.ErrorIs(t, err, domain.ErrInvalidOrder, "size=%v price=%v", tc.size, tc.price)
	}
	assert.Equal(t, 1000.0, p.Cash())
}

func TestCloseWinningTradeChargesFee(t *testing.T) {
	p := New(1000, WithClock(fixedClock()))
	// 100 * (0.6 - 0.5) = 10 gross.
	_, err := p.AddPosition(sig("m1", domain.SideYes), 100, 0.5)
	require.NoError(t, err)

	trade, err := p.ClosePosition("m1", 0.6, DefaultFeeRate)
	require.NoError(t, err)
	assert.InDelta(t, 9.8, trade.PnL, 1e-9)
	assert.InDelta(t, 0.2, trade.Fees, 1e-9)
	assert.Equal(t, "sig-m1", trade.ID)
	assert.InDelta(t, 1009.8, p.Cash(), 1e-9)
	assert.InDelta(t, 9.8, p.RealizedPnL(), 1e-9)
	assert.False(t, p.HasPosition("m1"))
	assertLedger(t, p)
}

func TestCloseLosingTradeHasNoFee(t *testing.T) {
	p := New(1000)
	_, err := p.AddPosition(sig("m1", domain.SideYes), 100, 0.5)
	require.NoError(t, err)

	trade, err := p.ClosePosition("m1", 0.4, DefaultFeeRate)
	require.NoError(t, err)
	assert.InDelta(t, -10, trade.PnL, 1e-9)
	assert.Zero(t, trade.Fees)
	assert.InDelta(t, 990, p.Cash(), 1e-9)
}

func TestCloseNoSide(t *testing.T) {
	p := New(1000)
	_, err := p.AddPosition(sig("m1", domain.SideNo), 100, 0.7)
	require.NoError(t, err)

	// YES falls to 0.0, so NO pays 1.0: (1.0 - 0.3) * 100 = 70 gross.
	trade, err := p.ClosePosition("m1", 0.0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 70, trade.PnL, 1e-9)
	assert.InDelta(t, 1070, p.Cash(), 1e-9)
}

func TestCloseMissingPositionIsNoop(t *testing.T) {
	p := New(1000)
	_, err := p.ClosePosition("nope", 1, DefaultFeeRate)
	require.ErrorIs(t, err, domain.ErrPositionNotFound)
	assert.Equal(t, 1000.0, p.Cash())
	assert.Empty(t, p.Trades())
}

func TestUpdatePositions(t *testing.T) {
	p := New(1000)
	_, err := p.AddPosition(sig("a", domain.SideYes), 100, 0.5)
	require.NoError(t, err)
	_, err = p.AddPosition(sig("b", domain.SideNo), 200, 0.5)
	require.NoError(t, err)

	p.UpdatePositions(map[string]float64{"a": 0.7, "zzz": 0.1})

	a, ok := p.Position("a")
	require.True(t, ok)
	assert.InDelta(t, 20, a.UnrealizedPnL, 1e-9)
	b, ok := p.Position("b")
	require.True(t, ok)
	assert.Equal(t, 0.5, b.CurrentPrice)
	assert.Zero(t, b.UnrealizedPnL)

	assert.InDelta(t, 20, p.UnrealizedPnL(), 1e-9)
	assert.InDelta(t, 1020, p.TotalValue(), 1e-9)
	assert.InDelta(t, 20, p.TotalPnL(), 1e-9)
	assertLedger(t, p)
}

func TestSnapshotIsCopy(t *testing.T) {
	p := New(1000)
	_, err := p.AddPosition(sig("b", domain.SideYes), 10, 0.5)
	require.NoError(t, err)
	_, err = p.AddPosition(sig("a", domain.SideYes), 10, 0.5)
	require.NoError(t, err)

	s := p.Snapshot()
	require.Len(t, s.Positions, 2)
	assert.Equal(t, "a", s.Positions[0].MarketID)
	assert.True(t, s.HasPosition("b"))

	s.Positions[0].Size = 999
	pos, _ := p.Position("a")
	assert.Equal(t, 10.0, pos.Size)

	d := s.Domain("session-1")
	assert.Equal(t, "session-1", d.SessionID)
	assert.Equal(t, 2, d.OpenPositions)
	assert.Equal(t, 980.0, d.Cash)
}

func TestLedgerInvariantUnderConcurrency(t *testing.T) {
	p := New(10_000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("m%02d", i)
			if _, err := p.AddPosition(sig(id, domain.SideYes), 100, 0.5); err != nil {
				return
			}
			p.UpdatePositions(map[string]float64{id: 0.55})
			if i%2 == 0 {
				_, _ = p.ClosePosition(id, 0.45, DefaultFeeRate)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, p.PositionCount())
	assert.Len(t, p.Trades(), 25)
	assertLedger(t, p)
}
