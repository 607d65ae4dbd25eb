package paper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPlaceOrderFills(t *testing.T) {
	ex := New(discard())

	ok, err := ex.PlaceOrder(context.Background(), "m1", domain.SideYes, 100, 0.42)
	require.NoError(t, err)
	assert.True(t, ok)

	orders := ex.Orders()
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Filled)
	assert.Equal(t, 0.42, orders[0].Price)
	assert.NotEmpty(t, orders[0].ID)
}

func TestPlaceOrderSettlementPrices(t *testing.T) {
	ex := New(discard())
	for _, price := range []float64{0, 1} {
		ok, err := ex.PlaceOrder(context.Background(), "m1", domain.SideNo, 10, price)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestPlaceOrderInvalid(t *testing.T) {
	ex := New(discard())
	_, err := ex.PlaceOrder(context.Background(), "m1", domain.SideYes, 0, 0.5)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = ex.PlaceOrder(context.Background(), "m1", domain.SideYes, 10, 1.01)
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Empty(t, ex.Orders())
}

func TestRejectHook(t *testing.T) {
	boom := errors.New("boom")
	ex := New(discard(), WithReject(func(o Order) (bool, error) {
		switch o.MarketID {
		case "reject":
			return true, nil
		case "fail":
			return false, boom
		}
		return false, nil
	}))

	ok, err := ex.PlaceOrder(context.Background(), "reject", domain.SideYes, 10, 0.5)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ex.PlaceOrder(context.Background(), "fail", domain.SideYes, 10, 0.5)
	require.ErrorIs(t, err, boom)

	orders := ex.Orders()
	require.Len(t, orders, 1)
	assert.False(t, orders[0].Filled)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(discard()).PlaceOrder(ctx, "m1", domain.SideYes, 10, 0.5)
	require.ErrorIs(t, err, context.Canceled)
}
