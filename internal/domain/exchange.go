package domain

import (
	"context"
	"time"
)

// Exchange places orders on a venue. price is the per-share price of side.
// A false result without error means the venue declined the order; an error
// means the outcome is unknown and must not be retried blindly.
type Exchange interface {
	PlaceOrder(ctx context.Context, marketID string, side Side, size, price float64) (bool, error)
}

// MarketProvider supplies live market snapshots.
type MarketProvider interface {
	ActiveMarkets(ctx context.Context, limit int) ([]Market, error)
	Market(ctx context.Context, id string) (Market, error)
}

// ResolvedMarketSource supplies markets that resolved within [start, end].
type ResolvedMarketSource interface {
	ResolvedMarkets(ctx context.Context, start, end time.Time) ([]Market, error)
}

// Predictor produces a forecast for a market as of the given time.
type Predictor interface {
	Predict(ctx context.Context, market Market, at time.Time) (Prediction, error)
}
