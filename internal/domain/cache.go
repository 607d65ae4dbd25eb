package domain

import (
	"context"
	"time"
)

// CachedPrediction is a prediction together with the market state it was
// computed from, so a cache policy can decide whether it is still usable.
type CachedPrediction struct {
	MarketID   string     `json:"market_id"`
	Prediction Prediction `json:"prediction"`
	YesPrice   float64    `json:"yes_price"`
	ComputedAt time.Time  `json:"computed_at"`
}

// PredictionCache stores the latest prediction per market. Get returns
// ErrNotFound on a miss.
type PredictionCache interface {
	Get(ctx context.Context, marketID string) (CachedPrediction, error)
	Set(ctx context.Context, entry CachedPrediction, ttl time.Duration) error
	Invalidate(ctx context.Context, marketID string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
