package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// PredictionCache implements domain.PredictionCache. Each entry is a JSON
// string at "prediction:{marketID}" with a Redis-side TTL; freshness rules
// beyond the TTL are applied by the predictor.
type PredictionCache struct {
	c *Client
}

var _ domain.PredictionCache = (*PredictionCache)(nil)

// NewPredictionCache creates a PredictionCache backed by c.
func NewPredictionCache(c *Client) *PredictionCache {
	return &PredictionCache{c: c}
}

func (pc *PredictionCache) key(marketID string) string {
	return pc.c.Key("prediction:" + marketID)
}

// Get returns the cached prediction or domain.ErrNotFound.
func (pc *PredictionCache) Get(ctx context.Context, marketID string) (domain.CachedPrediction, error) {
	raw, err := pc.c.Underlying().Get(ctx, pc.key(marketID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CachedPrediction{}, fmt.Errorf("redis: prediction %s: %w", marketID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CachedPrediction{}, fmt.Errorf("redis: get prediction %s: %w", marketID, err)
	}
	var entry domain.CachedPrediction
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.CachedPrediction{}, fmt.Errorf("redis: decode prediction %s: %w", marketID, err)
	}
	return entry, nil
}

// Set stores entry. A zero ttl keeps the key until invalidated.
func (pc *PredictionCache) Set(ctx context.Context, entry domain.CachedPrediction, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: encode prediction %s: %w", entry.MarketID, err)
	}
	if err := pc.c.Underlying().Set(ctx, pc.key(entry.MarketID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set prediction %s: %w", entry.MarketID, err)
	}
	return nil
}

// Invalidate deletes the entry for marketID.
func (pc *PredictionCache) Invalidate(ctx context.Context, marketID string) error {
	if err := pc.c.Underlying().Del(ctx, pc.key(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate prediction %s: %w", marketID, err)
	}
	return nil
}
