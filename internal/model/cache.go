package model

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

// CachePolicy decides whether a cached prediction may be reused. Zero
// fields disable the corresponding rule.
type CachePolicy struct {
	TTL              time.Duration // max age of a prediction
	MaxPriceDelta    float64       // max YES price move since the prediction
	ResolutionWindow time.Duration // always recompute this close to resolution
}

// Fresh reports whether entry can serve a request for market at time at.
func (p CachePolicy) Fresh(entry domain.CachedPrediction, market domain.Market, at time.Time) bool {
	if at.Before(entry.ComputedAt) {
		return false
	}
	if p.TTL > 0 && at.Sub(entry.ComputedAt) >= p.TTL {
		return false
	}
	if p.MaxPriceDelta > 0 && math.Abs(market.YesPrice-entry.YesPrice) > p.MaxPriceDelta {
		return false
	}
	if p.ResolutionWindow > 0 && market.ResolutionDate != nil &&
		market.ResolutionDate.Sub(at) <= p.ResolutionWindow {
		return false
	}
	return true
}

type memoryEntry struct {
	value     domain.CachedPrediction
	expiresAt time.Time
}

// MemoryCache is an in-process domain.PredictionCache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ domain.PredictionCache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the entry for marketID or domain.ErrNotFound.
func (c *MemoryCache) Get(_ context.Context, marketID string) (domain.CachedPrediction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[marketID]
	if !ok {
		return domain.CachedPrediction{}, fmt.Errorf("model: cache %s: %w", marketID, domain.ErrNotFound)
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, marketID)
		return domain.CachedPrediction{}, fmt.Errorf("model: cache %s expired: %w", marketID, domain.ErrNotFound)
	}
	return e.value, nil
}

// Set stores entry for ttl of wall-clock time. A zero ttl never expires.
func (c *MemoryCache) Set(_ context.Context, entry domain.CachedPrediction, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{value: entry}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[entry.MarketID] = e
	return nil
}

// Invalidate drops the entry for marketID.
func (c *MemoryCache) Invalidate(_ context.Context, marketID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, marketID)
	return nil
}
