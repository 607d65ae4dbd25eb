// Package feed streams live YES prices for held positions from the CLOB
// market websocket.
package feed

import (
	"sort"
	"sync"
	"time"

	"github.com/iambrands/ai-ml-trading-bot/internal/platform/polymarket"
)

// PriceBook holds the latest streamed YES price per tracked market. It is
// safe for concurrent use and satisfies trading.PriceStream.
type PriceBook struct {
	mu       sync.RWMutex
	byToken  map[string]string // YES token ID -> market ID
	byMarket map[string]string // market ID -> YES token ID
	prices   map[string]float64
	updated  map[string]time.Time
	changed  chan struct{}
}

// NewPriceBook creates an empty book.
func NewPriceBook() *PriceBook {
	return &PriceBook{
		byToken:  make(map[string]string),
		byMarket: make(map[string]string),
		prices:   make(map[string]float64),
		updated:  make(map[string]time.Time),
		changed:  make(chan struct{}, 1),
	}
}

// Track starts following marketID through its YES token. Re-tracking with a
// new token replaces the old one.
func (b *PriceBook) Track(marketID, yesTokenID string) {
	if marketID == "" || yesTokenID == "" {
		return
	}
	b.mu.Lock()
	old, ok := b.byMarket[marketID]
	if ok && old == yesTokenID {
		b.mu.Unlock()
		return
	}
	if ok {
		delete(b.byToken, old)
	}
	b.byMarket[marketID] = yesTokenID
	b.byToken[yesTokenID] = marketID
	b.mu.Unlock()
	b.notify()
}

// Untrack stops following marketID and forgets its price.
func (b *PriceBook) Untrack(marketID string) {
	b.mu.Lock()
	token, ok := b.byMarket[marketID]
	if ok {
		delete(b.byMarket, marketID)
		delete(b.byToken, token)
		delete(b.prices, marketID)
		delete(b.updated, marketID)
	}
	b.mu.Unlock()
	if ok {
		b.notify()
	}
}

// Prices returns a copy of the latest price per tracked market.
func (b *PriceBook) Prices() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64, len(b.prices))
	for id, p := range b.prices {
		out[id] = p
	}
	return out
}

// UpdatedAt returns when marketID's price last changed.
func (b *PriceBook) UpdatedAt(marketID string) (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.updated[marketID]
	return t, ok
}

// Apply records updates for tracked tokens; others are ignored. Prices
// outside [0, 1] are dropped.
func (b *PriceBook) Apply(now time.Time, updates ...polymarket.PriceUpdate) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	applied := 0
	for _, u := range updates {
		marketID, ok := b.byToken[u.AssetID]
		if !ok || u.Price < 0 || u.Price > 1 {
			continue
		}
		b.prices[marketID] = u.Price
		b.updated[marketID] = now
		applied++
	}
	return applied
}

// Assets returns the tracked YES token IDs in sorted order.
func (b *PriceBook) Assets() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.byToken))
	for token := range b.byToken {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// Changed signals (coalesced) that the tracked set changed.
func (b *PriceBook) Changed() <-chan struct{} { return b.changed }

func (b *PriceBook) notify() {
	select {
	case b.changed <- struct{}{}:
	default:
	}
}
