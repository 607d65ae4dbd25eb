package executor

import (
	"sync"
	"time"
)

// Dedup prevents a signal from being executed more than once within a
// time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // signalID -> first seen
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a signal ID as a duplicate for ttl
// after it was first seen. A zero ttl never expires IDs.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate reports whether signalID was seen within the TTL. Unseen or
// expired IDs are recorded and false is returned.
func (d *Dedup) IsDuplicate(signalID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if firstSeen, ok := d.seen[signalID]; ok {
		if d.ttl == 0 || now.Sub(firstSeen) < d.ttl {
			return true
		}
	}

	d.seen[signalID] = now
	return false
}

// Cleanup drops expired entries. The live engine calls it once per cycle.
func (d *Dedup) Cleanup() {
	if d.ttl == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of remembered signal IDs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
