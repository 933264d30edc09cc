// Package webhook implements the processor webhook ingress: signature
// verification, event deduplication, and dispatch into the subscription and
// payment services.
package webhook

import (
	"context"
	"sync"
	"time"
)

// DefaultDedupTTL is how long processed event IDs are remembered. Processor
// retries stop well within a day, so one day of memory absorbs every replay
// that matters.
const DefaultDedupTTL = 24 * time.Hour

// EventDedup tracks successfully processed event IDs. Seen only reads; Mark
// records. The ingress marks an event after its handler returns nil, so a
// transiently failed event is never remembered and the processor's
// redelivery gets processed instead of swallowed as a duplicate.
// Implementations must be safe for concurrent use.
type EventDedup interface {
	// Seen reports whether the event was already processed.
	Seen(ctx context.Context, eventID string) (bool, error)

	// Mark records the event as processed.
	Mark(ctx context.Context, eventID string) error
}

// MemoryDedup is an in-process EventDedup with TTL-based eviction. Suitable
// for a single replica; multi-replica deployments use RedisDedup so retries
// landing on another instance are still recognized.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time // event ID to expiry
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryDedup creates a dedup window with the given TTL.
// A non-positive TTL falls back to DefaultDedupTTL.
func NewMemoryDedup(ttl time.Duration) *MemoryDedup {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryDedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (d *MemoryDedup) Seen(ctx context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.evict(now)

	expiry, ok := d.seen[eventID]
	return ok && now.Before(expiry), nil
}

func (d *MemoryDedup) Mark(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.evict(now)
	d.seen[eventID] = now.Add(d.ttl)
	return nil
}

// evict removes expired entries; called under the lock.
func (d *MemoryDedup) evict(now time.Time) {
	for id, expiry := range d.seen {
		if !now.Before(expiry) {
			delete(d.seen, id)
		}
	}
}
