package live

import (
	"sync"
	"time"
)

// Dedup suppresses re-delivered signals. Signal IDs are derived from the
// bar that produced them, so a feed that replays a bar (Kafka rebalance,
// websocket reconnect) re-derives the same IDs; within the TTL window the
// second sighting is dropped. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // signal ID -> last seen
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a signal ID as a duplicate when it
// was seen within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether signalID was seen within the TTL window.
// Unseen (or expired) IDs are recorded and reported as fresh.
func (d *Dedup) IsDuplicate(signalID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[signalID]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[signalID] = now
	return false
}

// Cleanup drops entries older than the TTL so the map does not grow
// without bound. The orchestrator calls it periodically.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of tracked IDs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
