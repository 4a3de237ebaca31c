package orchestrator

import (
	"sync"
	"time"
)

// dedup remembers recently seen signal IDs so a replayed or double-published
// signal cannot open a second position. Safe for concurrent use.
type dedup struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

func newDedup(ttl time.Duration) *dedup {
	return &dedup{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

// observe records the ID and reports whether it was already seen within the
// TTL window.
func (d *dedup) observe(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if last, ok := d.seen[id]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// sweep drops expired entries. Called periodically so the map stays bounded.
func (d *dedup) sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
