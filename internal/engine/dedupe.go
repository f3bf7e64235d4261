package engine

import (
	"sync"
	"time"
)

// DedupeCache remembers keys for a ttl. Expired keys are compacted once the
// cache grows past limit.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
	limit int
}

func NewDedupeCache(limit int) *DedupeCache {
	if limit <= 0 {
		limit = 10000
	}
	return &DedupeCache{items: make(map[string]time.Time), limit: limit}
}

func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok && now.Sub(ts) <= ttl {
		return true
	}
	d.items[key] = now
	if len(d.items) > d.limit {
		for k, ts := range d.items {
			if now.Sub(ts) > ttl {
				delete(d.items, k)
			}
		}
	}
	return false
}
