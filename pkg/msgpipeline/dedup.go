package msgpipeline

import (
	"sync"
	"time"
)

// dedupCache remembers message identity keys for the dedup window. Eviction
// happens incrementally on a fixed budget per sweep rather than in one
// stop-the-world pass.
type dedupCache struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
}

func newDedupCache(window time.Duration) *dedupCache {
	return &dedupCache{
		seen:   make(map[string]time.Time),
		window: window,
	}
}

// Seen reports whether key was observed within the window, recording it for
// future lookups either way.
func (d *dedupCache) Seen(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.seen[key]; ok && now.Sub(last) <= d.window {
		return true
	}
	d.seen[key] = now
	return false
}

func (d *dedupCache) SetWindow(window time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if window > 0 {
		d.window = window
	}
}

func (d *dedupCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Sweep evicts up to limit expired entries.
func (d *dedupCache) Sweep(now time.Time, limit int) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	evicted := 0
	for key, last := range d.seen {
		if evicted >= limit {
			break
		}
		if now.Sub(last) > d.window {
			delete(d.seen, key)
			evicted++
		}
	}
	return evicted
}
