package msgpipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupCacheSeenWithinWindow(t *testing.T) {
	d := newDedupCache(5 * time.Second)
	now := time.Now()

	assert.False(t, d.Seen("key-1", now))
	assert.True(t, d.Seen("key-1", now.Add(time.Second)))
	assert.False(t, d.Seen("key-2", now))
}

func TestDedupCacheExpiresAfterWindow(t *testing.T) {
	d := newDedupCache(5 * time.Second)
	now := time.Now()

	assert.False(t, d.Seen("key-1", now))
	assert.False(t, d.Seen("key-1", now.Add(6*time.Second)))
}

func TestDedupCacheSweepIsBounded(t *testing.T) {
	d := newDedupCache(time.Second)
	now := time.Now()

	for i := 0; i < 50; i++ {
		d.Seen(fmt.Sprintf("key-%d", i), now)
	}

	later := now.Add(2 * time.Second)
	assert.Equal(t, 20, d.Sweep(later, 20))
	assert.Equal(t, 30, d.Len())
	assert.Equal(t, 30, d.Sweep(later, 100))
	assert.Equal(t, 0, d.Len())
}

func TestRateLimiterDefersOverCap(t *testing.T) {
	r := newRateLimiter(2, 100)
	now := time.Now()

	assert.True(t, r.Allow("acc-1", now))
	assert.True(t, r.Allow("acc-1", now))
	assert.False(t, r.Allow("acc-1", now))

	// Separate accounts have separate counters.
	assert.True(t, r.Allow("acc-2", now))
}

func TestRateLimiterSecondWindowResets(t *testing.T) {
	r := newRateLimiter(1, 100)
	now := time.Now()

	assert.True(t, r.Allow("acc-1", now))
	assert.False(t, r.Allow("acc-1", now))
	assert.True(t, r.Allow("acc-1", now.Add(time.Second)))
}

func TestRateLimiterMinuteWindowResets(t *testing.T) {
	r := newRateLimiter(100, 2)
	now := time.Now()

	assert.True(t, r.Allow("acc-1", now))
	assert.True(t, r.Allow("acc-1", now.Add(time.Second)))
	assert.False(t, r.Allow("acc-1", now.Add(2*time.Second)))
	assert.True(t, r.Allow("acc-1", now.Add(61*time.Second)))
}

func TestRateLimiterSweepDropsIdleCounters(t *testing.T) {
	r := newRateLimiter(10, 60)
	now := time.Now()

	r.Allow("acc-1", now)
	r.Sweep(now.Add(2 * time.Minute))

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.counters)
}
