package msgpipeline

import (
	"sync"
	"time"
)

// rateCounter tracks one account's send rate over a one-second and a
// one-minute window.
type rateCounter struct {
	perSecondCount  int
	perMinuteCount  int
	secondStartedAt time.Time
	windowStartedAt time.Time
}

// rateLimiter defers (never rejects) messages from accounts that exceed
// their per-second or per-minute cap. Counters are pipeline-owned and are
// garbage-collected once an account goes quiet.
type rateLimiter struct {
	mu           sync.Mutex
	counters     map[string]*rateCounter
	maxPerSecond int
	maxPerMinute int
}

func newRateLimiter(maxPerSecond, maxPerMinute int) *rateLimiter {
	return &rateLimiter{
		counters:     make(map[string]*rateCounter),
		maxPerSecond: maxPerSecond,
		maxPerMinute: maxPerMinute,
	}
}

// Allow records one message for the account and reports whether it is within
// both caps. A false return means the message should be deferred to a lower
// priority tier, not dropped.
func (r *rateLimiter) Allow(accountID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[accountID]
	if !ok {
		c = &rateCounter{secondStartedAt: now, windowStartedAt: now}
		r.counters[accountID] = c
	}

	if now.Sub(c.windowStartedAt) > time.Minute {
		c.perMinuteCount = 0
		c.windowStartedAt = now
	}
	if now.Sub(c.secondStartedAt) >= time.Second {
		c.perSecondCount = 0
		c.secondStartedAt = now
	}

	c.perSecondCount++
	c.perMinuteCount++

	return c.perSecondCount <= r.maxPerSecond && c.perMinuteCount <= r.maxPerMinute
}

func (r *rateLimiter) SetLimits(maxPerSecond, maxPerMinute int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if maxPerSecond > 0 {
		r.maxPerSecond = maxPerSecond
	}
	if maxPerMinute > 0 {
		r.maxPerMinute = maxPerMinute
	}
}

// Sweep drops counters for accounts idle longer than one minute.
func (r *rateLimiter) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.counters {
		if now.Sub(c.windowStartedAt) > time.Minute {
			delete(r.counters, id)
		}
	}
}
