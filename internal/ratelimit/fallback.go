// fallback.go: Local limiter for store outages
package ratelimit

import (
	"sync"
	"time"
)

// FallbackLimiter is the in-process safety net used only while the shared
// store is unreachable. It is a fixed-window counter per identity: coarse by
// design, bounding the worst-case local burst without any cross-instance
// coordination. Each Service owns its own instance.
type FallbackLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*fallbackBucket
	now     func() time.Time
}

type fallbackBucket struct {
	count   int
	resetAt time.Time
}

// NewFallbackLimiter creates a limiter admitting up to limit requests per
// identity per window.
func NewFallbackLimiter(limit int, window time.Duration) *FallbackLimiter {
	return &FallbackLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*fallbackBucket),
		now:     time.Now,
	}
}

// Allow consumes one slot for identity, returning the remaining budget in
// the current window and whether the request is admitted.
func (fl *FallbackLimiter) Allow(identity string) (remaining int, allowed bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	now := fl.now()
	b, ok := fl.buckets[identity]
	if !ok || !now.Before(b.resetAt) {
		if len(fl.buckets) > 1024 {
			fl.sweep(now)
		}
		b = &fallbackBucket{resetAt: now.Add(fl.window)}
		fl.buckets[identity] = b
	}
	if b.count >= fl.limit {
		return 0, false
	}
	b.count++
	return fl.limit - b.count, true
}

// Limit returns the local admission bound.
func (fl *FallbackLimiter) Limit() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.limit
}

// Reset clears the window state for identity.
func (fl *FallbackLimiter) Reset(identity string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	delete(fl.buckets, identity)
}

// sweep drops expired buckets; called with the lock held.
func (fl *FallbackLimiter) sweep(now time.Time) {
	for id, b := range fl.buckets {
		if !now.Before(b.resetAt) {
			delete(fl.buckets, id)
		}
	}
}
