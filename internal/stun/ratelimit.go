// internal/stun/ratelimit.go
package stun

import (
	"sync"
	"time"
)

const (
	rateWindow       = 60 * time.Second
	cleanupThreshold = 300 * time.Second
	cleanupTrigger   = 1000
)

type rateEntry struct {
	count       int
	windowStart time.Time
}

// RateLimiter caps requests per source address within a fixed window. The
// counter resets when the window expires; stale entries are evicted lazily
// once the table grows past the trigger size.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateEntry
	max     int
	now     func() time.Time
}

// NewRateLimiter allows up to max requests per address per minute.
func NewRateLimiter(max int) *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*rateEntry),
		max:     max,
		now:     time.Now,
	}
}

// SetClock replaces the clock source. Test hook.
func (r *RateLimiter) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Allow records one request from key and reports whether it is within the
// cap.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	if len(r.entries) > cleanupTrigger {
		r.cleanupUnsafe(now)
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= rateWindow {
		r.entries[key] = &rateEntry{count: 1, windowStart: now}
		return true
	}
	e.count++
	return e.count <= r.max
}

func (r *RateLimiter) cleanupUnsafe(now time.Time) {
	for key, e := range r.entries {
		if now.Sub(e.windowStart) > cleanupThreshold {
			delete(r.entries, key)
		}
	}
}
