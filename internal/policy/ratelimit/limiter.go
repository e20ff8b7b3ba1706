// Package ratelimit keeps one token bucket per key so repeated warnings can
// be thinned without a global lock on the hot path.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds limiter configuration.
//   - Every: minimum spacing between allowed events for a key. Zero or
//     negative disables limiting.
//   - Burst: events allowed back to back before spacing applies (default 1).
type Config struct {
	Every time.Duration
	Burst int
}

// Limiter manages per-key token buckets.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.Every > 0 {
		limit = rate.Every(cfg.Every)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Allow reports whether an event for key may happen now.
func (l *Limiter) Allow(key string) bool {
	return l.AllowAt(key, time.Now())
}

// AllowAt is Allow with an explicit clock reading.
func (l *Limiter) AllowAt(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	return l.limiter(key).AllowN(now, 1)
}

// Forget drops the bucket for key.
func (l *Limiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.limiters, key)
	l.mu.Unlock()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}
