// Package ratelimit provides sliding-window rate limiting for API
// requests, keyed by caller identity and limit category.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed reports whether the request was admitted.
	Allowed bool

	// Remaining is the number of requests left in the window after
	// this one. Zero on denial.
	Remaining int

	// RetryAfter is the minimum wait until the window's oldest entry
	// expires. Zero on admission.
	RetryAfter time.Duration
}

// bucket is one key's sliding window: event times oldest first, plus
// the window used at the last check so the sweep can expire entries.
type bucket struct {
	times  []time.Time
	window time.Duration
}

// Limiter tracks per-key request timestamps in memory. State is
// process-local: a multi-process deployment would need a shared store,
// which is explicitly out of scope.
//
// Check-then-record is atomic with respect to other checks on the same
// key; all state is guarded by one mutex.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	now           func() time.Time
	sweepInterval time.Duration
	logger        *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSweepInterval overrides the background sweep interval.
func WithSweepInterval(interval time.Duration) Option {
	return func(l *Limiter) {
		if interval > 0 {
			l.sweepInterval = interval
		}
	}
}

// WithLogger configures the limiter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLimiter creates a rate limiter.
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		buckets:       make(map[string]*bucket),
		now:           time.Now,
		sweepInterval: 5 * time.Minute,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ratelimit")
	return l
}

// Check evicts entries strictly older than the window, then admits the
// request if the remaining count is below maxRequests. Admission
// records now; denial computes the wait until the oldest entry expires.
func (l *Limiter) Check(key string, maxRequests int, window time.Duration) Decision {
	now := l.now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}
	b.window = window
	b.times = evict(b.times, cutoff)

	if len(b.times) >= maxRequests {
		oldest := b.times[0]
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: oldest.Sub(cutoff) + time.Second,
		}
	}

	b.times = append(b.times, now)
	return Decision{
		Allowed:   true,
		Remaining: maxRequests - len(b.times),
	}
}

// evict drops timestamps strictly older than cutoff. Times are ordered
// oldest first, so the scan stops at the first survivor.
func evict(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}

// Sweep expires stale entries and removes buckets whose timestamp
// sequence is empty, bounding memory. It returns the number of buckets
// removed. A bucket with any non-expired timestamp survives.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		b.times = evict(b.times, now.Add(-b.window))
		if len(b.times) == 0 {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Keys returns the number of tracked buckets.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Run sweeps on a fixed interval until the context is cancelled. The
// sweep is best-effort; one bad cycle never kills the loop.
func (l *Limiter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.sweepInterval):
		}
		removed := l.Sweep()
		if removed > 0 {
			l.logger.Debug("swept rate-limit buckets", "removed", removed)
		}
	}
}
