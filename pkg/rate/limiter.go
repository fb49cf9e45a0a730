// Package rate provides client-side request limiting.
package rate

import (
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter limits operations per key. RPC clients key on the method name, so
// each method draws from its own budget.
type Limiter interface {
	Allow(key string) bool
}

// perKeyLimiter is an in-memory token bucket per key. Buckets are created on
// first use and live as long as the limiter.
type perKeyLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLocalRateLimiter returns an in-memory limiter that allows limit
// operations per second for each key, with a burst of one second's worth.
func NewLocalRateLimiter(limit rate.Limit) Limiter {
	return &perKeyLimiter{
		limit:   limit,
		burst:   int(math.Max(1, math.Ceil(float64(limit)))),
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *perKeyLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	return b
}

func (l *perKeyLimiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

// NoLimiter never limits operations.
type NoLimiter struct{}

func (NoLimiter) Allow(string) bool {
	return true
}
