package inmem

import (
	"math"
	"sync"
	"time"

	"tenantgate/internal/gateway"
)

const staleThreshold = 10 * time.Minute

// RateLimiter is a token bucket limiter with one bucket per key. Each key's
// budget is given per call, so a tenant's limit change applies on its next request.
type RateLimiter struct {
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens    float64
	perMinute int
	lastSeen  time.Time
}

// NewRateLimiter creates a rate limiter.
// clock is injectable for deterministic testing.
func NewRateLimiter(clock func() time.Time) *RateLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &RateLimiter{
		now:     clock,
		buckets: make(map[string]*bucket),
	}
}

// Allow checks whether a request identified by key should be allowed.
// The bucket holds perMinute tokens and refills at perMinute/60 per second.
// A non-positive perMinute means unlimited.
func (rl *RateLimiter) Allow(key string, perMinute int) gateway.RateLimitResult {
	if perMinute <= 0 {
		return gateway.RateLimitResult{Allowed: true}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{
			tokens:    float64(perMinute),
			perMinute: perMinute,
			lastSeen:  now,
		}
		rl.buckets[key] = b
	}
	if b.perMinute != perMinute {
		b.perMinute = perMinute
		b.tokens = min(b.tokens, float64(perMinute))
	}

	rate := float64(perMinute) / 60
	burst := float64(perMinute)

	// Refill tokens based on elapsed time
	elapsed := now.Sub(b.lastSeen).Seconds()
	b.tokens = min(b.tokens+elapsed*rate, burst)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return gateway.RateLimitResult{Allowed: true}
	}

	// Calculate retry-after: time until next token
	deficit := 1.0 - b.tokens
	retryAfter := max(int(math.Ceil(deficit/rate)), 1)

	return gateway.RateLimitResult{
		Allowed:    false,
		RetryAfter: retryAfter,
	}
}

// Cleanup removes stale buckets that haven't been seen recently.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > staleThreshold {
			delete(rl.buckets, key)
		}
	}
}

// BucketCount returns the number of active buckets (for testing).
func (rl *RateLimiter) BucketCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
