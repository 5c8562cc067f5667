package breaker

import (
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter used to gate upstream refetches of
// the model list: capacity tokens refill at refillPerSecond, and Allow
// consumes one token per call.
type RateLimiter struct {
	mu sync.Mutex

	capacity  float64
	refillPS  float64
	tokens    float64
	lastFill  time.Time
}

// NewRateLimiter creates a limiter with the given bucket capacity and
// refill rate (tokens per second). The bucket starts full.
func NewRateLimiter(capacity float64, refillPerSecond float64) *RateLimiter {
	return &RateLimiter{
		capacity: capacity,
		refillPS: refillPerSecond,
		tokens:   capacity,
		lastFill: time.Now(),
	}
}

// Allow consumes one token if available and reports whether it did.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}

// AvailableTokens returns the current token count after lazily applying
// any refill owed since the last call.
func (r *RateLimiter) AvailableTokens() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	r.tokens += elapsed * r.refillPS
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}
	r.lastFill = now
}
