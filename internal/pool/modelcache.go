package pool

import (
	"sync"
	"time"

	"github.com/yumosx/gatewaypool/internal/breaker"
)

// modelListCache is the process-wide GET /v1/models cache (spec §4.4,
// §5: "the model-list cache has its own mutex"). A single mutex
// serializes refresh attempts so that concurrent callers past the TTL
// collapse into exactly one upstream fetch (spec §8 scenario 5); a
// token-bucket rate limiter gates how often a refresh may even be
// attempted once the TTL has lapsed.
type modelListCache struct {
	mu            sync.Mutex
	ids           []string
	ttl           time.Duration
	lastSuccessAt time.Time
	limiter       *breaker.RateLimiter
}

func newModelListCache(ttl, minInterval time.Duration) *modelListCache {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	if minInterval <= 0 {
		minInterval = 30 * time.Second
	}
	refillPS := 1.0 / minInterval.Seconds()
	return &modelListCache{
		ttl:     ttl,
		limiter: breaker.NewRateLimiter(1, refillPS),
	}
}

// get returns the cached model list if it hasn't expired; otherwise it
// consults the rate limiter and, if allowed, calls fetch to refresh it.
// A denied gate returns an empty (not nil) slice, matching the spec's
// "{object:list, data:[]}" gated-empty shape rather than an error.
func (c *modelListCache) get(fetch func() ([]string, error)) ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastSuccessAt.IsZero() && time.Since(c.lastSuccessAt) < c.ttl {
		return c.ids, true, nil
	}

	if !c.limiter.Allow() {
		return []string{}, false, nil
	}

	ids, err := fetch()
	if err != nil {
		return nil, false, err
	}
	c.ids = ids
	c.lastSuccessAt = time.Now()
	return ids, true, nil
}

// snapshot returns the currently cached list without forcing a refresh,
// used by the model-rewrite step of forward_request.
func (c *modelListCache) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}
