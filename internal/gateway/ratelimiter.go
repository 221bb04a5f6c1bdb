package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter bounds inbound frames per client, keyed by client id. A
// non-positive rpm disables limiting entirely, matching the teacher's
// rate_limit_rpm convention (0 = disabled).
type RateLimiter struct {
	rpm   int
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 5
	}
	return &RateLimiter{rpm: rpm, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (rl *RateLimiter) Enabled() bool { return rl.rpm > 0 }

// Allow reports whether clientID may send another frame right now.
func (rl *RateLimiter) Allow(clientID string) bool {
	if !rl.Enabled() {
		return true
	}
	rl.mu.Lock()
	lim, ok := rl.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(rl.rpm)/60.0), rl.burst)
		rl.limiters[clientID] = lim
	}
	rl.mu.Unlock()
	return lim.Allow()
}

func (rl *RateLimiter) Forget(clientID string) {
	rl.mu.Lock()
	delete(rl.limiters, clientID)
	rl.mu.Unlock()
}
