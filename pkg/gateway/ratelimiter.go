package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleClientTTL is how long an unused client limiter is kept.
const idleClientTTL = 10 * time.Minute

// ClientRateLimiter keeps one token bucket per client key.
type ClientRateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientBucket
	now     func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientRateLimiter creates a limiter allowing requestsPerSecond with the
// given burst per client. A non-positive rate disables limiting.
func NewClientRateLimiter(requestsPerSecond float64, burst int) *ClientRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ClientRateLimiter{
		limit:   rate.Limit(requestsPerSecond),
		burst:   burst,
		clients: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

// Enabled reports whether requests are limited at all.
func (r *ClientRateLimiter) Enabled() bool {
	return r != nil && r.limit > 0
}

// Allow reports whether the client may make a request now.
func (r *ClientRateLimiter) Allow(client string) bool {
	if !r.Enabled() {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// UpdateLimits changes the rate for existing and future clients.
func (r *ClientRateLimiter) UpdateLimits(requestsPerSecond float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if burst <= 0 {
		burst = 1
	}
	r.limit = rate.Limit(requestsPerSecond)
	r.burst = burst
	now := r.now()
	for _, b := range r.clients {
		b.limiter.SetLimitAt(now, r.limit)
		b.limiter.SetBurstAt(now, burst)
	}
}

// Sweep forgets clients idle for longer than idleClientTTL and returns how
// many remain.
func (r *ClientRateLimiter) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idleClientTTL)
	for key, b := range r.clients {
		if b.lastSeen.Before(cutoff) {
			delete(r.clients, key)
		}
	}
	return len(r.clients)
}
