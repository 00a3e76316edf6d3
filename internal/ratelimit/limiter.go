// Package ratelimit provides per-client request rate limiting.
//
// Each client key gets its own token bucket sized from the configured RPM
// (requests per minute). The bucket's burst equals the limit, so a client can
// spend a full minute's budget at once and then refills gradually. This
// avoids the boundary burst problem of fixed windows.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Registry hands out one limiter per client key. Safe for concurrent use.
type Registry struct {
	rpm      int
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

// NewRegistry creates a Registry. rpm of zero or below disables limiting and
// Allow always returns true.
func NewRegistry(rpm int) *Registry {
	return &Registry{
		rpm:      rpm,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the client may issue a request now. Non-blocking.
func (r *Registry) Allow(clientKey string) bool {
	if r.rpm <= 0 {
		return true
	}
	return r.limiter(clientKey).Allow()
}

// Enabled reports whether a limit is configured.
func (r *Registry) Enabled() bool {
	return r.rpm > 0
}

func (r *Registry) limiter(clientKey string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[clientKey]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(r.rpm)/60.0), r.rpm)
		r.limiters[clientKey] = l
	}
	return l
}
