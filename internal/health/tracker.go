package health

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/llmgate/llmgate/internal/config"
)

// Tracker manages per-provider circuit breakers, created lazily on first use.
// When breakers are disabled in config, Allow always admits.
type Tracker struct {
	circuits map[string]*CircuitBreaker
	logger   *zerolog.Logger
	config   config.CircuitBreakerConfig
	mu       sync.RWMutex
}

// NewTracker creates a Tracker with the given breaker configuration.
func NewTracker(cfg config.CircuitBreakerConfig, logger *zerolog.Logger) *Tracker {
	return &Tracker{
		circuits: make(map[string]*CircuitBreaker),
		config:   cfg,
		logger:   logger,
	}
}

// Allow checks the provider's breaker. On admission it returns a done func
// that must be called with the attempt outcome; when breakers are disabled the
// done func is a no-op. Returns ErrCircuitOpen when the provider is tripped.
func (t *Tracker) Allow(provider string) (done func(err error), err error) {
	if !t.config.Enabled {
		return func(error) {}, nil
	}
	return t.circuit(provider).Allow()
}

// GetState returns the provider's breaker state.
// Providers without a breaker yet report StateClosed (healthy by default).
func (t *Tracker) GetState(provider string) State {
	t.mu.RLock()
	cb, exists := t.circuits[provider]
	t.mu.RUnlock()

	if !exists {
		return StateClosed
	}
	return cb.State()
}

func (t *Tracker) circuit(provider string) *CircuitBreaker {
	t.mu.RLock()
	cb, exists := t.circuits[provider]
	t.mu.RUnlock()

	if exists {
		return cb
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cb, exists = t.circuits[provider]; exists {
		return cb
	}

	cb = NewCircuitBreaker(provider, t.config, t.logger)
	t.circuits[provider] = cb

	if t.logger != nil {
		t.logger.Debug().Str("provider", provider).Msg("created circuit breaker")
	}

	return cb
}
