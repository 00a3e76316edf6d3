// Package health gates upstream providers behind per-provider circuit breakers.
// A provider that keeps failing trips its breaker open; attempts against it are
// skipped until the breaker half-opens and a probe succeeds.
package health

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/llmgate/llmgate/internal/config"
)

// ErrCircuitOpen is returned by Allow when the provider's breaker is open.
var ErrCircuitOpen = errors.New("health: circuit breaker open")

// State aliases the gobreaker state for callers.
type State = gobreaker.State

// Circuit breaker state constants.
const (
	StateClosed   = gobreaker.StateClosed
	StateOpen     = gobreaker.StateOpen
	StateHalfOpen = gobreaker.StateHalfOpen
)

// CircuitBreaker wraps sony/gobreaker's TwoStepCircuitBreaker for one provider.
type CircuitBreaker struct {
	cb   *gobreaker.TwoStepCircuitBreaker[struct{}]
	name string
}

// NewCircuitBreaker creates a breaker for the named provider.
func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig, logger *zerolog.Logger) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.GetHalfOpenProbes()), //nolint:gosec // getter guarantees positive
		Timeout:     cfg.GetOpenDuration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.GetFailureThreshold()) //nolint:gosec // getter guarantees positive
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger == nil {
				return
			}
			event := logger.Info()
			if to == gobreaker.StateOpen {
				event = logger.Warn()
			}
			event.
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}

	return &CircuitBreaker{
		cb:   gobreaker.NewTwoStepCircuitBreaker[struct{}](settings),
		name: name,
	}
}

// Allow checks whether a request may pass. The returned done func must be
// called with the attempt's outcome.
func (c *CircuitBreaker) Allow() (done func(err error), err error) {
	d, err := c.cb.Allow()
	if err != nil {
		return nil, ErrCircuitOpen
	}
	return func(callErr error) {
		// A caller hanging up is not the provider's fault.
		if callErr == nil || errors.Is(callErr, context.Canceled) {
			d(nil)
			return
		}
		d(callErr)
	}, nil
}

// State returns the current breaker state.
func (c *CircuitBreaker) State() State {
	return c.cb.State()
}

// Name returns the provider this breaker guards.
func (c *CircuitBreaker) Name() string {
	return c.name
}
