package router

// This file contains retry trigger definitions.

import (
	"context"
	"errors"

	"github.com/llmgate/llmgate/internal/upstream"
)

// Trigger name constants for logging.
const (
	TriggerStatusCode = "status_code"
	TriggerTransport  = "transport"
	TriggerErrorBody  = "error_body"
)

// RetryTrigger decides whether a failed attempt may be retried or handed to
// the next attempt in the plan. Triggers never see stream-committed failures;
// those are terminal before trigger evaluation.
//
// The trigger set is pluggable so retry policy can be narrowed without
// touching the engine. Common triggers include:
//   - Status code triggers (any non-2xx, or a configured allow list)
//   - Transport triggers (connection refused, DNS failures, timeouts)
//   - Error body triggers (2xx responses carrying an error payload)
type RetryTrigger interface {
	// ShouldRetry returns true if the error warrants another attempt.
	ShouldRetry(err error) bool

	// Name returns the trigger name for logging.
	Name() string
}

// StatusCodeTrigger fires on upstream HTTP status errors. With no codes
// configured it fires on every non-2xx status; with codes it fires only on
// those listed.
type StatusCodeTrigger struct {
	codes []int
}

// NewStatusCodeTrigger creates a trigger for the given status codes. An empty
// list means any status error fires.
func NewStatusCodeTrigger(codes ...int) *StatusCodeTrigger {
	return &StatusCodeTrigger{codes: codes}
}

// ShouldRetry returns true if err is a status error matching the configured
// codes.
func (t *StatusCodeTrigger) ShouldRetry(err error) bool {
	status := upstream.StatusOf(err)
	if status == 0 {
		return false
	}
	if len(t.codes) == 0 {
		return true
	}
	for _, code := range t.codes {
		if status == code {
			return true
		}
	}
	return false
}

// Name returns TriggerStatusCode for logging.
func (t *StatusCodeTrigger) Name() string {
	return TriggerStatusCode
}

// TransportTrigger fires on network-level failures: connection refused, DNS
// failures, resets, and attempt timeouts surfaced as transport errors.
type TransportTrigger struct{}

// NewTransportTrigger creates a trigger that fires on transport errors.
func NewTransportTrigger() *TransportTrigger {
	return &TransportTrigger{}
}

// ShouldRetry returns true if err is a transport error. Deadline expiry
// inside a transport error also counts; the next provider gets its own
// timeout budget.
func (t *TransportTrigger) ShouldRetry(err error) bool {
	var transportErr *upstream.TransportError
	return errors.As(err, &transportErr) || errors.Is(err, context.DeadlineExceeded)
}

// Name returns TriggerTransport for logging.
func (t *TransportTrigger) Name() string {
	return TriggerTransport
}

// ErrorBodyTrigger fires on 2xx responses whose body carries an error
// payload. Some aggregators report upstream faults this way and the request
// is as failed as any 5xx.
type ErrorBodyTrigger struct{}

// NewErrorBodyTrigger creates a trigger that fires on error-body failures.
func NewErrorBodyTrigger() *ErrorBodyTrigger {
	return &ErrorBodyTrigger{}
}

// ShouldRetry returns true if err is an error-body failure.
func (t *ErrorBodyTrigger) ShouldRetry(err error) bool {
	var bodyErr *upstream.BodyError
	return errors.As(err, &bodyErr)
}

// Name returns TriggerErrorBody for logging.
func (t *ErrorBodyTrigger) Name() string {
	return TriggerErrorBody
}

// TriggersFor builds the trigger set from config. With no retry status allow
// list, every classified upstream failure is retryable.
func TriggersFor(retryStatuses []int) []RetryTrigger {
	return []RetryTrigger{
		NewStatusCodeTrigger(retryStatuses...),
		NewTransportTrigger(),
		NewErrorBodyTrigger(),
	}
}

// FindMatchingTrigger returns the first trigger that fires for the given
// error. Returns nil if no trigger matches, which makes the failure terminal.
func FindMatchingTrigger(triggers []RetryTrigger, err error) RetryTrigger {
	for _, trigger := range triggers {
		if trigger.ShouldRetry(err) {
			return trigger
		}
	}
	return nil
}
