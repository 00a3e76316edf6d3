package upstream

import (
	"errors"
	"fmt"
)

// TransportError is a network-level failure (connect, DNS, timeout) before a
// usable response arrived. Always retryable against the next attempt.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s: transport: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx upstream response. The status and a bounded copy of
// the body are kept for logging. Retryable under the default policy; the
// routing retry_statuses knob can narrow that.
type StatusError struct {
	Provider string
	Status   int
	Body     []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s: status %d: %s", e.Provider, e.Status, truncate(e.Body, 200))
}

// BodyError is a 2xx response whose JSON body (or first streamed chunk)
// carries an error/detail field. Some aggregators report failures this way.
// Retryable.
type BodyError struct {
	Provider string
	Detail   string
}

func (e *BodyError) Error() string {
	return fmt.Sprintf("upstream %s: error in response body: %s", e.Provider, e.Detail)
}

// StreamCommittedError is a failure after output bytes were already forwarded
// to the caller. Terminal: forwarded output cannot be retracted, so fallback
// must not run.
type StreamCommittedError struct {
	Provider string
	Events   int
	Err      error
}

func (e *StreamCommittedError) Error() string {
	return fmt.Sprintf("upstream %s: stream failed after %d forwarded events: %v", e.Provider, e.Events, e.Err)
}

func (e *StreamCommittedError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err may be retried against the same or another
// attempt. Committed-stream failures and unclassified errors are not.
func IsRetryable(err error) bool {
	var (
		transport *TransportError
		status    *StatusError
		body      *BodyError
	)
	switch {
	case errors.As(err, &transport), errors.As(err, &status), errors.As(err, &body):
		return true
	default:
		return false
	}
}

// StatusOf returns the HTTP status carried by err, or 0 when err has none.
func StatusOf(err error) int {
	var status *StatusError
	if errors.As(err, &status) {
		return status.Status
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
