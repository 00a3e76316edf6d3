package router

import (
	"errors"
	"fmt"
)

// ErrExhausted is wrapped by ExhaustedError so callers can match with
// errors.Is without caring about the detail fields.
var ErrExhausted = errors.New("all attempts exhausted")

// ExhaustedError is returned when every attempt in a plan has failed. It
// carries the last attempt's error so the response can explain what went
// wrong upstream.
type ExhaustedError struct {
	GatewayModel string
	Tries        int
	LastErr      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("model %s: %d tries failed, last: %v", e.GatewayModel, e.Tries, e.LastErr)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.LastErr}
}

// UnknownProviderError is returned when a planned attempt names a provider
// missing from the catalog. Config validation prevents this for rule targets;
// it can still happen for the passthrough default after a bad reload.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("provider %q not configured", e.Provider)
}
