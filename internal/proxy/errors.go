// Package proxy implements the HTTP front of llmgate.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/llmgate/llmgate/internal/router"
	"github.com/llmgate/llmgate/internal/upstream"
)

// ErrorResponse matches the OpenAI error envelope so SDK clients can parse
// gateway failures the same way as provider failures.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error message, type, and machine-readable code.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// WriteError writes a JSON error response in OpenAI API format.
func WriteError(w http.ResponseWriter, statusCode int, errorType, code, message string) {
	response := ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errorType,
			Code:    code,
		},
	}

	writeJSON(w, statusCode, response)
}

// IsBodyTooLargeError checks if an error is from http.MaxBytesReader.
func IsBodyTooLargeError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

// WriteEngineError maps an engine failure to an HTTP response. Exhaustion
// becomes 503 carrying the last upstream error so callers can see what the
// providers said.
func WriteEngineError(w http.ResponseWriter, err error) {
	var exhausted *router.ExhaustedError
	if errors.As(err, &exhausted) {
		WriteError(w, http.StatusServiceUnavailable, "upstream_error", "all_providers_failed",
			exhausted.Error())
		return
	}

	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		// Terminal non-retryable status: surface it as-is.
		WriteError(w, statusErr.Status, "upstream_error", "provider_error", statusErr.Error())
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Client went away; nothing useful to write.
		return
	}

	WriteError(w, http.StatusBadGateway, "upstream_error", "provider_error", err.Error())
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
