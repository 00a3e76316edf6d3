package proxy

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/llmgate/llmgate/internal/ratelimit"
)

// ClientKeyKey is the context key under which the authenticated bearer token
// is stored. The token doubles as the rotation identity.
const ClientKeyKey ctxKey = "client_key"

// RequestIDMiddleware adds X-Request-ID header and a request-scoped logger to
// the context.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			requestID := request.Header.Get("X-Request-ID")
			ctx := AddRequestID(request.Context(), requestID)

			if requestID == "" {
				requestID = GetRequestID(ctx)
			}
			writer.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// BearerToken extracts the bearer token from an Authorization header. Empty
// when absent or malformed.
func BearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

// ClientKey returns the caller identity stored by AuthMiddleware, or the raw
// bearer token when no gateway key is enforced.
func ClientKey(r *http.Request) string {
	if key, ok := r.Context().Value(ClientKeyKey).(string); ok && key != "" {
		return key
	}
	return BearerToken(r)
}

// AuthMiddleware validates the Authorization bearer token against the
// configured gateway key. An empty expected key disables enforcement and
// requests pass through; the presented token still identifies the client for
// rotation.
//
// SHA-256 pre-hashing plus subtle.ConstantTimeCompare keeps the comparison
// constant-time for high-entropy keys.
func AuthMiddleware(expectedAPIKey string) func(http.Handler) http.Handler {
	if expectedAPIKey == "" {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	expectedHash := sha256.Sum256([]byte(expectedAPIKey))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			token := BearerToken(request)
			if token == "" {
				failAuth(writer, request, "missing Authorization bearer token")
				return
			}

			providedHash := sha256.Sum256([]byte(token))
			if subtle.ConstantTimeCompare(providedHash[:], expectedHash[:]) != 1 {
				failAuth(writer, request, "invalid API key")
				return
			}

			zerolog.Ctx(request.Context()).Debug().Msg("authentication succeeded")
			ctx := context.WithValue(request.Context(), ClientKeyKey, token)
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

func failAuth(writer http.ResponseWriter, request *http.Request, reason string) {
	zerolog.Ctx(request.Context()).Warn().Msg("authentication failed: " + reason)
	WriteError(writer, http.StatusUnauthorized, "authentication_error", "invalid_api_key", reason)
}

// RateLimitMiddleware rejects requests over the per-client RPM budget.
func RateLimitMiddleware(registry *ratelimit.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !registry.Enabled() {
			return next
		}
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if !registry.Allow(ClientKey(request)) {
				zerolog.Ctx(request.Context()).Warn().Msg("request rejected: rate limit exceeded")
				writer.Header().Set("Retry-After", "1")
				WriteError(writer, http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded",
					"request rate limit exceeded, please retry later")
				return
			}
			next.ServeHTTP(writer, request)
		})
	}
}

// MaxBodyBytesMiddleware limits request body size via http.MaxBytesReader.
// A limit of zero or below disables the cap.
func MaxBodyBytesMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.Body != nil {
				request.Body = http.MaxBytesReader(writer, request.Body, limit)
			}
			next.ServeHTTP(writer, request)
		})
	}
}

// LoggingMiddleware logs each request with method, path, status, and duration.
func LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: writer, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, request)

			logger := zerolog.Ctx(request.Context()).With().
				Str("method", request.Method).
				Str("path", request.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Logger()

			switch {
			case wrapped.statusCode >= 500:
				logger.Error().Msg(http.StatusText(wrapped.statusCode))
			case wrapped.statusCode >= 400:
				logger.Warn().Msg(http.StatusText(wrapped.statusCode))
			default:
				logger.Info().Msg(http.StatusText(wrapped.statusCode))
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so SSE streaming survives the wrap.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
