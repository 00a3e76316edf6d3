package proxy

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/ratelimit"
)

// SetupRoutes creates the HTTP handler with all routes configured.
// Routes:
//   - POST /v1/chat/completions - routed completion endpoint (auth if configured)
//   - GET /v1/models - list gateway models (no auth required)
//   - GET /health - liveness check (no auth required)
//   - GET /admin/rotation - rotation cursor introspection (auth if configured)
func SetupRoutes(cfg *config.Config, runtime config.RuntimeConfig, engine CompletionEngine) http.Handler {
	mux := http.NewServeMux()

	limiter := ratelimit.NewRegistry(cfg.Server.GetRateLimitOption().OrElse(0))
	auth := AuthMiddleware(cfg.Server.Auth.APIKey)
	if !cfg.Server.Auth.IsEnabled() {
		log.Warn().Msg("inbound auth disabled; any bearer token is accepted")
	}

	completions := chain(NewCompletionHandler(engine),
		MaxBodyBytesMiddleware(cfg.Server.MaxBodyBytes),
		RateLimitMiddleware(limiter),
		auth,
	)
	mux.Handle("POST /v1/chat/completions", completions)

	mux.Handle("GET /v1/models", NewModelsHandler(runtime))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Handle("GET /admin/rotation", auth(NewRotationHandler(engine)))

	return chain(mux,
		LoggingMiddleware(),
		RequestIDMiddleware(),
	)
}

// chain applies middlewares so the first listed runs closest to the handler.
func chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

// RotationHandler reports the stored rotation cursor for a client and model.
type RotationHandler struct {
	engine CompletionEngine
}

// NewRotationHandler creates a RotationHandler.
func NewRotationHandler(engine CompletionEngine) *RotationHandler {
	return &RotationHandler{engine: engine}
}

// ServeHTTP handles GET /admin/rotation?model=...&client_key=... requests.
// client_key defaults to the caller's own bearer token.
func (h *RotationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	if model == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request_error", "missing_model",
			"query parameter model is required")
		return
	}

	clientKey := r.URL.Query().Get("client_key")
	if clientKey == "" {
		clientKey = ClientKey(r)
	}

	index, rotates, err := h.engine.RotationIndex(r.Context(), clientKey, model)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("rotation index lookup failed")
		WriteError(w, http.StatusInternalServerError, "api_error", "rotation_lookup_failed",
			"failed to read rotation state")
		return
	}
	if !rotates {
		WriteError(w, http.StatusNotFound, "invalid_request_error", "not_a_rotation_model",
			"model has no rotation rule")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"model":      model,
		"next_index": index,
	})
}
