package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/llmgate/llmgate/internal/router"
	"github.com/llmgate/llmgate/internal/upstream"
)

// CompletionEngine is the routing engine surface the handler needs.
// Satisfied by *router.Engine.
type CompletionEngine interface {
	Handle(ctx context.Context, req router.Request) (*upstream.Response, error)
	RotationIndex(ctx context.Context, clientKey, gatewayModel string) (int, bool, error)
}

// CompletionHandler serves POST /v1/chat/completions. It validates the
// inbound body, identifies the caller, and hands the request to the engine.
// Streaming responses are forwarded event by event after the engine commits
// to an upstream.
type CompletionHandler struct {
	engine CompletionEngine
}

// NewCompletionHandler creates a CompletionHandler.
func NewCompletionHandler(engine CompletionEngine) *CompletionHandler {
	return &CompletionHandler{engine: engine}
}

func (h *CompletionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if IsBodyTooLargeError(err) {
			WriteError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request_too_large",
				"request body exceeds the maximum allowed size")
			return
		}
		WriteError(w, http.StatusBadRequest, "invalid_request_error", "invalid_body",
			"failed to read request body")
		return
	}

	if !gjson.ValidBytes(body) {
		WriteError(w, http.StatusBadRequest, "invalid_request_error", "invalid_json",
			"request body is not valid JSON")
		return
	}

	model := RequestedModel(body)
	if model == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request_error", "missing_model",
			"request body must include a model")
		return
	}

	req := router.Request{
		ClientKey: ClientKey(r),
		Model:     model,
		Streaming: IsStreamingRequest(body),
		Payload:   body,
	}

	resp, err := h.engine.Handle(r.Context(), req)
	if err != nil {
		var committed *upstream.StreamCommittedError
		if errors.As(err, &committed) {
			// Data already reached the client; the status line is spent.
			logger.Error().Err(err).Msg("stream failed after data was forwarded")
			return
		}
		WriteEngineError(w, err)
		return
	}

	if resp.IsStream() {
		h.forwardStream(r.Context(), w, resp, logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	if _, err := w.Write(resp.Body); err != nil {
		logger.Error().Err(err).Msg("failed to write response body")
	}
}

// forwardStream relays the committed upstream stream to the client. Failures
// here cannot change the response status; they are logged and the connection
// is dropped so the client sees a truncated stream rather than a fabricated
// terminator.
func (h *CompletionHandler) forwardStream(ctx context.Context, w http.ResponseWriter, resp *upstream.Response, logger *zerolog.Logger) {
	SetSSEHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		flusher = nopFlusher{}
	}

	if err := resp.Stream.Forward(ctx, w, flusher); err != nil {
		logger.Error().Err(err).Msg("stream forwarding failed")
	}
}

type nopFlusher struct{}

func (nopFlusher) Flush() {}
