package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/router"
	"github.com/llmgate/llmgate/internal/upstream"
)

// stubEngine returns a scripted response and records the request it saw.
type stubEngine struct {
	resp *upstream.Response
	err  error
	got  router.Request

	rotationIdx   int
	rotationFound bool
	rotationErr   error
}

func (s *stubEngine) Handle(_ context.Context, req router.Request) (*upstream.Response, error) {
	s.got = req
	return s.resp, s.err
}

func (s *stubEngine) RotationIndex(_ context.Context, _, _ string) (int, bool, error) {
	return s.rotationIdx, s.rotationFound, s.rotationErr
}

func postCompletion(handler http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer client-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCompletionHandler_Success(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{resp: &upstream.Response{Status: 200, Body: []byte(`{"id":"resp"}`)}}
	handler := NewCompletionHandler(engine)

	rec := postCompletion(handler, `{"model":"free-stack","messages":[]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"resp"}`, rec.Body.String())
	assert.Equal(t, "free-stack", engine.got.Model)
	assert.Equal(t, "client-token", engine.got.ClientKey,
		"the bearer token identifies the client for rotation")
	assert.False(t, engine.got.Streaming)
}

func TestCompletionHandler_StreamFlagForwarded(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{resp: &upstream.Response{Status: 200, Body: []byte(`{}`)}}
	handler := NewCompletionHandler(engine)

	postCompletion(handler, `{"model":"m","stream":true}`)
	assert.True(t, engine.got.Streaming)
}

func TestCompletionHandler_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "invalid JSON", body: `{"model":`, code: "invalid_json"},
		{name: "missing model", body: `{"messages":[]}`, code: "missing_model"},
		{name: "non-string model", body: `{"model":42}`, code: "missing_model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			engine := &stubEngine{}
			rec := postCompletion(NewCompletionHandler(engine), tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := rec.Body.String()
			assert.Equal(t, "invalid_request_error", gjson.Get(body, "error.type").String())
			assert.Equal(t, tt.code, gjson.Get(body, "error.code").String())
		})
	}
}

func TestCompletionHandler_ExhaustionIs503(t *testing.T) {
	t.Parallel()

	lastErr := &upstream.StatusError{Provider: "openrouter", Status: 429, Body: []byte("rate limited")}
	engine := &stubEngine{err: &router.ExhaustedError{GatewayModel: "m", Tries: 5, LastErr: lastErr}}

	rec := postCompletion(NewCompletionHandler(engine), `{"model":"m"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, "all_providers_failed", gjson.Get(body, "error.code").String())
	assert.Contains(t, gjson.Get(body, "error.message").String(), "rate limited",
		"the last upstream error must be visible to the caller")
}

func TestCompletionHandler_TerminalStatusPassesThrough(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{err: &upstream.StatusError{Provider: "p", Status: 401, Body: []byte("bad key")}}

	rec := postCompletion(NewCompletionHandler(engine), `{"model":"m"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCompletionHandler_StreamForwarding(t *testing.T) {
	t.Parallel()

	const streamBody = "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: [DONE]\n\n"

	// A real upstream stream: the stub engine hands the handler a committed
	// Response the same way the routing engine would.
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, streamBody)
	}))
	defer origin.Close()

	logger := zerolog.Nop()
	client := upstream.NewClient(config.NewRuntime(&config.Config{}), &logger)
	resp, err := client.Do(context.Background(), upstream.CallRequest{
		ProviderID: "p",
		Provider:   config.ProviderConfig{BaseURL: origin.URL},
		Model:      "m",
		Streaming:  true,
		Payload:    []byte(`{"stream":true}`),
	})
	require.NoError(t, err)
	require.True(t, resp.IsStream())

	engine := &stubEngine{resp: resp}
	rec := postCompletion(NewCompletionHandler(engine), `{"model":"m","stream":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, streamBody, rec.Body.String(), "stream bytes must pass through unmodified")
}

func TestModelsHandler_ListsGatewayModels(t *testing.T) {
	t.Parallel()

	runtime := config.NewRuntime(&config.Config{
		Rules: []config.FallbackRule{
			{Model: "free-stack"},
			{Model: "deepseek-rotate"},
		},
	})

	rec := httptest.NewRecorder()
	NewModelsHandler(runtime).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, "list", gjson.Get(body, "object").String())
	assert.Equal(t, int64(2), gjson.Get(body, "data.#").Int())
	assert.Equal(t, "free-stack", gjson.Get(body, "data.0.id").String())
	assert.Equal(t, "model", gjson.Get(body, "data.0.object").String())
}

func TestRotationHandler(t *testing.T) {
	t.Parallel()

	t.Run("reports stored index", func(t *testing.T) {
		t.Parallel()

		engine := &stubEngine{rotationIdx: 2, rotationFound: true}
		req := httptest.NewRequest(http.MethodGet, "/admin/rotation?model=deepseek-rotate", nil)
		req.Header.Set("Authorization", "Bearer c")
		rec := httptest.NewRecorder()
		NewRotationHandler(engine).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "next_index").Int())
	})

	t.Run("missing model is 400", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		NewRotationHandler(&stubEngine{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/rotation", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-rotation model is 404", func(t *testing.T) {
		t.Parallel()

		engine := &stubEngine{rotationFound: false}
		rec := httptest.NewRecorder()
		NewRotationHandler(engine).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/rotation?model=free-stack", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("store failure is 500", func(t *testing.T) {
		t.Parallel()

		engine := &stubEngine{rotationFound: true, rotationErr: errors.New("db locked")}
		rec := httptest.NewRecorder()
		NewRotationHandler(engine).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/rotation?model=m", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
