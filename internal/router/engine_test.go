package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/health"
	"github.com/llmgate/llmgate/internal/rotation"
	"github.com/llmgate/llmgate/internal/upstream"
)

// stubCaller scripts one result per call in order, recording each call. The
// last result repeats if more calls arrive.
type stubCaller struct {
	mu      sync.Mutex
	results []stubResult
	calls   []upstream.CallRequest
}

type stubResult struct {
	resp *upstream.Response
	err  error
}

func (s *stubCaller) Do(_ context.Context, call upstream.CallRequest) (*upstream.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, call)
	idx := len(s.calls) - 1
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	r := s.results[idx]
	return r.resp, r.err
}

func (s *stubCaller) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubCaller) callAt(i int) upstream.CallRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

func ok() stubResult {
	return stubResult{resp: &upstream.Response{Status: 200, Body: []byte(`{"id":"1"}`)}}
}

func failStatus(status int) stubResult {
	return stubResult{err: &upstream.StatusError{Provider: "p", Status: status}}
}

func testConfig() *config.Config {
	return &config.Config{
		Providers: map[string]config.ProviderConfig{
			"openrouter": {BaseURL: "https://or.example/v1"},
			"deepseek":   {BaseURL: "https://ds.example/v1"},
			"local":      {BaseURL: "http://localhost:11434/v1"},
		},
		Rules: []config.FallbackRule{
			{
				Model: "free-stack",
				Targets: []config.ModelTarget{
					{Provider: "openrouter", Model: "model-a", RetryCount: 3},
					{Provider: "deepseek", Model: "model-b"},
				},
			},
			{
				Model:  "deepseek-rotate",
				Rotate: true,
				Targets: []config.ModelTarget{
					{Provider: "deepseek", Model: "rot-a"},
					{Provider: "openrouter", Model: "rot-b"},
					{Provider: "local", Model: "rot-c"},
				},
			},
		},
		Routing: config.RoutingConfig{DefaultProvider: "openrouter"},
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, caller Caller) (*Engine, rotation.Store) {
	t.Helper()

	logger := zerolog.Nop()
	store := rotation.NewMemoryStore()
	tracker := health.NewTracker(cfg.Health.CircuitBreaker, &logger)

	return NewEngine(config.NewRuntime(cfg), caller, store, tracker, &logger), store
}

func TestEngine_FirstAttemptSucceeds(t *testing.T) {
	t.Parallel()

	caller := &stubCaller{results: []stubResult{ok()}}
	engine, _ := newTestEngine(t, testConfig(), caller)

	resp, err := engine.Handle(context.Background(), Request{Model: "free-stack", Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, 1, caller.callCount())
	assert.Equal(t, "model-a", caller.callAt(0).Model)
}

func TestEngine_RetryBudgetThenFallback(t *testing.T) {
	t.Parallel()

	// model-a has retry_count 3: four tries, all 500, then model-b succeeds.
	caller := &stubCaller{results: []stubResult{
		failStatus(500), failStatus(500), failStatus(500), failStatus(500), ok(),
	}}
	engine, _ := newTestEngine(t, testConfig(), caller)

	resp, err := engine.Handle(context.Background(), Request{Model: "free-stack", Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	require.Equal(t, 5, caller.callCount())
	for i := 0; i < 4; i++ {
		assert.Equal(t, "model-a", caller.callAt(i).Model, "try %d", i)
	}
	assert.Equal(t, "model-b", caller.callAt(4).Model)
}

func TestEngine_ExhaustionReturns503Material(t *testing.T) {
	t.Parallel()

	caller := &stubCaller{results: []stubResult{failStatus(502)}}
	engine, _ := newTestEngine(t, testConfig(), caller)

	_, err := engine.Handle(context.Background(), Request{Model: "free-stack", Payload: []byte(`{}`)})
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, "free-stack", exhausted.GatewayModel)
	// 4 tries on model-a plus 1 on model-b.
	assert.Equal(t, 5, exhausted.Tries)

	var statusErr *upstream.StatusError
	assert.ErrorAs(t, exhausted.LastErr, &statusErr)
}

func TestEngine_NonRetryableStatusIsTerminal(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Routing.RetryStatuses = []int{429, 500, 502, 503, 504}

	caller := &stubCaller{results: []stubResult{failStatus(401)}}
	engine, _ := newTestEngine(t, cfg, caller)

	_, err := engine.Handle(context.Background(), Request{Model: "free-stack", Payload: []byte(`{}`)})
	require.Error(t, err)

	var statusErr *upstream.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 401, statusErr.Status)
	assert.Equal(t, 1, caller.callCount(), "401 must not consume the retry budget")
}

func TestEngine_RotationStartsAtStoredAndAdvancesOnSuccess(t *testing.T) {
	t.Parallel()

	caller := &stubCaller{results: []stubResult{ok()}}
	engine, store := newTestEngine(t, testConfig(), caller)

	ctx := context.Background()
	// Pre-advance so the stored cursor is 1.
	_, err := store.Advance(ctx, "client-1", "deepseek-rotate", 3)
	require.NoError(t, err)

	resp, err := engine.Handle(ctx, Request{ClientKey: "client-1", Model: "deepseek-rotate", Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "rot-b", caller.callAt(0).Model, "rotation must start at the stored index")

	next, err := store.Index(ctx, "client-1", "deepseek-rotate", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, next, "success must persist (stored+1) mod n")
}

func TestEngine_RotationSkipsToNextPeerWithoutRetries(t *testing.T) {
	t.Parallel()

	caller := &stubCaller{results: []stubResult{failStatus(500), ok()}}
	engine, store := newTestEngine(t, testConfig(), caller)

	ctx := context.Background()
	resp, err := engine.Handle(ctx, Request{ClientKey: "c", Model: "deepseek-rotate", Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	require.Equal(t, 2, caller.callCount())
	assert.Equal(t, "rot-a", caller.callAt(0).Model)
	assert.Equal(t, "rot-b", caller.callAt(1).Model, "rotation never retries the same peer")

	next, err := store.Index(ctx, "c", "deepseek-rotate", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestEngine_RotationExhaustionLeavesCursor(t *testing.T) {
	t.Parallel()

	caller := &stubCaller{results: []stubResult{failStatus(500)}}
	engine, store := newTestEngine(t, testConfig(), caller)

	ctx := context.Background()
	_, err := engine.Handle(ctx, Request{ClientKey: "c", Model: "deepseek-rotate", Payload: []byte(`{}`)})
	require.Error(t, err)

	next, err := store.Index(ctx, "c", "deepseek-rotate", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, next, "a wholly failed request must not move the cursor")
}

func TestEngine_RotationExhaustionAdvancesWhenConfigured(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Routing.AdvanceOnExhaustion = true

	caller := &stubCaller{results: []stubResult{failStatus(500)}}
	engine, store := newTestEngine(t, cfg, caller)

	ctx := context.Background()
	_, err := engine.Handle(ctx, Request{ClientKey: "c", Model: "deepseek-rotate", Payload: []byte(`{}`)})
	require.Error(t, err)

	next, err := store.Index(ctx, "c", "deepseek-rotate", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestEngine_RotationCursorIsPerClientKey(t *testing.T) {
	t.Parallel()

	caller := &stubCaller{results: []stubResult{ok()}}
	engine, store := newTestEngine(t, testConfig(), caller)

	ctx := context.Background()
	_, err := engine.Handle(ctx, Request{ClientKey: "alice", Model: "deepseek-rotate", Payload: []byte(`{}`)})
	require.NoError(t, err)

	aliceNext, err := store.Index(ctx, "alice", "deepseek-rotate", 3)
	require.NoError(t, err)
	bobNext, err := store.Index(ctx, "bob", "deepseek-rotate", 3)
	require.NoError(t, err)

	assert.Equal(t, 1, aliceNext)
	assert.Equal(t, 0, bobNext)
}

func TestEngine_UnknownModelPassthrough(t *testing.T) {
	t.Parallel()

	caller := &stubCaller{results: []stubResult{ok()}}
	engine, _ := newTestEngine(t, testConfig(), caller)

	_, err := engine.Handle(context.Background(), Request{Model: "gpt-4o", Payload: []byte(`{}`)})
	require.NoError(t, err)

	require.Equal(t, 1, caller.callCount())
	call := caller.callAt(0)
	assert.Equal(t, "openrouter", call.ProviderID)
	assert.Equal(t, "gpt-4o", call.Model, "unknown models forward verbatim to the default provider")
}

func TestEngine_SubproviderExpansionTriesEachVendorOnce(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Rules = []config.FallbackRule{{
		Model: "m",
		Targets: []config.ModelTarget{{
			Provider:            "openrouter",
			Model:               "qwen3-coder:free",
			RetryCount:          2,
			Subproviders:        []string{"chutes", "targon"},
			SubproviderFallback: true,
		}},
	}}

	caller := &stubCaller{results: []stubResult{failStatus(500)}}
	engine, _ := newTestEngine(t, cfg, caller)

	_, err := engine.Handle(context.Background(), Request{Model: "m", Payload: []byte(`{}`)})
	require.Error(t, err)

	require.Equal(t, 2, caller.callCount(),
		"each sub-provider gets a single try; vendor fallback replaces same-attempt retries")
	assert.Equal(t, "chutes", caller.callAt(0).Subprovider)
	assert.Equal(t, "targon", caller.callAt(1).Subprovider)
}

func TestEngine_StreamCommittedFailureAbortsPlan(t *testing.T) {
	t.Parallel()

	committed := &upstream.StreamCommittedError{Provider: "openrouter", Events: 3, Err: errors.New("connection reset")}
	caller := &stubCaller{results: []stubResult{{err: committed}}}
	engine, _ := newTestEngine(t, testConfig(), caller)

	_, err := engine.Handle(context.Background(), Request{Model: "free-stack", Streaming: true, Payload: []byte(`{}`)})
	require.Error(t, err)

	var got *upstream.StreamCommittedError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, 3, got.Events)
	assert.Equal(t, 1, caller.callCount(), "no fallback after data reached the client")
}

func TestEngine_ContextCancellationStopsPlan(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	caller := &stubCaller{results: []stubResult{{err: func() error { cancel(); return context.Canceled }()}}}

	// The stub cancels before returning; simulate a caller disconnect
	// surfacing from the first attempt.
	engine, _ := newTestEngine(t, testConfig(), caller)

	_, err := engine.Handle(ctx, Request{Model: "free-stack", Payload: []byte(`{}`)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, caller.callCount())
}

func TestEngine_RetryDelayWaitsBetweenTries(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Rules[0].Targets[0].RetryCount = 1
	cfg.Rules[0].Targets[0].RetryDelay = 1

	caller := &stubCaller{results: []stubResult{failStatus(500), ok()}}
	engine, _ := newTestEngine(t, cfg, caller)

	start := time.Now()
	_, err := engine.Handle(context.Background(), Request{Model: "free-stack", Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestEngine_RetryDelayAbandonedOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Rules[0].Targets[0].RetryCount = 1
	cfg.Rules[0].Targets[0].RetryDelay = 30

	caller := &stubCaller{results: []stubResult{failStatus(500)}}
	engine, _ := newTestEngine(t, cfg, caller)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := engine.Handle(ctx, Request{Model: "free-stack", Payload: []byte(`{}`)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must cut the retry wait short")
}

func TestEngine_CircuitOpenSkipsProvider(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Health.CircuitBreaker = config.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		OpenDurationMS:   60000,
	}
	cfg.Rules[0].Targets[0].RetryCount = 0

	// Two failures trip openrouter's breaker; the third request must go
	// straight to deepseek without touching openrouter.
	caller := &stubCaller{results: []stubResult{
		failStatus(500), ok(),
		failStatus(500), ok(),
		ok(),
	}}
	engine, _ := newTestEngine(t, cfg, caller)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := engine.Handle(ctx, Request{Model: "free-stack", Payload: []byte(`{}`)})
		require.NoError(t, err, "request %d", i)
	}

	_, err := engine.Handle(ctx, Request{Model: "free-stack", Payload: []byte(`{}`)})
	require.NoError(t, err)

	require.Equal(t, 5, caller.callCount())
	assert.Equal(t, "deepseek", caller.callAt(4).ProviderID, "tripped provider must be skipped")
}

func TestEngine_RotationIndexIntrospection(t *testing.T) {
	t.Parallel()

	caller := &stubCaller{results: []stubResult{ok()}}
	engine, store := newTestEngine(t, testConfig(), caller)

	ctx := context.Background()
	_, err := store.Advance(ctx, "c", "deepseek-rotate", 3)
	require.NoError(t, err)

	idx, rotates, err := engine.RotationIndex(ctx, "c", "deepseek-rotate")
	require.NoError(t, err)
	assert.True(t, rotates)
	assert.Equal(t, 1, idx)

	_, rotates, err = engine.RotationIndex(ctx, "c", "free-stack")
	require.NoError(t, err)
	assert.False(t, rotates)
}
