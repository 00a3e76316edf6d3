package router

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/health"
	"github.com/llmgate/llmgate/internal/rotation"
	"github.com/llmgate/llmgate/internal/upstream"
)

// Caller executes one upstream call. Satisfied by *upstream.Client.
type Caller interface {
	Do(ctx context.Context, call upstream.CallRequest) (*upstream.Response, error)
}

// Request is one inbound completion request as the engine sees it.
type Request struct {
	// ClientKey identifies the caller for rotation state. Empty is valid and
	// shares one rotation cursor across anonymous callers.
	ClientKey string
	// Model is the gateway model name from the request body.
	Model string
	// Streaming mirrors the request's stream flag.
	Streaming bool
	// Payload is the raw request body.
	Payload []byte
}

// Engine drives an attempt plan to completion: it plans, executes attempts in
// order, waits out retry delays, and settles rotation state. One Engine
// serves all requests concurrently; per-request state stays on the stack.
type Engine struct {
	runtime  config.RuntimeConfig
	caller   Caller
	rotation rotation.Store
	health   *health.Tracker
	logger   zerolog.Logger
}

// NewEngine creates an Engine.
func NewEngine(runtime config.RuntimeConfig, caller Caller, store rotation.Store, tracker *health.Tracker, logger *zerolog.Logger) *Engine {
	return &Engine{
		runtime:  runtime,
		caller:   caller,
		rotation: store,
		health:   tracker,
		logger:   logger.With().Str("component", "engine").Logger(),
	}
}

// Handle resolves a plan for the request and executes it. On success the
// upstream response is returned and, for rotation rules, the cursor is
// advanced. When every attempt fails an ExhaustedError wrapping the last
// failure is returned. A failure after stream commit is returned as a
// StreamCommittedError and is never retried.
func (e *Engine) Handle(ctx context.Context, req Request) (*upstream.Response, error) {
	cfg := e.runtime.Get()
	rule := cfg.RuleFor(req.Model)

	storedIndex := 0
	if rule != nil && rule.Rotate {
		idx, err := e.rotation.Index(ctx, req.ClientKey, req.Model, len(rule.Targets))
		if err != nil {
			// A broken store degrades to always starting at the first target
			// rather than failing the request.
			e.logger.Error().Err(err).Str("model", req.Model).Msg("rotation index lookup failed, starting at 0")
		} else {
			storedIndex = idx
		}
	}

	plan := BuildPlan(rule, req.Model, cfg.Routing.DefaultProvider, storedIndex)
	triggers := TriggersFor(cfg.Routing.RetryStatuses)

	e.logger.Debug().
		Str("model", plan.GatewayModel).
		Str("strategy", string(plan.Strategy)).
		Int("attempts", len(plan.Attempts)).
		Int("start_index", plan.StartIndex).
		Msg("plan built")

	resp, tries, err := e.execute(ctx, cfg, plan, req, triggers)
	if err == nil {
		e.settleSuccess(req, plan)
		return resp, nil
	}

	var committed *upstream.StreamCommittedError
	if errors.As(err, &committed) || ctx.Err() != nil {
		return nil, err
	}

	e.settleExhaustion(cfg, req, plan)
	return nil, &ExhaustedError{GatewayModel: plan.GatewayModel, Tries: tries, LastErr: err}
}

// execute runs the plan until a success or the attempts run out. Returns the
// total try count alongside the last error for exhaustion reporting.
func (e *Engine) execute(ctx context.Context, cfg *config.Config, plan Plan, req Request, triggers []RetryTrigger) (*upstream.Response, int, error) {
	var lastErr error
	tries := 0

	for _, attempt := range plan.Attempts {
		provider, ok := cfg.Provider(attempt.Provider)
		if !ok {
			lastErr = &UnknownProviderError{Provider: attempt.Provider}
			e.logger.Warn().Str("provider", attempt.Provider).Msg("skipping attempt, provider not configured")
			continue
		}

		for try := 0; try <= attempt.Retries; try++ {
			done, allowErr := e.health.Allow(attempt.Provider)
			if allowErr != nil {
				// An open circuit skips the whole attempt including its retry
				// budget; hammering a tripped provider defeats the breaker.
				lastErr = allowErr
				e.logger.Warn().Str("provider", attempt.Provider).Msg("circuit open, skipping attempt")
				break
			}

			tries++
			resp, err := e.caller.Do(ctx, e.callFor(attempt, provider, req))
			done(err)

			if err == nil {
				e.logAttempt(attempt, try, nil)
				return resp, tries, nil
			}
			lastErr = err

			var committed *upstream.StreamCommittedError
			if errors.As(err, &committed) {
				e.logger.Error().Err(err).
					Str("provider", attempt.Provider).
					Str("model", attempt.Model).
					Int("events", committed.Events).
					Msg("stream failed after commit, aborting plan")
				return nil, tries, err
			}
			if ctx.Err() != nil {
				return nil, tries, ctx.Err()
			}

			trigger := FindMatchingTrigger(triggers, err)
			e.logAttempt(attempt, try, err)
			if trigger == nil {
				e.logger.Warn().Err(err).Str("provider", attempt.Provider).Msg("failure not retryable, aborting plan")
				return nil, tries, err
			}

			if try < attempt.Retries && attempt.RetryDelay > 0 {
				if err := e.wait(ctx, attempt.RetryDelay); err != nil {
					return nil, tries, err
				}
			}
		}
	}

	return nil, tries, lastErr
}

// wait pauses between retries of the same attempt, abandoning the wait if the
// caller goes away.
func (e *Engine) wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) callFor(attempt Attempt, provider config.ProviderConfig, req Request) upstream.CallRequest {
	return upstream.CallRequest{
		ProviderID:       attempt.Provider,
		Provider:         provider,
		Model:            attempt.Model,
		Headers:          attempt.Headers,
		Body:             attempt.Body,
		Subprovider:      attempt.Subprovider,
		SubproviderOrder: attempt.SubproviderOrder,
		Streaming:        req.Streaming,
		Payload:          req.Payload,
	}
}

// settleSuccess advances the rotation cursor after a successful attempt.
// Rotation state is settled on success only, so a wholly failed request
// leaves the cursor where it was.
func (e *Engine) settleSuccess(req Request, plan Plan) {
	if plan.Strategy != StrategyRotation {
		return
	}
	e.advance(req, plan)
}

// settleExhaustion optionally advances the cursor when a rotation plan fails
// outright, so the next request starts from a different peer.
func (e *Engine) settleExhaustion(cfg *config.Config, req Request, plan Plan) {
	if plan.Strategy != StrategyRotation || !cfg.Routing.AdvanceOnExhaustion {
		return
	}
	e.advance(req, plan)
}

func (e *Engine) advance(req Request, plan Plan) {
	// The request context may already be canceled or expired; state writes
	// get their own short deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := e.rotation.Advance(ctx, req.ClientKey, plan.GatewayModel, plan.TargetCount); err != nil {
		e.logger.Error().Err(err).Str("model", plan.GatewayModel).Msg("rotation advance failed")
	}
}

// RotationIndex reports the stored cursor for a client and model, for
// introspection endpoints. Returns 0 and false when the model has no rotation
// rule.
func (e *Engine) RotationIndex(ctx context.Context, clientKey, gatewayModel string) (int, bool, error) {
	rule := e.runtime.Get().RuleFor(gatewayModel)
	if rule == nil || !rule.Rotate {
		return 0, false, nil
	}
	idx, err := e.rotation.Index(ctx, clientKey, gatewayModel, len(rule.Targets))
	if err != nil {
		return 0, true, err
	}
	return idx, true, nil
}

func (e *Engine) logAttempt(attempt Attempt, try int, err error) {
	ev := e.logger.Debug()
	if err != nil {
		ev = e.logger.Warn().Err(err)
		if status := upstream.StatusOf(err); status != 0 {
			ev = ev.Int("status", status)
		}
	}
	ev.Str("provider", attempt.Provider).
		Str("model", attempt.Model).
		Int("target_index", attempt.TargetIndex).
		Int("try", try)
	if attempt.Subprovider != "" {
		ev = ev.Str("subprovider", attempt.Subprovider)
	}
	if err != nil {
		ev.Msg("attempt failed")
		return
	}
	ev.Msg("attempt succeeded")
}
