// Package upstream executes single calls against OpenAI-compatible chat
// completion providers and classifies their outcomes. All upstream faults are
// caught here and reclassified into the package's error taxonomy; callers
// never see a raw transport fault.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/llmgate/llmgate/internal/config"
)

const (
	completionsPath = "/chat/completions"

	// maxErrorBody bounds how much of an upstream error response is retained
	// for logging.
	maxErrorBody = 64 * 1024
)

// CallRequest is one concrete upstream call: a planned attempt resolved
// against the provider catalog plus the inbound payload.
type CallRequest struct {
	// ProviderID is the catalog id, used in logs and error classification.
	ProviderID string
	// Provider is the resolved provider endpoint.
	Provider config.ProviderConfig
	// Model is the concrete model name written into the outbound payload.
	Model string
	// Headers are per-attempt header overrides (highest precedence).
	Headers map[string]string
	// Body are per-attempt body overrides applied on top of the payload.
	Body map[string]any
	// Subprovider, when set, pins the call to a single downstream vendor with
	// provider fallbacks disabled (sequential sub-provider expansion).
	Subprovider string
	// SubproviderOrder, when set, is forwarded whole as a preference hint and
	// the provider handles ordering itself.
	SubproviderOrder []string
	// Streaming requests an SSE response.
	Streaming bool
	// Payload is the inbound request body, forwarded with the merges above.
	Payload []byte
}

// Response is a classified successful upstream result: either a complete body
// or an open committed stream, never both.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Stream *Stream
}

// IsStream reports whether the response carries an open stream.
func (r *Response) IsStream() bool {
	return r.Stream != nil
}

// Client executes upstream calls over a shared pooled transport.
type Client struct {
	http    *http.Client
	runtime config.RuntimeConfig
	logger  zerolog.Logger
}

// NewClient creates a Client. The per-attempt timeout is read from the live
// routing config on every call; connection pooling is shared across requests.
func NewClient(runtime config.RuntimeConfig, logger *zerolog.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		// No Client.Timeout: it would kill long streams. Attempts are bounded
		// by a timer that is released once the stream commits.
		http:    &http.Client{Transport: transport},
		runtime: runtime,
		logger:  logger.With().Str("component", "upstream").Logger(),
	}
}

// Do executes one call and classifies the outcome. For streaming calls,
// success is declared once the first data chunk has been read; the returned
// Stream owns the connection from then on.
func (c *Client) Do(ctx context.Context, call CallRequest) (*Response, error) {
	body, err := c.buildPayload(call)
	if err != nil {
		return nil, &BodyError{Provider: call.ProviderID, Detail: fmt.Sprintf("payload merge failed: %v", err)}
	}

	timeout := c.runtime.Get().Routing.AttemptTimeout()
	callCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(timeout, cancel)

	// release stops the attempt timer; the stream path calls it after the
	// first chunk so a long-lived stream is no longer subject to the attempt
	// timeout, and hands cancel to the Stream for teardown.
	release := func() { timer.Stop() }

	resp, err := c.send(callCtx, call, body)
	if err != nil {
		release()
		cancel()
		// Caller disconnect is not an upstream fault; propagate it raw so the
		// orchestrator stops instead of falling back.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Provider: call.ProviderID, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		release()
		cancel()
		return nil, &StatusError{Provider: call.ProviderID, Status: resp.StatusCode, Body: detail}
	}

	if !call.Streaming {
		defer cancel()
		defer release()
		return c.readComplete(call, resp)
	}

	return c.primeStream(call, resp, release, cancel)
}

// buildPayload merges the outbound body. Precedence, highest last: inbound
// payload fields, the attempt's model name, attempt body overrides, then
// sub-provider routing fields.
func (c *Client) buildPayload(call CallRequest) ([]byte, error) {
	body, err := sjson.SetBytes(call.Payload, "model", call.Model)
	if err != nil {
		return nil, err
	}

	for key, value := range call.Body {
		if body, err = sjson.SetBytes(body, key, value); err != nil {
			return nil, err
		}
	}

	switch {
	case call.Subprovider != "":
		if body, err = sjson.SetBytes(body, "provider.order", []string{call.Subprovider}); err != nil {
			return nil, err
		}
		if body, err = sjson.SetBytes(body, "allow_fallbacks", false); err != nil {
			return nil, err
		}
	case len(call.SubproviderOrder) > 0:
		if body, err = sjson.SetBytes(body, "provider.order", call.SubproviderOrder); err != nil {
			return nil, err
		}
	}

	return body, nil
}

func (c *Client) send(ctx context.Context, call CallRequest, body []byte) (*http.Response, error) {
	url := strings.TrimRight(call.Provider.BaseURL, "/") + completionsPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Title", "llmgate")
	for key, value := range call.Provider.Headers {
		req.Header.Set(key, value)
	}
	if call.Provider.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+call.Provider.APIKey)
	} else {
		c.logger.Warn().Str("provider", call.ProviderID).Msg("no API key configured; calling without Authorization")
	}
	for key, value := range call.Headers {
		req.Header.Set(key, value)
	}
	if call.Streaming {
		req.Header.Set("Accept", "text/event-stream")
	}

	return c.http.Do(req)
}

// readComplete consumes a non-streaming 2xx response. Bodies that are 2xx but
// carry an error/detail JSON field are classified as failures; some
// aggregators report upstream faults this way.
func (c *Client) readComplete(call CallRequest, resp *http.Response) (*Response, error) {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Provider: call.ProviderID, Err: err}
	}

	if !gjson.ValidBytes(body) {
		return nil, &BodyError{Provider: call.ProviderID, Detail: "invalid JSON response: " + truncate(body, 200)}
	}
	if detail, found := errorDetail(body); found {
		return nil, &BodyError{Provider: call.ProviderID, Detail: detail}
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// primeStream reads until the first data chunk before declaring success.
// Non-data events ahead of it (comments, keep-alive pings) are held and
// replayed in order once the stream is committed. A first chunk carrying an
// error marker fails the attempt; nothing has been forwarded yet, so
// fallback is still safe.
func (c *Client) primeStream(call CallRequest, resp *http.Response, release func(), cancel context.CancelFunc) (*Response, error) {
	reader := newSSEReader(resp.Body)

	var preamble []*sseEvent
	for {
		ev, err := reader.Next()
		if ev != nil {
			preamble = append(preamble, ev)
			if ev.IsData() {
				break
			}
		}
		if err != nil {
			_ = resp.Body.Close()
			release()
			cancel()
			return nil, &TransportError{Provider: call.ProviderID, Err: fmt.Errorf("stream ended before first chunk: %w", err)}
		}
	}

	first := preamble[len(preamble)-1]
	if detail, found := errorDetail(first.Data); found {
		_ = resp.Body.Close()
		release()
		cancel()
		return nil, &BodyError{Provider: call.ProviderID, Detail: detail}
	}

	release()

	stream := &Stream{
		provider: call.ProviderID,
		model:    call.Model,
		preamble: preamble,
		reader:   reader,
		body:     resp.Body,
		cancel:   cancel,
		logger:   c.logger,
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Stream: stream}, nil
}

// errorDetail extracts an error message from a JSON body containing an
// error or detail field.
func errorDetail(body []byte) (string, bool) {
	errField := gjson.GetBytes(body, "error")
	detail := gjson.GetBytes(body, "detail")
	if !errField.Exists() && !detail.Exists() {
		return "", false
	}

	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String(), true
	}
	if errField.Exists() && errField.Type == gjson.String {
		return errField.String(), true
	}
	if detail.Exists() {
		return detail.String(), true
	}
	return truncate(body, 200), true
}
