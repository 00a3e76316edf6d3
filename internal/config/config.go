// Package config provides configuration loading and parsing for llmgate.
package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"
)

// RuntimeConfig defines the interface for accessing runtime configuration that
// supports hot-reload. Components that need to observe rule set changes should
// use this interface instead of holding a direct *Config pointer, which would
// become stale after a reload.
type RuntimeConfig interface {
	Get() *Config
}

// Log level constants.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Rotation store backend constants.
const (
	RotationBackendSQLite = "sqlite"
	RotationBackendMemory = "memory"
)

// Config represents the complete llmgate configuration: the provider catalog,
// the fallback rules, and the ambient server/logging/routing settings.
type Config struct {
	Providers map[string]ProviderConfig `yaml:"providers" toml:"providers"`
	Rules     []FallbackRule            `yaml:"rules" toml:"rules"`
	Routing   RoutingConfig             `yaml:"routing" toml:"routing"`
	Rotation  RotationConfig            `yaml:"rotation" toml:"rotation"`
	Health    HealthConfig              `yaml:"health" toml:"health"`
	Logging   LoggingConfig             `yaml:"logging" toml:"logging"`
	Server    ServerConfig              `yaml:"server" toml:"server"`
}

// RuleFor returns the fallback rule for a gateway model name.
// When duplicate rules exist for the same model, the first declared rule wins.
// Returns nil when no rule matches.
func (c *Config) RuleFor(gatewayModel string) *FallbackRule {
	for i := range c.Rules {
		if c.Rules[i].Model == gatewayModel {
			return &c.Rules[i]
		}
	}
	return nil
}

// Provider returns the provider config for the given id.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	p, ok := c.Providers[id]
	return p, ok
}

// ProviderConfig defines a backend OpenAI-compatible provider endpoint.
type ProviderConfig struct {
	// BaseURL is the provider API root, e.g. "https://openrouter.ai/api/v1".
	// The chat completions path is appended when building the call.
	BaseURL string `yaml:"base_url" toml:"base_url"`

	// APIKey is the bearer secret for the provider. Supports ${ENV_VAR}
	// expansion at load time. When empty after expansion, calls are made
	// without an Authorization header.
	APIKey string `yaml:"api_key" toml:"api_key"`

	// Headers are extra headers sent on every call to this provider.
	Headers map[string]string `yaml:"headers" toml:"headers"`
}

// FallbackRule maps one gateway model name to an ordered sequence of concrete
// provider/model targets, optionally rotated round-robin across requests.
type FallbackRule struct {
	// Model is the gateway model name clients request.
	Model string `yaml:"model" toml:"model"`

	// Rotate enables round-robin advancement of the starting target across
	// successive requests. Per-target retry settings are ignored in this mode.
	Rotate bool `yaml:"rotate" toml:"rotate"`

	// Targets is the ordered, non-empty fallback sequence.
	Targets []ModelTarget `yaml:"targets" toml:"targets"`
}

// ModelTarget is one concrete provider/model entry in a fallback sequence.
type ModelTarget struct {
	Provider string `yaml:"provider" toml:"provider"`
	Model    string `yaml:"model" toml:"model"`

	// RetryCount is the number of additional tries against this same target
	// before falling through to the next one. Ignored when the owning rule
	// rotates.
	RetryCount int `yaml:"retry_count" toml:"retry_count"`

	// RetryDelay is the wait between retries, in seconds. Honored only when
	// 0 < delay < 120.
	RetryDelay int `yaml:"retry_delay" toml:"retry_delay"`

	// Subproviders is an ordered downstream vendor preference list
	// (OpenRouter-style provider ordering).
	Subproviders []string `yaml:"subproviders" toml:"subproviders"`

	// SubproviderFallback expands the subprovider list into one sequential
	// attempt per entry instead of passing the whole list through as a hint.
	SubproviderFallback bool `yaml:"subprovider_fallback" toml:"subprovider_fallback"`

	// Headers and Body are per-target request overrides applied on top of the
	// inbound payload.
	Headers map[string]string `yaml:"headers" toml:"headers"`
	Body    map[string]any    `yaml:"body" toml:"body"`
}

// RetryDelayDuration returns the retry delay as a duration Option.
// Returns None when the delay is outside the honored (0, 120s) range.
func (t *ModelTarget) RetryDelayDuration() mo.Option[time.Duration] {
	if t.RetryDelay <= 0 || t.RetryDelay >= 120 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(t.RetryDelay) * time.Second)
}

// RoutingConfig defines the gateway routing policy.
type RoutingConfig struct {
	// DefaultProvider handles gateway models with no matching rule.
	// The requested model name is forwarded to it verbatim.
	DefaultProvider string `yaml:"default_provider" toml:"default_provider"`

	// AttemptTimeoutMS bounds a single upstream attempt (connect plus first
	// byte for streaming calls). Default: 300000ms.
	AttemptTimeoutMS int `yaml:"attempt_timeout_ms" toml:"attempt_timeout_ms"`

	// AdvanceOnExhaustion also advances the stored rotation index when every
	// attempt of a rotation-mode request failed, so the next request skips
	// the broken leading target. Default: false (advance is success-only).
	AdvanceOnExhaustion bool `yaml:"advance_on_exhaustion" toml:"advance_on_exhaustion"`

	// RetryStatuses restricts which upstream HTTP status codes are treated as
	// retryable. Empty means every non-2xx response is retryable.
	RetryStatuses []int `yaml:"retry_statuses" toml:"retry_statuses"`
}

// AttemptTimeout returns the per-attempt timeout with default fallback.
func (r *RoutingConfig) AttemptTimeout() time.Duration {
	if r.AttemptTimeoutMS <= 0 {
		return 300 * time.Second
	}
	return time.Duration(r.AttemptTimeoutMS) * time.Millisecond
}

// RotationConfig defines the durable rotation state store.
type RotationConfig struct {
	// Backend selects the store implementation: "sqlite" (default) or "memory".
	Backend string `yaml:"backend" toml:"backend"`

	// Path is the SQLite database file. Default: "llmgate-rotation.db".
	Path string `yaml:"path" toml:"path"`
}

// GetEffectiveBackend returns the store backend with default fallback.
func (r *RotationConfig) GetEffectiveBackend() string {
	if r.Backend == "" {
		return RotationBackendSQLite
	}
	return r.Backend
}

// GetEffectivePath returns the SQLite path with default fallback.
func (r *RotationConfig) GetEffectivePath() string {
	if r.Path == "" {
		return "llmgate-rotation.db"
	}
	return r.Path
}

// HealthConfig defines per-provider circuit breaker behavior.
type HealthConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" toml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the per-provider breaker.
type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled" toml:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold" toml:"failure_threshold"`
	OpenDurationMS   int  `yaml:"open_duration_ms" toml:"open_duration_ms"`
	HalfOpenProbes   int  `yaml:"half_open_probes" toml:"half_open_probes"`
}

// GetFailureThreshold returns the consecutive-failure trip threshold.
func (c *CircuitBreakerConfig) GetFailureThreshold() int {
	if c.FailureThreshold <= 0 {
		return 5
	}
	return c.FailureThreshold
}

// GetOpenDuration returns how long an open breaker stays open.
func (c *CircuitBreakerConfig) GetOpenDuration() time.Duration {
	if c.OpenDurationMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.OpenDurationMS) * time.Millisecond
}

// GetHalfOpenProbes returns the number of probe requests allowed half-open.
func (c *CircuitBreakerConfig) GetHalfOpenProbes() int {
	if c.HalfOpenProbes <= 0 {
		return 1
	}
	return c.HalfOpenProbes
}

// ServerConfig defines server-level settings.
type ServerConfig struct {
	Listen       string     `yaml:"listen" toml:"listen"`
	Auth         AuthConfig `yaml:"auth" toml:"auth"`
	TimeoutMS    int        `yaml:"timeout_ms" toml:"timeout_ms"`
	MaxBodyBytes int64      `yaml:"max_body_bytes" toml:"max_body_bytes"`
	RateLimitRPM int        `yaml:"rate_limit_rpm" toml:"rate_limit_rpm"`
	EnableHTTP2  bool       `yaml:"enable_http2" toml:"enable_http2"`
}

// GetListen returns the listen address with default fallback.
func (s *ServerConfig) GetListen() string {
	if s.Listen == "" {
		return ":8800"
	}
	return s.Listen
}

// GetTimeoutOption returns the end-to-end write timeout as an Option.
// Returns None when TimeoutMS is zero (use the server default).
func (s *ServerConfig) GetTimeoutOption() mo.Option[time.Duration] {
	if s.TimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(s.TimeoutMS) * time.Millisecond)
}

// GetRateLimitOption returns the per-client RPM limit as an Option.
// Returns None when rate limiting is disabled.
func (s *ServerConfig) GetRateLimitOption() mo.Option[int] {
	if s.RateLimitRPM <= 0 {
		return mo.None[int]()
	}
	return mo.Some(s.RateLimitRPM)
}

// AuthConfig defines inbound authentication for the gateway.
// Clients authenticate with Authorization: Bearer <key>; the key doubles as
// the rotation client key even when auth enforcement is disabled.
type AuthConfig struct {
	// APIKey is the expected bearer value. Empty disables enforcement.
	APIKey string `yaml:"api_key" toml:"api_key"`
}

// IsEnabled returns true if inbound auth is enforced.
func (a *AuthConfig) IsEnabled() bool {
	return a.APIKey != ""
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, console, pretty
	Output string `yaml:"output" toml:"output"` // stdout, stderr, or file path
	Pretty bool   `yaml:"pretty" toml:"pretty"`
}

// ParseLevel converts the configured log level to zerolog.Level.
// Returns zerolog.InfoLevel for unknown values.
func (l *LoggingConfig) ParseLevel() zerolog.Level {
	switch strings.ToLower(l.Level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
