package config

import (
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Validate checks the configuration for errors that cannot be tolerated at
// request time. It returns the first hard error found. Soft problems (retry
// settings on rotation rules, duplicate rule names) are logged as warnings:
// duplicates resolve first-match-wins and rotation ignores retry budgets.
func Validate(cfg *Config) error {
	if len(cfg.Providers) == 0 {
		return ErrNoProviders
	}

	if len(cfg.Rules) == 0 && cfg.Routing.DefaultProvider == "" {
		return ErrNoRules
	}

	if dp := cfg.Routing.DefaultProvider; dp != "" {
		if _, ok := cfg.Providers[dp]; !ok {
			return UnknownProviderError{Model: "(default)", Provider: dp}
		}
	}

	for _, status := range cfg.Routing.RetryStatuses {
		if status < 100 || status > 599 {
			return RuleError{Model: "(routing)", Reason: "retry_statuses entries must be valid HTTP status codes"}
		}
	}

	seen := make(map[string]bool, len(cfg.Rules))
	for i := range cfg.Rules {
		rule := &cfg.Rules[i]
		if err := validateRule(cfg, rule); err != nil {
			return err
		}
		if seen[rule.Model] {
			log.Warn().Str("model", rule.Model).Msg("duplicate rule; first declaration wins")
		}
		seen[rule.Model] = true
	}

	return nil
}

func validateRule(cfg *Config, rule *FallbackRule) error {
	if rule.Model == "" {
		return RuleError{Model: rule.Model, Reason: "model name is required"}
	}
	if len(rule.Targets) == 0 {
		return RuleError{Model: rule.Model, Reason: "targets must be non-empty"}
	}

	for _, t := range rule.Targets {
		if t.Provider == "" || t.Model == "" {
			return RuleError{Model: rule.Model, Reason: "every target needs provider and model"}
		}
		if _, ok := cfg.Providers[t.Provider]; !ok {
			return UnknownProviderError{Model: rule.Model, Provider: t.Provider}
		}
		if t.RetryCount < 0 || t.RetryDelay < 0 {
			return RuleError{Model: rule.Model, Reason: "retry_count and retry_delay must be non-negative"}
		}
		if t.SubproviderFallback && len(t.Subproviders) == 0 {
			return RuleError{Model: rule.Model, Reason: "subprovider_fallback requires a subproviders list"}
		}
	}

	// Retry budgets never apply once a rule rotates; failures advance
	// immediately. Worth a warning so the config author isn't surprised.
	if rule.Rotate {
		hasRetry := lo.SomeBy(rule.Targets, func(t ModelTarget) bool {
			return t.RetryCount > 0 || t.RetryDelay > 0
		})
		if hasRetry {
			log.Warn().Str("model", rule.Model).Msg("retry settings are ignored on rotation rules")
		}
	}

	return nil
}
