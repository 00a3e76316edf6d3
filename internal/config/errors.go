package config

import (
	"errors"
	"fmt"
)

// Configuration errors surfaced at load time.
var (
	// ErrNoRules is returned when the config declares an empty rule list and
	// no default provider, leaving nothing to route to.
	ErrNoRules = errors.New("config: no rules and no default provider configured")

	// ErrNoProviders is returned when the provider catalog is empty.
	ErrNoProviders = errors.New("config: no providers configured")
)

// RuleError describes a malformed fallback rule.
type RuleError struct {
	Model  string
	Reason string
}

func (e RuleError) Error() string {
	return fmt.Sprintf("config: rule %q: %s", e.Model, e.Reason)
}

// UnknownProviderError is returned when a rule target references a provider id
// missing from the catalog.
type UnknownProviderError struct {
	Model    string
	Provider string
}

func (e UnknownProviderError) Error() string {
	return fmt.Sprintf("config: rule %q references unknown provider %q", e.Model, e.Provider)
}
