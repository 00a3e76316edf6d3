// Package router turns fallback rules into attempt plans and drives them to
// completion against upstream providers.
package router

import (
	"time"

	"github.com/llmgate/llmgate/internal/config"
)

// Strategy identifies how a plan's attempts were ordered.
type Strategy string

const (
	// StrategySequential walks targets in rule order, honoring per-target
	// retry budgets.
	StrategySequential Strategy = "sequential"
	// StrategyRotation starts at the stored index and wraps once around the
	// target list; retry budgets are ignored.
	StrategyRotation Strategy = "rotation"
	// StrategyPassthrough is the synthetic single attempt used when no rule
	// matches the requested model.
	StrategyPassthrough Strategy = "passthrough"
)

// Attempt is one fully resolved upstream try. Retries and RetryDelay only
// carry meaning under StrategySequential.
type Attempt struct {
	Provider string
	Model    string

	// Retries is the number of additional tries of this same attempt after
	// the first failure.
	Retries int
	// RetryDelay is the pause between those tries; zero means none.
	RetryDelay time.Duration

	// Subprovider pins the call to one downstream vendor. Set when a target's
	// sub-provider list is expanded into per-vendor attempts.
	Subprovider string
	// SubproviderOrder forwards the vendor list as a preference hint instead
	// of expanding it. Mutually exclusive with Subprovider.
	SubproviderOrder []string

	Headers map[string]string
	Body    map[string]any

	// TargetIndex is the position of the originating target in the rule, used
	// for rotation accounting and logs. Sub-provider expansion preserves it.
	TargetIndex int
}

// Plan is the ordered set of attempts for one request. It is immutable once
// built; execution state lives in the engine.
type Plan struct {
	GatewayModel string
	Strategy     Strategy
	Attempts     []Attempt

	// TargetCount is the rule's target list length, the modulus for rotation
	// state. Zero for passthrough plans.
	TargetCount int
	// StartIndex is the stored rotation index the plan began at. Only
	// meaningful under StrategyRotation.
	StartIndex int
}

// BuildPlan resolves a rule into an attempt plan. rule may be nil, in which
// case a single passthrough attempt against the default provider is planned
// with the requested model name untouched. storedIndex is the persisted
// rotation cursor and is only consulted for rotation rules; out-of-range
// values are treated as zero.
func BuildPlan(rule *config.FallbackRule, requestedModel, defaultProvider string, storedIndex int) Plan {
	if rule == nil {
		return Plan{
			GatewayModel: requestedModel,
			Strategy:     StrategyPassthrough,
			Attempts: []Attempt{{
				Provider: defaultProvider,
				Model:    requestedModel,
			}},
		}
	}

	if rule.Rotate {
		return buildRotationPlan(rule, storedIndex)
	}
	return buildSequentialPlan(rule)
}

func buildSequentialPlan(rule *config.FallbackRule) Plan {
	attempts := make([]Attempt, 0, len(rule.Targets))
	for i, target := range rule.Targets {
		attempts = append(attempts, expandTarget(target, i)...)
	}
	return Plan{
		GatewayModel: rule.Model,
		Strategy:     StrategySequential,
		Attempts:     attempts,
		TargetCount:  len(rule.Targets),
	}
}

// buildRotationPlan orders targets round-robin from the stored index, one try
// each. Retry settings on rotation targets are ignored; the next peer is
// always preferred over re-trying the current one.
func buildRotationPlan(rule *config.FallbackRule, storedIndex int) Plan {
	n := len(rule.Targets)
	start := storedIndex
	if start < 0 || start >= n {
		start = 0
	}

	attempts := make([]Attempt, 0, n)
	for offset := 0; offset < n; offset++ {
		i := (start + offset) % n
		for _, a := range expandTarget(rule.Targets[i], i) {
			a.Retries = 0
			a.RetryDelay = 0
			attempts = append(attempts, a)
		}
	}
	return Plan{
		GatewayModel: rule.Model,
		Strategy:     StrategyRotation,
		Attempts:     attempts,
		TargetCount:  n,
		StartIndex:   start,
	}
}

// expandTarget turns one configured target into its attempts. A target with
// subprovider_fallback becomes one attempt per vendor in list order, tried
// once each; falling through to the next vendor replaces same-attempt
// retries. Without it, the vendor list (if any) is forwarded as a hint on a
// single attempt.
func expandTarget(target config.ModelTarget, index int) []Attempt {
	base := Attempt{
		Provider:    target.Provider,
		Model:       target.Model,
		Retries:     target.RetryCount,
		Headers:     target.Headers,
		Body:        target.Body,
		TargetIndex: index,
	}
	if delay, ok := target.RetryDelayDuration().Get(); ok {
		base.RetryDelay = delay
	}

	if target.SubproviderFallback && len(target.Subproviders) > 0 {
		attempts := make([]Attempt, 0, len(target.Subproviders))
		for _, sub := range target.Subproviders {
			a := base
			a.Subprovider = sub
			a.Retries = 0
			a.RetryDelay = 0
			attempts = append(attempts, a)
		}
		return attempts
	}

	if len(target.Subproviders) > 0 {
		base.SubproviderOrder = target.Subproviders
	}
	return []Attempt{base}
}
