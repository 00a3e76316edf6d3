package di

import (
	"github.com/samber/do/v2"

	"github.com/llmgate/llmgate/internal/health"
)

// HealthTrackerService wraps the per-provider circuit breaker tracker for DI.
type HealthTrackerService struct {
	Tracker *health.Tracker
}

// NewHealthTracker creates the health tracker from configuration.
func NewHealthTracker(i do.Injector) (*HealthTrackerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	tracker := health.NewTracker(cfgSvc.Get().Health.CircuitBreaker, loggerSvc.Logger)
	return &HealthTrackerService{Tracker: tracker}, nil
}
