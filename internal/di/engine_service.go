package di

import (
	"github.com/samber/do/v2"

	"github.com/llmgate/llmgate/internal/router"
	"github.com/llmgate/llmgate/internal/upstream"
)

// ClientService wraps the upstream HTTP client for DI.
type ClientService struct {
	Client *upstream.Client
}

// NewUpstreamClient creates the upstream client bound to the live config.
func NewUpstreamClient(i do.Injector) (*ClientService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	return &ClientService{Client: upstream.NewClient(cfgSvc.Runtime, loggerSvc.Logger)}, nil
}

// EngineService wraps the routing engine for DI.
type EngineService struct {
	Engine *router.Engine
}

// NewEngine creates the routing engine.
func NewEngine(i do.Injector) (*EngineService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	clientSvc := do.MustInvoke[*ClientService](i)
	rotationSvc := do.MustInvoke[*RotationService](i)
	trackerSvc := do.MustInvoke[*HealthTrackerService](i)

	engine := router.NewEngine(
		cfgSvc.Runtime,
		clientSvc.Client,
		rotationSvc.Store,
		trackerSvc.Tracker,
		loggerSvc.Logger,
	)
	return &EngineService{Engine: engine}, nil
}
