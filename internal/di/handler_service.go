package di

import (
	"net/http"

	"github.com/samber/do/v2"

	"github.com/llmgate/llmgate/internal/proxy"
)

// HandlerService wraps the assembled HTTP handler for DI.
type HandlerService struct {
	Handler http.Handler
}

// NewProxyHandler assembles the route tree with middleware.
func NewProxyHandler(i do.Injector) (*HandlerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	engineSvc := do.MustInvoke[*EngineService](i)

	handler := proxy.SetupRoutes(cfgSvc.Get(), cfgSvc.Runtime, engineSvc.Engine)
	return &HandlerService{Handler: handler}, nil
}
