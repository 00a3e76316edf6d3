package di

import "github.com/samber/do/v2"

// RegisterSingletons registers all service providers as singletons.
// Services resolve lazily in dependency order:
// 1. Config (no dependencies)
// 2. Logger (depends on Config)
// 3. RotationStore (depends on Config, Logger)
// 4. HealthTracker (depends on Config, Logger)
// 5. UpstreamClient (depends on Config, Logger)
// 6. Engine (depends on all above)
// 7. Handler (depends on Config, Engine)
// 8. Server (depends on Config, Handler).
func RegisterSingletons(i do.Injector) {
	do.Provide(i, NewConfig)
	do.Provide(i, NewLogger)
	do.Provide(i, NewRotationStore)
	do.Provide(i, NewHealthTracker)
	do.Provide(i, NewUpstreamClient)
	do.Provide(i, NewEngine)
	do.Provide(i, NewProxyHandler)
	do.Provide(i, NewHTTPServer)
}
