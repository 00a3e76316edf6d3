package rotation

import (
	"fmt"

	"github.com/llmgate/llmgate/internal/config"
)

// New builds a Store from configuration.
// Unknown backends are a configuration error.
func New(cfg config.RotationConfig) (Store, error) {
	switch cfg.GetEffectiveBackend() {
	case config.RotationBackendSQLite:
		return NewSQLiteStore(cfg.GetEffectivePath())
	case config.RotationBackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("rotation: unknown backend %q", cfg.Backend)
	}
}
