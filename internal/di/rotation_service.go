package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/llmgate/llmgate/internal/rotation"
)

// RotationService wraps the rotation state store for DI.
type RotationService struct {
	Store rotation.Store
}

// NewRotationStore creates the rotation store from configuration. The store
// backend is fixed at startup; changing it requires a restart.
func NewRotationStore(i do.Injector) (*RotationService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	store, err := rotation.New(cfgSvc.Get().Rotation)
	if err != nil {
		return nil, fmt.Errorf("failed to create rotation store: %w", err)
	}

	return &RotationService{Store: rotation.WithLogging(store, loggerSvc.Logger)}, nil
}

// Shutdown implements do.Shutdowner and closes the backing store.
func (r *RotationService) Shutdown() error {
	if r.Store != nil {
		return r.Store.Close()
	}
	return nil
}
