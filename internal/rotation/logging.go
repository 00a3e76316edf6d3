package rotation

import (
	"context"

	"github.com/rs/zerolog"
)

// loggingStore decorates a Store with debug logging of every advance.
type loggingStore struct {
	inner  Store
	logger zerolog.Logger
}

// WithLogging wraps store so rotation advances are visible at debug level.
// The wrapped store is tagged with component: rotation.
func WithLogging(store Store, logger *zerolog.Logger) Store {
	return &loggingStore{
		inner:  store,
		logger: logger.With().Str("component", "rotation").Logger(),
	}
}

func (s *loggingStore) Index(ctx context.Context, clientKey, gatewayModel string, targetCount int) (int, error) {
	return s.inner.Index(ctx, clientKey, gatewayModel, targetCount)
}

func (s *loggingStore) Advance(ctx context.Context, clientKey, gatewayModel string, targetCount int) (int, error) {
	used, err := s.inner.Advance(ctx, clientKey, gatewayModel, targetCount)
	if err != nil {
		s.logger.Error().Err(err).
			Str("gateway_model", gatewayModel).
			Msg("rotation advance failed")
		return used, err
	}

	s.logger.Debug().
		Str("gateway_model", gatewayModel).
		Int("index_used", used).
		Int("next_index", (used+1)%targetCount).
		Msg("rotation advanced")
	return used, nil
}

func (s *loggingStore) Close() error {
	return s.inner.Close()
}
