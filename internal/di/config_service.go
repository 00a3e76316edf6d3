package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/llmgate/llmgate/internal/config"
)

// ConfigService wraps the loaded configuration with hot-reload support.
// Reads go through an atomic pointer, so in-flight requests keep the rules
// they started with while new requests pick up the reloaded set.
type ConfigService struct {
	Runtime *config.Runtime
	watcher *config.Watcher
	path    string
}

// Get returns the current configuration via atomic load (lock-free read).
func (c *ConfigService) Get() *config.Config {
	return c.Runtime.Get()
}

// StartWatching begins watching the config file for changes and swaps the
// runtime pointer on successful reloads. Call after the container is fully
// initialized. The context controls the watcher lifecycle.
func (c *ConfigService) StartWatching(ctx context.Context) {
	if c.watcher == nil {
		return
	}

	c.watcher.OnReload(func(newCfg *config.Config) error {
		c.Runtime.Store(newCfg)
		log.Info().Str("path", c.path).Msg("config hot-reloaded successfully")
		return nil
	})

	go func() {
		if err := c.watcher.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("config watcher error")
		}
	}()

	log.Info().Str("path", c.path).Msg("config file watcher started")
}

// Shutdown implements do.Shutdowner for graceful watcher cleanup.
func (c *ConfigService) Shutdown() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

// NewConfig loads the configuration from the config path and creates a
// watcher. The watcher is created but not started; call StartWatching after
// container init.
func NewConfig(i do.Injector) (*ConfigService, error) {
	path := do.MustInvokeNamed[string](i, ConfigPathKey)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	svc := &ConfigService{
		Runtime: config.NewRuntime(cfg),
		path:    path,
	}

	// Hot-reload is optional; a failed watcher only disables it.
	watcher, err := config.NewWatcher(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config watcher creation failed, hot-reload disabled")
	} else {
		svc.watcher = watcher
	}

	return svc, nil
}
