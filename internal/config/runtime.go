package config

import "sync/atomic"

// Runtime provides atomic access to the active rule set for hot-reload.
// A reload stores a whole new *Config; readers either see the old rule set or
// the new one, never a mix. In-flight requests keep routing against the config
// they started with, which keeps failure attribution stable mid-request.
type Runtime struct {
	ptr atomic.Pointer[Config]
}

// NewRuntime creates a Runtime seeded with the given configuration.
func NewRuntime(initial *Config) *Runtime {
	r := &Runtime{}
	r.ptr.Store(initial)
	return r
}

// Get returns the current configuration atomically (lock-free read).
// Call once per request and hold the result for the request's lifetime.
func (r *Runtime) Get() *Config {
	return r.ptr.Load()
}

// Store atomically swaps in a new configuration. Called by the config watcher
// after a successful reload.
func (r *Runtime) Store(cfg *Config) {
	r.ptr.Store(cfg)
}

var _ RuntimeConfig = (*Runtime)(nil)
