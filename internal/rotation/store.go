// Package rotation persists round-robin rotation state per (client key,
// gateway model) pair, durably across restarts.
//
// The stored value is the index of the target the NEXT request should start
// from, kept modulo the rule's current target count. An absent key reads as
// index 0. Advancement is a single atomic read-modify-write per key, so
// concurrent requests from one client never corrupt or skip the counter.
// State is local to one running instance; sharing requires an externally
// shared backing store.
package rotation

import (
	"context"
	"errors"
)

// Store errors.
var (
	// ErrInvalidTargetCount is returned when targetCount is not positive.
	ErrInvalidTargetCount = errors.New("rotation: target count must be positive")

	// ErrStoreClosed is returned when an operation is attempted on a closed store.
	ErrStoreClosed = errors.New("rotation: store closed")
)

// Store tracks the rotation index per (client key, gateway model).
// Implementations must be safe for concurrent use.
type Store interface {
	// Index returns the current index for the key, clamped into [0, targetCount).
	// A stored index at or past targetCount (the rule shrank since it was
	// written) reads as 0. Missing keys read as 0. Index never mutates state.
	Index(ctx context.Context, clientKey, gatewayModel string, targetCount int) (int, error)

	// Advance atomically reads the current index (clamped as in Index), stores
	// (current+1) mod targetCount, and returns the index that was current.
	// Called only after a successfully routed request, or on exhaustion when
	// the advance-on-exhaustion policy is enabled.
	Advance(ctx context.Context, clientKey, gatewayModel string, targetCount int) (int, error)

	// Close releases store resources.
	Close() error
}

func clampIndex(idx, targetCount int) int {
	if idx < 0 || idx >= targetCount {
		return 0
	}
	return idx
}
