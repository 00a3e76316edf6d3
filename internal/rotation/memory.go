package rotation

import (
	"context"
	"sync"
)

type stateKey struct {
	clientKey    string
	gatewayModel string
}

// MemoryStore keeps rotation state in process memory behind a mutex.
// State does not survive restarts; it backs the "memory" config backend and
// the test suites.
type MemoryStore struct {
	mu     sync.Mutex
	state  map[stateKey]int
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[stateKey]int)}
}

// Index implements Store.
func (s *MemoryStore) Index(_ context.Context, clientKey, gatewayModel string, targetCount int) (int, error) {
	if targetCount <= 0 {
		return 0, ErrInvalidTargetCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	return clampIndex(s.state[stateKey{clientKey, gatewayModel}], targetCount), nil
}

// Advance implements Store.
func (s *MemoryStore) Advance(_ context.Context, clientKey, gatewayModel string, targetCount int) (int, error) {
	if targetCount <= 0 {
		return 0, ErrInvalidTargetCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	key := stateKey{clientKey, gatewayModel}
	used := clampIndex(s.state[key], targetCount)
	s.state[key] = (used + 1) % targetCount
	return used, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
