package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of the Store interface.
// It keeps a single state document guarded by a mutex. Suitable for
// development, testing, or throwaway single-instance deployments.
type MemoryStore struct {
	mu    sync.Mutex
	state *State
}

// NewMemoryStore creates a new in-memory store with an empty state.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: NewState()}
}

// Load returns a deep copy of the current state.
func (m *MemoryStore) Load(ctx context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone(), nil
}

// Save replaces the stored state with a deep copy of the given one.
func (m *MemoryStore) Save(ctx context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state.Clone()
	return nil
}

// Close is a no-op for MemoryStore as there are no resources to release.
func (m *MemoryStore) Close() error {
	return nil
}
