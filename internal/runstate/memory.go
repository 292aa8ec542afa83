package runstate

import (
	"context"
	"sync"
)

// MemoryBackend keeps the state in memory. It is intended for tests.
//
// Set ReadErr or WriteErr to simulate a failing store.
type MemoryBackend struct {
	ReadErr  error
	WriteErr error

	mu     sync.Mutex
	state  *State
	Writes int
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{state: NewState()}
}

// Read returns a copy of the held state.
func (m *MemoryBackend) Read(ctx context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	if m.state == nil {
		return NewState(), nil
	}
	return m.state.clone(), nil
}

// Write replaces the held state with a copy of state.
func (m *MemoryBackend) Write(ctx context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.state = state.clone()
	m.Writes++
	return nil
}
