package runstate

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// Backend persists a whole [State].
//
// Read on a store that has never been written may return an error or an empty
// state; [Store] treats both the same.
type Backend interface {
	Read(ctx context.Context) (*State, error)
	Write(ctx context.Context, state *State) error
}

// Store is the run-state store used by the engine.
//
// Every mutation is a read-modify-write against the backend, so several
// processes sharing one backend race with last-writer-wins semantics. Within a
// process the mutex serialises mutations.
type Store struct {
	backend Backend
	logger  arbor.ILogger
	mu      sync.Mutex
}

// NewStore creates a Store over backend. logger may be nil.
func NewStore(backend Backend, logger arbor.ILogger) *Store {
	return &Store{backend: backend, logger: logger}
}

// Load reads the state, degrading to three empty sets when the backend fails.
func (s *Store) Load(ctx context.Context) *State {
	state, err := s.backend.Read(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn().Err(err).Msg("Run state unreadable, starting from empty state")
		}
		return NewState()
	}
	if state == nil {
		return NewState()
	}
	return state.normalize()
}

// Save writes the whole state.
func (s *Store) Save(ctx context.Context, state *State) error {
	return s.backend.Write(ctx, state.normalize())
}

// Start opens a running record for name at step 0, replacing any prior record
// for that name in any set.
func (s *Store) Start(ctx context.Context, name string, at time.Time) error {
	return s.mutate(ctx, func(st *State) {
		delete(st.Completed, name)
		delete(st.Failed, name)
		st.Running[name] = Running{StartedAt: at, CurrentStep: 0}
	})
}

// Advance records the step index a running chain has reached. It is a no-op
// when name is not running.
func (s *Store) Advance(ctx context.Context, name string, step int) error {
	return s.mutate(ctx, func(st *State) {
		if r, ok := st.Running[name]; ok {
			r.CurrentStep = step
			st.Running[name] = r
		}
	})
}

// Complete moves name from running to completed.
func (s *Store) Complete(ctx context.Context, name string, rec Completed) error {
	return s.mutate(ctx, func(st *State) {
		delete(st.Running, name)
		delete(st.Failed, name)
		st.Completed[name] = rec
	})
}

// Fail moves name from running to failed.
func (s *Store) Fail(ctx context.Context, name string, rec Failed) error {
	return s.mutate(ctx, func(st *State) {
		delete(st.Running, name)
		delete(st.Completed, name)
		st.Failed[name] = rec
	})
}

// Status returns the counts and the raw sets.
func (s *Store) Status(ctx context.Context) Status {
	st := s.Load(ctx)
	return Status{
		RunningCount:   len(st.Running),
		CompletedCount: len(st.Completed),
		FailedCount:    len(st.Failed),
		State:          st,
	}
}

// References reports whether name appears in any set.
func (s *Store) References(ctx context.Context, name string) bool {
	st := s.Load(ctx)
	_, running := st.Running[name]
	_, completed := st.Completed[name]
	_, failed := st.Failed[name]
	return running || completed || failed
}

func (s *Store) mutate(ctx context.Context, fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.Load(ctx)
	fn(st)
	return s.Save(ctx, st)
}
