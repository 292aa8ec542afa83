package claude

import (
	"context"
	"sync"
)

// MockExecutor implements [Executor] for tests.
//
// Events are replayed to the handler on every call. Results maps a prompt to a
// specific result; prompts without an entry use ExitCode.
type MockExecutor struct {
	Events   []Event
	ExitCode int
	Results  map[string]Result
	Err      error

	mu      sync.Mutex
	Prompts []string
}

// ExecuteWithResult records prompt and replays the configured events.
func (m *MockExecutor) ExecuteWithResult(ctx context.Context, prompt string, handler EventHandler) (Result, error) {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	m.mu.Unlock()

	if m.Err != nil {
		return Result{ExitCode: -1}, m.Err
	}

	events := make(chan Event, len(m.Events))
	for _, e := range m.Events {
		events <- e
	}
	close(events)
	res := collect(events, handler)

	if r, ok := m.Results[prompt]; ok {
		return r, nil
	}
	res.ExitCode = m.ExitCode
	return res, nil
}

// Calls returns a copy of the prompts received so far.
func (m *MockExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Prompts...)
}
