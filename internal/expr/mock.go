package expr

import (
	"context"
	"sync"
	"time"
)

// MockResponse is the canned result for one command in a [MockRunner].
type MockResponse struct {
	Stdout   string
	ExitCode int
	Err      error
}

// MockRunner implements [Runner] for testing.
//
// Commands not present in Responses exit 0 with empty output. Every call is
// recorded in Calls, in order.
type MockRunner struct {
	Responses map[string]MockResponse

	mu    sync.Mutex
	Calls []string
}

// Run returns the configured response for command.
func (m *MockRunner) Run(ctx context.Context, dir, command string) (string, int, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, command)
	m.mu.Unlock()

	r := m.Responses[command]
	return r.Stdout, r.ExitCode, r.Err
}

// StaticHistory implements [History] with a fixed value.
type StaticHistory struct {
	Last     time.Time
	Recorded bool
}

// LastInvocation returns the fixed value.
func (h StaticHistory) LastInvocation() (time.Time, bool) {
	return h.Last, h.Recorded
}
