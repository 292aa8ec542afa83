package executor

import (
	"context"
	"sync"
	"time"
)

// MockCommands implements the engine's command collaborator for tests.
//
// Commands not in Outcomes succeed. Errs forces an error return and Panics
// makes the call panic with the given value.
type MockCommands struct {
	Outcomes map[string]Outcome
	Errs     map[string]error
	Panics   map[string]any
	// Delay is applied before every call returns.
	Delay time.Duration

	mu    sync.Mutex
	calls []string
}

// Execute records command and returns the configured response.
func (m *MockCommands) Execute(ctx context.Context, command string) (Outcome, error) {
	m.mu.Lock()
	m.calls = append(m.calls, command)
	m.mu.Unlock()

	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	if v, ok := m.Panics[command]; ok {
		panic(v)
	}
	if err, ok := m.Errs[command]; ok {
		return Outcome{Command: command, Timestamp: time.Now()}, err
	}
	if o, ok := m.Outcomes[command]; ok {
		o.Command = command
		return o, nil
	}
	return Outcome{Success: true, Command: command, Timestamp: time.Now()}, nil
}

// Calls returns the commands received so far, in arrival order.
func (m *MockCommands) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// AgentCall is one recorded delegation.
type AgentCall struct {
	Agent string
	Task  string
}

// MockAgents implements the engine's delegation collaborator for tests.
type MockAgents struct {
	Outcomes map[string]Outcome
	Errs     map[string]error

	mu    sync.Mutex
	calls []AgentCall
}

// Delegate records the call and returns the response configured for agent.
func (m *MockAgents) Delegate(ctx context.Context, agent, task string) (Outcome, error) {
	m.mu.Lock()
	m.calls = append(m.calls, AgentCall{Agent: agent, Task: task})
	m.mu.Unlock()

	if err, ok := m.Errs[agent]; ok {
		return Outcome{Command: "agent:" + agent}, err
	}
	if o, ok := m.Outcomes[agent]; ok {
		return o, nil
	}
	return Outcome{Success: true, Command: "agent:" + agent, Timestamp: time.Now()}, nil
}

// Calls returns the delegations received so far.
func (m *MockAgents) Calls() []AgentCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AgentCall(nil), m.calls...)
}
