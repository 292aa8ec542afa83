// Package runstate persists which chains are running, completed or failed.
//
// The run-state record is advisory: it feeds dashboards and trigger logic, not a
// correctness-critical ledger. A missing or corrupt record therefore loads as
// three empty sets instead of failing.
//
// Key types:
//   - [State] is the record: three disjoint maps keyed by chain name
//   - [Store] enforces the at-most-one-set invariant over a [Backend]
//   - [FileBackend], [SQLiteBackend] and [MemoryBackend] persist a [State]
package runstate

import "time"

// Running is the record of a chain that has started and not yet finished.
type Running struct {
	StartedAt   time.Time `yaml:"started_at" json:"started_at"`
	CurrentStep int       `yaml:"current_step" json:"current_step"`
}

// Completed is the record of a chain that finished without a step failure.
type Completed struct {
	CompletedAt time.Time `yaml:"completed_at" json:"completed_at"`
	// Duration is the run length in seconds.
	Duration float64      `yaml:"duration" json:"duration"`
	Results  []StepResult `yaml:"results" json:"results"`
}

// Failed is the record of a chain whose run ended on a step failure.
type Failed struct {
	FailedAt time.Time `yaml:"failed_at" json:"failed_at"`
	Error    string    `yaml:"error" json:"error"`
}

// StepKind identifies which step shape produced a [StepResult].
type StepKind string

const (
	KindCommand  StepKind = "command"
	KindAgent    StepKind = "agent"
	KindGroup    StepKind = "group"
	KindParallel StepKind = "parallel"
)

// StepResult is the outcome of one step slot.
//
// Groups and parallel phases carry their members in Children.
type StepResult struct {
	Step      int          `yaml:"step" json:"step"`
	Kind      StepKind     `yaml:"kind" json:"kind"`
	Command   string       `yaml:"command,omitempty" json:"command,omitempty"`
	Agent     string       `yaml:"agent,omitempty" json:"agent,omitempty"`
	Success   bool         `yaml:"success" json:"success"`
	Skipped   bool         `yaml:"skipped,omitempty" json:"skipped,omitempty"`
	Error     string       `yaml:"error,omitempty" json:"error,omitempty"`
	Output    string       `yaml:"output,omitempty" json:"output,omitempty"`
	Timestamp time.Time    `yaml:"timestamp" json:"timestamp"`
	Children  []StepResult `yaml:"children,omitempty" json:"children,omitempty"`
}

// State is the run-state record.
type State struct {
	Running   map[string]Running   `yaml:"running" json:"running"`
	Completed map[string]Completed `yaml:"completed" json:"completed"`
	Failed    map[string]Failed    `yaml:"failed" json:"failed"`
}

// NewState returns a State with three empty maps.
func NewState() *State {
	return &State{
		Running:   map[string]Running{},
		Completed: map[string]Completed{},
		Failed:    map[string]Failed{},
	}
}

// normalize replaces nil maps so callers can write without checks.
func (s *State) normalize() *State {
	if s.Running == nil {
		s.Running = map[string]Running{}
	}
	if s.Completed == nil {
		s.Completed = map[string]Completed{}
	}
	if s.Failed == nil {
		s.Failed = map[string]Failed{}
	}
	return s
}

// clone returns a deep-enough copy for handing out to callers.
func (s *State) clone() *State {
	out := NewState()
	for k, v := range s.Running {
		out.Running[k] = v
	}
	for k, v := range s.Completed {
		out.Completed[k] = v
	}
	for k, v := range s.Failed {
		out.Failed[k] = v
	}
	return out
}

// Status summarises a [State].
type Status struct {
	RunningCount   int    `json:"running_count"`
	CompletedCount int    `json:"completed_count"`
	FailedCount    int    `json:"failed_count"`
	State          *State `json:"state"`
}
