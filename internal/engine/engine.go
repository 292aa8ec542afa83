// Package engine runs chains: it gates them on prerequisites, dispatches their
// steps to the command and agent collaborators, and records each run in the
// run-state store.
//
// Every collaborator is injected through a small interface so tests can swap
// in in-memory stores and mock executors. A chain run never panics and never
// returns a Go error to its caller: [Engine.ExecuteChain] always yields a
// [Result].
//
// Key types:
//   - [Engine] is the orchestrator
//   - [Result] is the terminal outcome of one run
//   - [Trigger] is a chain offered for auto-run by [Engine.CheckTriggers]
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"chainctl/internal/chain"
	"chainctl/internal/chainctx"
	"chainctl/internal/checkpoint"
	"chainctl/internal/executor"
	"chainctl/internal/expr"
	"chainctl/internal/registry"
	"chainctl/internal/runstate"
)

var (
	// ErrChainNotFound is returned when no chain is registered under a name.
	ErrChainNotFound = errors.New("chain not found")

	// ErrChainInUse is returned when removing a chain that run-state history references.
	ErrChainInUse = errors.New("chain is referenced by run state")
)

// Registry is the chain lookup the engine needs. registry.Registry implements it.
type Registry interface {
	Get(name string) (*chain.Chain, error)
	All() []*chain.Chain
	Remove(name string) error
}

// StateStore records run progress. runstate.Store implements it.
type StateStore interface {
	Start(ctx context.Context, name string, at time.Time) error
	Advance(ctx context.Context, name string, step int) error
	Complete(ctx context.Context, name string, rec runstate.Completed) error
	Fail(ctx context.Context, name string, rec runstate.Failed) error
	Status(ctx context.Context) runstate.Status
	References(ctx context.Context, name string) bool
}

// ConditionEvaluator evaluates trigger, prerequisite and step conditions.
// expr.Evaluator implements it.
type ConditionEvaluator interface {
	EvaluateCondition(ctx context.Context, c *expr.Condition) bool
	Eval(ctx context.Context, x expr.Expr) bool
}

// CommandExecutor runs a substituted command string.
type CommandExecutor interface {
	Execute(ctx context.Context, command string) (executor.Outcome, error)
}

// AgentDelegator hands a task to a named agent.
type AgentDelegator interface {
	Delegate(ctx context.Context, agent, task string) (executor.Outcome, error)
}

// ContextStore persists the saved subset of a run's context. chainctx.Manager
// implements it.
type ContextStore interface {
	Persist(ctx chainctx.Context, keys []string) error
	Saved() chainctx.Context
}

// CheckpointStore writes checkpoint snapshots. checkpoint.Store implements it.
type CheckpointStore interface {
	Create(cp checkpoint.Checkpoint) (checkpoint.Checkpoint, error)
}

// ProgressCallback is invoked before each top-level step with the 1-based
// step index, the step count and the step label.
type ProgressCallback func(stepIndex, totalSteps int, label string)

// PrereqResult is the outcome of a prerequisite check.
type PrereqResult struct {
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// Trigger is a chain whose trigger condition currently holds.
type Trigger struct {
	Name   string       `json:"name"`
	Chain  *chain.Chain `json:"chain"`
	Prompt string       `json:"prompt"`
}

// Options tune a single run.
type Options struct {
	// Context overrides the chain's context defaults.
	Context map[string]any
}

// Result is the terminal outcome of [Engine.ExecuteChain].
//
// On success Results holds one entry per step slot. On failure Error carries
// the message recorded in run state; Gated is set when prerequisites stopped
// the run before it started.
type Result struct {
	Chain    string                `json:"chain"`
	Success  bool                  `json:"success"`
	Results  []runstate.StepResult `json:"results,omitempty"`
	Error    string                `json:"error,omitempty"`
	Gated    bool                  `json:"gated,omitempty"`
	Duration time.Duration         `json:"duration"`

	// Err is the underlying error for errors.Is checks.
	Err error `json:"-"`
}

// Engine orchestrates chain runs.
type Engine struct {
	registry    Registry
	state       StateStore
	evaluator   ConditionEvaluator
	commands    CommandExecutor
	agents      AgentDelegator
	contexts    ContextStore
	checkpoints CheckpointStore
	progress    ProgressCallback
	logger      arbor.ILogger
	now         func() time.Time
}

// New creates an Engine. agents may be nil, in which case agent steps fail.
// Context persistence, checkpoints and logging are optional; see the setters.
func New(reg Registry, state StateStore, evaluator ConditionEvaluator, commands CommandExecutor, agents AgentDelegator) *Engine {
	return &Engine{
		registry:  reg,
		state:     state,
		evaluator: evaluator,
		commands:  commands,
		agents:    agents,
		logger:    arbor.NewLogger(),
		now:       time.Now,
	}
}

// SetContextStore enables context persistence and inheritance.
func (e *Engine) SetContextStore(s ContextStore) {
	e.contexts = s
}

// SetCheckpointStore enables checkpoint snapshots.
func (e *Engine) SetCheckpointStore(s CheckpointStore) {
	e.checkpoints = s
}

// SetProgressCallback installs a per-step progress callback.
func (e *Engine) SetProgressCallback(cb ProgressCallback) {
	e.progress = cb
}

// SetLogger replaces the logger.
func (e *Engine) SetLogger(logger arbor.ILogger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) lookup(name string) (*chain.Chain, error) {
	c, err := e.registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrChainNotFound, name)
	}
	return c, nil
}

// ShouldTrigger reports whether name's trigger condition holds. Chains without
// triggers.conditions never trigger.
func (e *Engine) ShouldTrigger(ctx context.Context, name string) bool {
	c, err := e.lookup(name)
	if err != nil {
		return false
	}
	return e.shouldTrigger(ctx, c)
}

func (e *Engine) shouldTrigger(ctx context.Context, c *chain.Chain) bool {
	cond := c.TriggerCondition()
	if cond == nil {
		return false
	}
	return e.evaluator.EvaluateCondition(ctx, cond)
}

// CheckPrerequisites evaluates name's prerequisites without touching run state.
func (e *Engine) CheckPrerequisites(ctx context.Context, name string) PrereqResult {
	c, err := e.lookup(name)
	if err != nil {
		return PrereqResult{Error: err.Error()}
	}
	return e.checkPrerequisites(ctx, c)
}

func (e *Engine) checkPrerequisites(ctx context.Context, c *chain.Chain) PrereqResult {
	if e.evaluator.EvaluateCondition(ctx, c.PrerequisiteCondition()) {
		return PrereqResult{Passed: true}
	}
	msg := fmt.Sprintf("Prerequisites not met for chain %s", c.Name)
	if c.Prerequisites != nil && c.Prerequisites.Error != "" {
		msg = c.Prerequisites.Error
	}
	return PrereqResult{Error: msg}
}

// CheckTriggers returns every chain whose trigger currently holds, ordered by
// name. Nothing is executed.
func (e *Engine) CheckTriggers(ctx context.Context) []Trigger {
	var out []Trigger
	for _, c := range e.registry.All() {
		if !e.shouldTrigger(ctx, c) {
			continue
		}
		prompt := fmt.Sprintf("Run %s?", c.Name)
		if c.Triggers.Prompt != "" {
			prompt = c.Triggers.Prompt
		}
		out = append(out, Trigger{Name: c.Name, Chain: c, Prompt: prompt})
	}
	return out
}

// Status returns run-state counts and records.
func (e *Engine) Status(ctx context.Context) runstate.Status {
	return e.state.Status(ctx)
}

// RemoveChain unregisters name unless run state references it.
func (e *Engine) RemoveChain(ctx context.Context, name string) error {
	if e.state.References(ctx, name) {
		return fmt.Errorf("%w: %s", ErrChainInUse, name)
	}
	if err := e.registry.Remove(name); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrChainNotFound, name)
		}
		return err
	}
	return nil
}
