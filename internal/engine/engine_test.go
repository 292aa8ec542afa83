package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainctl/internal/chain"
	"chainctl/internal/chainctx"
	"chainctl/internal/checkpoint"
	"chainctl/internal/executor"
	"chainctl/internal/expr"
	"chainctl/internal/logging"
	"chainctl/internal/registry"
	"chainctl/internal/runstate"
)

type fixture struct {
	dir         string
	backend     *runstate.MemoryBackend
	store       *runstate.Store
	registry    *registry.Registry
	commands    *executor.MockCommands
	agents      *executor.MockAgents
	contexts    *chainctx.Manager
	checkpoints *checkpoint.Store
	engine      *Engine
}

func newFixture(t *testing.T, chainsYAML string) *fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(chainsYAML), 0644))

	f := &fixture{
		dir:         dir,
		backend:     runstate.NewMemoryBackend(),
		registry:    registry.New(path, nil),
		commands:    &executor.MockCommands{},
		agents:      &executor.MockAgents{},
		contexts:    chainctx.NewManager(filepath.Join(dir, "chain-context.yaml")),
		checkpoints: checkpoint.NewStore(filepath.Join(dir, "checkpoints")),
	}
	f.registry.Load()
	f.store = runstate.NewStore(f.backend, nil)

	evaluator := expr.NewEvaluator(dir, &expr.MockRunner{}, nil)
	f.engine = New(f.registry, f.store, evaluator, f.commands, f.agents)
	f.engine.SetContextStore(f.contexts)
	f.engine.SetCheckpointStore(f.checkpoints)
	f.engine.SetLogger(logging.NewForTest())
	return f
}

func (f *fixture) touch(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, name), nil, 0644))
}

func TestCheckPrerequisites(t *testing.T) {
	f := newFixture(t, `
open:
  steps: [a]
locked:
  steps: [a]
  prerequisites:
    conditions:
      all: ["!exists(lock.txt)"]
    error: Release lock held
generic:
  steps: [a]
  prerequisites:
    conditions:
      all: ["exists(missing)"]
`)
	ctx := context.Background()

	assert.Equal(t, PrereqResult{Passed: true}, f.engine.CheckPrerequisites(ctx, "open"))
	assert.True(t, f.engine.CheckPrerequisites(ctx, "locked").Passed)

	f.touch(t, "lock.txt")
	assert.Equal(t, PrereqResult{Error: "Release lock held"}, f.engine.CheckPrerequisites(ctx, "locked"))
	assert.Equal(t, "Prerequisites not met for chain generic", f.engine.CheckPrerequisites(ctx, "generic").Error)

	missing := f.engine.CheckPrerequisites(ctx, "ghost")
	assert.False(t, missing.Passed)
	assert.Contains(t, missing.Error, "chain not found")
}

func TestExecuteChain_GatedLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, `
A:
  steps: [a, b]
  prerequisites:
    conditions:
      all: ["!exists(lock.txt)"]
`)
	f.touch(t, "lock.txt")

	res := f.engine.ExecuteChain(context.Background(), "A", Options{})

	assert.False(t, res.Success)
	assert.True(t, res.Gated)
	assert.Empty(t, res.Results)
	assert.Empty(t, f.commands.Calls())
	assert.Equal(t, 0, f.backend.Writes)

	status := f.engine.Status(context.Background())
	assert.Equal(t, 0, status.RunningCount+status.CompletedCount+status.FailedCount)
}

func TestExecuteChain_ThreeSteps(t *testing.T) {
	f := newFixture(t, `
B:
  steps: ["/one", "two", "three"]
`)
	ctx := context.Background()

	res := f.engine.ExecuteChain(ctx, "B", Options{})

	require.True(t, res.Success, res.Error)
	require.Len(t, res.Results, 3)
	for i, want := range []string{"/one", "two", "three"} {
		assert.Equal(t, i, res.Results[i].Step)
		assert.Equal(t, want, res.Results[i].Command)
		assert.Equal(t, runstate.KindCommand, res.Results[i].Kind)
		assert.True(t, res.Results[i].Success)
	}
	assert.Equal(t, []string{"/one", "two", "three"}, f.commands.Calls())

	st := f.store.Load(ctx)
	assert.Contains(t, st.Completed, "B")
	assert.NotContains(t, st.Running, "B")
	assert.NotContains(t, st.Failed, "B")
	assert.Len(t, st.Completed["B"].Results, 3)
}

func TestExecuteChain_StepErrorFails(t *testing.T) {
	f := newFixture(t, `
C:
  steps: [first, second, third]
  on-success: echo ok
  on-failure: echo failed
`)
	f.commands.Errs = map[string]error{"second": errors.New("dispatch exploded")}
	ctx := context.Background()

	res := f.engine.ExecuteChain(ctx, "C", Options{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "dispatch exploded")
	require.Len(t, res.Results, 2)
	assert.False(t, res.Results[1].Success)

	st := f.store.Load(ctx)
	require.Contains(t, st.Failed, "C")
	assert.Equal(t, res.Error, st.Failed["C"].Error)
	assert.NotContains(t, st.Running, "C")
	assert.NotContains(t, st.Completed, "C")

	assert.Equal(t, []string{"first", "second", "echo failed"}, f.commands.Calls())
}

func TestExecuteChain_PanicIsRecovered(t *testing.T) {
	f := newFixture(t, `
C:
  steps: [first, boom, third]
`)
	f.commands.Panics = map[string]any{"boom": "nil pointer somewhere"}
	ctx := context.Background()

	var res Result
	require.NotPanics(t, func() {
		res = f.engine.ExecuteChain(ctx, "C", Options{})
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "nil pointer somewhere")
	require.Len(t, res.Results, 1, "results gathered before the panic are kept")

	st := f.store.Load(ctx)
	assert.Contains(t, st.Failed, "C")
	assert.NotContains(t, st.Running, "C")
}

func TestExecuteChain_NotFound(t *testing.T) {
	f := newFixture(t, "")
	res := f.engine.ExecuteChain(context.Background(), "ghost", Options{})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrChainNotFound)
}

func TestExecuteChain_Substitution(t *testing.T) {
	f := newFixture(t, `
greet:
  steps:
    - echo ${name}
    - echo ${missing}
    - agent: writer
      task: Describe ${name} in ${env}
  context:
    values:
      env: staging
      name: default
`)

	res := f.engine.ExecuteChain(context.Background(), "greet", Options{Context: map[string]any{"name": "demo"}})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"echo demo", "echo ${missing}"}, f.commands.Calls())
	assert.Equal(t, []executor.AgentCall{{Agent: "writer", Task: "Describe demo in staging"}}, f.agents.Calls())
	assert.Equal(t, runstate.KindAgent, res.Results[2].Kind)
	assert.Equal(t, "writer", res.Results[2].Agent)
}

func TestExecuteChain_ConditionSkips(t *testing.T) {
	f := newFixture(t, `
build:
  steps:
    - command: make
      condition: exists(Makefile)
    - command: npm run build
      condition: exists(package.json)
`)
	f.touch(t, "Makefile")

	res := f.engine.ExecuteChain(context.Background(), "build", Options{})

	require.True(t, res.Success)
	require.Len(t, res.Results, 2)
	assert.False(t, res.Results[0].Skipped)
	assert.True(t, res.Results[1].Skipped)
	assert.Equal(t, []string{"make"}, f.commands.Calls())
}

func TestExecuteChain_Group(t *testing.T) {
	f := newFixture(t, `
lint:
  steps:
    - ["/fmt", "/vet", "/staticcheck"]
    - after
`)

	res := f.engine.ExecuteChain(context.Background(), "lint", Options{})

	require.True(t, res.Success)
	require.Len(t, res.Results, 2)
	group := res.Results[0]
	assert.Equal(t, runstate.KindGroup, group.Kind)
	require.Len(t, group.Children, 3)
	assert.Equal(t, "/vet", group.Children[1].Command)
	assert.Equal(t, []string{"/fmt", "/vet", "/staticcheck", "after"}, f.commands.Calls())
}

func TestExecuteChain_GroupMemberError(t *testing.T) {
	f := newFixture(t, `
lint:
  steps:
    - ["/fmt", "/vet", "/staticcheck"]
`)
	f.commands.Errs = map[string]error{"/vet": errors.New("vet crashed")}

	res := f.engine.ExecuteChain(context.Background(), "lint", Options{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "vet crashed")
	assert.Equal(t, []string{"/fmt", "/vet"}, f.commands.Calls())
}

func TestExecuteChain_ParallelRunsAllSiblings(t *testing.T) {
	f := newFixture(t, `
checks:
  steps:
    - parallel: [unit, lint, e2e]
    - never
`)
	f.commands.Errs = map[string]error{
		"lint": errors.New("lint broke"),
		"e2e":  errors.New("e2e broke"),
	}

	res := f.engine.ExecuteChain(context.Background(), "checks", Options{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "lint broke")
	assert.Contains(t, res.Error, "e2e broke")
	assert.ElementsMatch(t, []string{"unit", "lint", "e2e"}, f.commands.Calls())

	require.Len(t, res.Results, 1)
	phase := res.Results[0]
	assert.Equal(t, runstate.KindParallel, phase.Kind)
	require.Len(t, phase.Children, 3)
	assert.True(t, phase.Children[0].Success)
	assert.False(t, phase.Children[1].Success)
}

func TestExecuteChain_ParallelSuccess(t *testing.T) {
	f := newFixture(t, `
checks:
  steps:
    - parallel:
        - unit
        - agent: reviewer
          task: review
        - command: skipped
          condition: exists(nothing)
`)

	res := f.engine.ExecuteChain(context.Background(), "checks", Options{})

	require.True(t, res.Success, res.Error)
	phase := res.Results[0]
	require.Len(t, phase.Children, 3)
	assert.True(t, phase.Success)
	assert.True(t, phase.Children[2].Skipped)
	assert.Equal(t, []string{"unit"}, f.commands.Calls())
	assert.Len(t, f.agents.Calls(), 1)
}

func TestExecuteChain_ParallelPanic(t *testing.T) {
	f := newFixture(t, `
checks:
  steps:
    - parallel: [ok, bad]
`)
	f.commands.Panics = map[string]any{"bad": "kaboom"}

	res := f.engine.ExecuteChain(context.Background(), "checks", Options{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "kaboom")
}

func TestExecuteChain_FailFast(t *testing.T) {
	const defs = `
strict:
  fail-fast: true
  steps: [a, b, c]
lenient:
  steps: [a, b, c]
`
	t.Run("strict stops", func(t *testing.T) {
		f := newFixture(t, defs)
		f.commands.Outcomes = map[string]executor.Outcome{"b": {Success: false}}

		res := f.engine.ExecuteChain(context.Background(), "strict", Options{})

		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "did not succeed")
		assert.Equal(t, []string{"a", "b"}, f.commands.Calls())
	})

	t.Run("lenient records and continues", func(t *testing.T) {
		f := newFixture(t, defs)
		f.commands.Outcomes = map[string]executor.Outcome{"b": {Success: false}}

		res := f.engine.ExecuteChain(context.Background(), "lenient", Options{})

		assert.True(t, res.Success)
		require.Len(t, res.Results, 3)
		assert.False(t, res.Results[1].Success)
	})
}

func TestExecuteChain_OnSuccessFailureDoesNotInvalidate(t *testing.T) {
	f := newFixture(t, `
ship:
  steps: [deploy]
  on-success: notify ${env}
  context:
    values: {env: prod}
`)
	f.commands.Errs = map[string]error{"notify prod": errors.New("webhook down")}
	ctx := context.Background()

	res := f.engine.ExecuteChain(ctx, "ship", Options{})

	assert.True(t, res.Success)
	assert.Equal(t, []string{"deploy", "notify prod"}, f.commands.Calls())
	assert.Contains(t, f.store.Load(ctx).Completed, "ship")
}

func TestExecuteChain_ContextPersistence(t *testing.T) {
	f := newFixture(t, `
producer:
  steps: [build]
  context:
    values: {version: "1.2.3", scratch: tmp}
    save: [version]
consumer:
  steps: ["release ${version}"]
  context:
    inherit: true
isolated:
  steps: ["release ${version}"]
`)
	ctx := context.Background()

	require.True(t, f.engine.ExecuteChain(ctx, "producer", Options{}).Success)
	assert.Equal(t, chainctx.Context{"version": "1.2.3"}, f.contexts.Saved())

	require.True(t, f.engine.ExecuteChain(ctx, "consumer", Options{}).Success)
	require.True(t, f.engine.ExecuteChain(ctx, "isolated", Options{}).Success)

	calls := f.commands.Calls()
	assert.Equal(t, "release 1.2.3", calls[1])
	assert.Equal(t, "release ${version}", calls[2])
}

func TestExecuteChain_Checkpoints(t *testing.T) {
	f := newFixture(t, `
pipeline:
  steps:
    - fetch
    - command: make
      name: build
    - test
  checkpoints: ["after:0", "after:build", "before:2", "after:9"]
  context:
    values: {env: ci}
`)

	res := f.engine.ExecuteChain(context.Background(), "pipeline", Options{})
	require.True(t, res.Success)

	cps, err := f.checkpoints.List("pipeline")
	require.NoError(t, err)
	require.Len(t, cps, 2)

	byMarker := map[string]checkpoint.Checkpoint{}
	for _, cp := range cps {
		byMarker[cp.Marker] = cp
	}
	assert.Equal(t, 0, byMarker["after:0"].Step)
	assert.Len(t, byMarker["after:0"].Results, 1)
	assert.Equal(t, 1, byMarker["after:build"].Step)
	assert.Len(t, byMarker["after:build"].Results, 2)
	assert.Equal(t, "ci", byMarker["after:build"].Context["env"])
}

func TestCheckTriggers(t *testing.T) {
	f := newFixture(t, `
always:
  description: Runs when go.mod exists
  steps: [a]
  triggers:
    conditions:
      all: ["exists(go.mod)"]
custom:
  steps: [a]
  triggers:
    conditions:
      any: ["exists(go.mod)"]
    prompt: Ship it now?
prompt-only:
  steps: [a]
  triggers:
    prompt: Never offered
untriggered:
  steps: [a]
closed:
  steps: [a]
  triggers:
    conditions:
      all: ["exists(missing)"]
`)
	f.touch(t, "go.mod")
	ctx := context.Background()

	triggers := f.engine.CheckTriggers(ctx)

	require.Len(t, triggers, 2)
	assert.Equal(t, "always", triggers[0].Name)
	assert.Equal(t, "Run always?", triggers[0].Prompt)
	assert.Equal(t, "Runs when go.mod exists", triggers[0].Chain.Description)
	assert.Equal(t, "custom", triggers[1].Name)
	assert.Equal(t, "Ship it now?", triggers[1].Prompt)

	assert.False(t, f.engine.ShouldTrigger(ctx, "untriggered"))
	assert.False(t, f.engine.ShouldTrigger(ctx, "prompt-only"))
	assert.False(t, f.engine.ShouldTrigger(ctx, "ghost"))
	assert.Empty(t, f.commands.Calls(), "trigger checks execute nothing")
}

func TestRemoveChain(t *testing.T) {
	f := newFixture(t, `
used:
  steps: [a]
unused:
  steps: [a]
`)
	ctx := context.Background()
	require.True(t, f.engine.ExecuteChain(ctx, "used", Options{}).Success)

	assert.ErrorIs(t, f.engine.RemoveChain(ctx, "used"), ErrChainInUse)
	assert.ErrorIs(t, f.engine.RemoveChain(ctx, "ghost"), ErrChainNotFound)
	require.NoError(t, f.engine.RemoveChain(ctx, "unused"))
	assert.Equal(t, []string{"used"}, f.registry.Names())
}

func TestExecuteChain_RerunOverwrites(t *testing.T) {
	f := newFixture(t, `
flaky:
  steps: [step]
`)
	ctx := context.Background()
	f.commands.Errs = map[string]error{"step": errors.New("first try")}
	require.False(t, f.engine.ExecuteChain(ctx, "flaky", Options{}).Success)

	f.commands.Errs = nil
	require.True(t, f.engine.ExecuteChain(ctx, "flaky", Options{}).Success)

	st := f.store.Load(ctx)
	assert.Contains(t, st.Completed, "flaky")
	assert.NotContains(t, st.Failed, "flaky")
}

func TestExecuteChain_ProgressAndAgentMissing(t *testing.T) {
	f := newFixture(t, `
mixed:
  steps:
    - one
    - agent: reviewer
`)
	var labels []string
	f.engine.SetProgressCallback(func(i, total int, label string) {
		labels = append(labels, label)
		assert.Equal(t, 2, total)
	})
	f.engine.agents = nil

	res := f.engine.ExecuteChain(context.Background(), "mixed", Options{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no agent collaborator")
	assert.Equal(t, []string{"one", "agent:reviewer"}, labels)
}

func TestMarkerMatches(t *testing.T) {
	tests := []struct {
		marker string
		index  int
		want   bool
	}{
		{"after:0", 0, true},
		{"after: 1", 1, true},
		{"after:1", 0, false},
		{"after:build", 3, true},
		{"after:make", 3, true},
		{"before:build", 3, false},
		{"after:", 3, false},
	}
	step := executorStep()
	for _, tt := range tests {
		assert.Equal(t, tt.want, markerMatches(tt.marker, tt.index, step), tt.marker)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "under limit", in: "abc", n: 5, want: "abc"},
		{name: "ascii", in: "abcdef", n: 3, want: "abc\n[truncated]"},
		{name: "splits two-byte rune", in: "aé", n: 2, want: "a\n[truncated]"},
		{name: "splits three-byte rune", in: "ab€c", n: 3, want: "ab\n[truncated]"},
		{name: "on rune boundary", in: "ab€c", n: 5, want: "ab€\n[truncated]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}

	long := strings.Repeat("€", maxOutput)
	assert.True(t, utf8.ValidString(truncate(long, maxOutput)))
}

func executorStep() chain.Step {
	return chain.Step{Kind: chain.KindCommand, Name: "build", Command: "make"}
}
