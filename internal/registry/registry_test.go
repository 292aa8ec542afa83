package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainctl/internal/chain"
	"chainctl/internal/expr"
	"chainctl/internal/logging"
)

const chainsYAML = `
deploy:
  description: Build and ship
  steps:
    - /test
    - command: make release
      condition: git_clean
  triggers:
    conditions:
      all: ["exists(go.mod)"]
lint:
  steps:
    - ["/fmt", "/vet"]
`

func writeStore(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRegistry_LoadYAML(t *testing.T) {
	r := New(writeStore(t, "chains.yaml", chainsYAML), logging.NewForTest())
	r.Load()

	assert.Equal(t, []string{"deploy", "lint"}, r.Names())

	deploy, err := r.Get("deploy")
	require.NoError(t, err)
	assert.Equal(t, "deploy", deploy.Name)
	assert.Equal(t, "Build and ship", deploy.Description)
	require.Len(t, deploy.Steps, 2)
	assert.Equal(t, expr.GitClean{}, deploy.Steps[1].ConditionExpr())

	lint, err := r.Get("lint")
	require.NoError(t, err)
	assert.Equal(t, chain.KindGroup, lint.Steps[0].Kind)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "deploy", all[0].Name)
}

func TestRegistry_LoadTOML(t *testing.T) {
	const chainsTOML = `
[deploy]
description = "Build and ship"
steps = ["/test", { command = "make release", condition = "git_clean" }]
on-success = "echo done"

[deploy.triggers.conditions]
all = ["exists(go.mod)"]
`
	r := New(writeStore(t, "chains.toml", chainsTOML), nil)
	r.Load()

	deploy, err := r.Get("deploy")
	require.NoError(t, err)
	assert.Equal(t, "echo done", deploy.OnSuccess)
	assert.Equal(t, []string{"exists(go.mod)"}, deploy.TriggerCondition().All)
	assert.Equal(t, "make release", deploy.Steps[1].Command)
}

func TestRegistry_LoadFailsOpen(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{name: "missing", path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.yaml") }},
		{name: "corrupt yaml", path: func(t *testing.T) string { return writeStore(t, "chains.yaml", "deploy: [unclosed") }},
		{name: "corrupt toml", path: func(t *testing.T) string { return writeStore(t, "chains.toml", "[deploy\nsteps =") }},
		{name: "invalid step", path: func(t *testing.T) string { return writeStore(t, "chains.yaml", "deploy:\n  steps: [42]\n") }},
		{name: "directory", path: func(t *testing.T) string { return t.TempDir() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.path(t), logging.NewForTest())
			r.Load()
			assert.Empty(t, r.Names())
		})
	}
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "chains.yaml"), nil)
	_, err := r.Get("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Remove("ghost"), ErrNotFound)
}

func TestRegistry_RoundTrip(t *testing.T) {
	for _, file := range []string{"chains.yaml", "chains.toml"} {
		t.Run(file, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), file)
			r := New(path, nil)

			def := &chain.Chain{
				Description: "Ship",
				Steps: []chain.Step{
					chain.Command("/test"),
					{Kind: chain.KindCommand, Name: "build", Command: "make", Condition: "exists(Makefile)"},
					{Kind: chain.KindAgent, Agent: "reviewer", Task: "review"},
					{Kind: chain.KindGroup, Members: []chain.Step{chain.Command("/fmt"), chain.Command("/vet")}},
					{Kind: chain.KindParallel, Members: []chain.Step{chain.Command("/a"), chain.Command("/b")}},
				},
				Triggers:    &chain.Trigger{Conditions: &expr.Condition{Any: []string{"first_command_today"}}, Prompt: "Go?"},
				Context:     chain.ContextSpec{Values: map[string]any{"env": "prod"}, Save: []string{"env"}},
				Checkpoints: []string{"after:0"},
				OnFailure:   "echo fail",
			}
			require.NoError(t, r.AddOrUpdate("ship", def))

			reloaded := New(path, nil)
			reloaded.Load()
			got, err := reloaded.Get("ship")
			require.NoError(t, err)

			assert.Equal(t, "ship", got.Name)
			assert.Equal(t, def.Description, got.Description)
			assert.Equal(t, def.Triggers.Prompt, got.Triggers.Prompt)
			assert.Equal(t, def.Triggers.Conditions.Any, got.Triggers.Conditions.Any)
			assert.Equal(t, def.Context.Save, got.Context.Save)
			assert.Equal(t, "prod", got.Context.Values["env"])
			assert.Equal(t, def.Checkpoints, got.Checkpoints)
			assert.Equal(t, def.OnFailure, got.OnFailure)

			require.Len(t, got.Steps, len(def.Steps))
			for i := range def.Steps {
				assert.Equal(t, def.Steps[i].Kind, got.Steps[i].Kind, "step %d", i)
				assert.Equal(t, def.Steps[i].Label(), got.Steps[i].Label(), "step %d", i)
				assert.Equal(t, def.Steps[i].Condition, got.Steps[i].Condition, "step %d", i)
			}
		})
	}
}

func TestRegistry_Remove(t *testing.T) {
	path := writeStore(t, "chains.yaml", chainsYAML)
	r := New(path, nil)
	r.Load()

	require.NoError(t, r.Remove("lint"))
	assert.Equal(t, []string{"deploy"}, r.Names())

	reloaded := New(path, nil)
	reloaded.Load()
	assert.Equal(t, []string{"deploy"}, reloaded.Names())
}

func TestRegistry_AddOrUpdateEmptyName(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "chains.yaml"), nil)
	assert.Error(t, r.AddOrUpdate("", &chain.Chain{}))
}
