package chainctx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	defaults := map[string]any{"env": "staging", "region": "eu"}
	overrides := map[string]any{"env": "prod", "tag": "v1"}

	got := Build(defaults, overrides)

	assert.Equal(t, Context{"env": "prod", "region": "eu", "tag": "v1"}, got)
	assert.Equal(t, "staging", defaults["env"], "inputs are not mutated")
}

func TestBuild_Nil(t *testing.T) {
	got := Build(nil, nil)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSubstitute(t *testing.T) {
	ctx := Context{"env": "prod", "count": 3, "dotted.key": "x"}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "single token", input: "deploy --env ${env}", want: "deploy --env prod"},
		{name: "repeated token", input: "${env}-${env}", want: "prod-prod"},
		{name: "non-string value", input: "retry ${count}", want: "retry 3"},
		{name: "dotted key", input: "${dotted.key}", want: "x"},
		{name: "missing key left verbatim", input: "echo ${missing}", want: "echo ${missing}"},
		{name: "no tokens", input: "make test", want: "make test"},
		{name: "unbraced dollar untouched", input: "echo $env", want: "echo $env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Substitute(tt.input, ctx)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Substitute(got, ctx), "substitution is idempotent")
		})
	}
}

func TestSubstitute_EmptyContext(t *testing.T) {
	assert.Equal(t, "echo ${env}", Substitute("echo ${env}", nil))
}

func TestManager_PersistAndSaved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chain-context.yaml")
	m := NewManager(path)

	assert.Empty(t, m.Saved(), "missing record is empty")

	ctx := Context{"env": "prod", "secret": "hunter2", "tag": "v1"}
	require.NoError(t, m.Persist(ctx, []string{"env", "tag", "absent"}))

	saved := m.Saved()
	assert.Equal(t, Context{"env": "prod", "tag": "v1"}, saved)
	assert.NotContains(t, saved, "secret")

	// Last write wins and replaces the whole record
	require.NoError(t, m.Persist(Context{"region": "us"}, []string{"region"}))
	assert.Equal(t, Context{"region": "us"}, m.Saved())
	assert.Equal(t, path, m.Path())
}

func TestManager_PersistNoKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.yaml")
	m := NewManager(path)

	require.NoError(t, m.Persist(Context{"a": 1}, nil))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestManager_SavedCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.yaml")
	require.NoError(t, os.WriteFile(path, []byte("[not: a map"), 0644))

	assert.Empty(t, NewManager(path).Saved())
}
