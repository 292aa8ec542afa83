package executor

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainctl/internal/claude"
	"chainctl/internal/expr"
	"chainctl/internal/history"
)

var _ expr.Runner = (*Shell)(nil)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestShell_Run(t *testing.T) {
	skipOnWindows(t)
	s := NewShell("")
	ctx := context.Background()

	out, code, err := s.Run(ctx, "", "echo hello; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hello\n", out)

	_, code, err = s.Run(ctx, "", "exit 4")
	require.NoError(t, err)
	assert.Equal(t, 4, code)

	dir := t.TempDir()
	out, _, err = s.Run(ctx, dir, "pwd")
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, []string{dir + "\n", resolved + "\n"}, out)

	combined, _, err := s.RunCombined(ctx, "", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Contains(t, combined, "out")
	assert.Contains(t, combined, "err")
}

func TestShell_BadInterpreter(t *testing.T) {
	s := NewShell(filepath.Join(t.TempDir(), "nosh"))
	_, code, err := s.Run(context.Background(), "", "true")
	assert.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestIsSlashCommand(t *testing.T) {
	assert.True(t, IsSlashCommand("/test"))
	assert.True(t, IsSlashCommand("  /review now"))
	assert.False(t, IsSlashCommand("make test"))
	assert.False(t, IsSlashCommand(""))
}

func TestCommands_Dispatch(t *testing.T) {
	skipOnWindows(t)
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	hist := history.NewStore(filepath.Join(t.TempDir(), "history.yaml"))
	assistant := &claude.MockExecutor{
		Events:  []claude.Event{{Type: claude.EventTypeResult, SessionComplete: true, Text: "tests ok"}},
		Results: map[string]claude.Result{"/broken": {ExitCode: 2}},
	}
	c := NewCommands(t.TempDir(), NewShell(""), assistant, hist, nil)
	c.SetClock(func() time.Time { return at })
	ctx := context.Background()

	out, err := c.Execute(ctx, "/test")
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "tests ok", out.Output)
	assert.Equal(t, at, out.Timestamp)

	out, err = c.Execute(ctx, "/broken")
	require.NoError(t, err)
	assert.False(t, out.Success)

	out, err = c.Execute(ctx, "echo shell")
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "shell\n", out.Output)

	out, err = c.Execute(ctx, "exit 1")
	require.NoError(t, err, "non-zero exit is not an error")
	assert.False(t, out.Success)

	assert.Equal(t, []string{"/test", "/broken"}, assistant.Calls())

	rec, err := hist.Read()
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Invocations)
	assert.Equal(t, "exit 1", rec.LastCommand)
	last, ok := hist.LastInvocation()
	assert.True(t, ok)
	assert.True(t, last.Equal(at))
}

func TestCommands_NoAssistant(t *testing.T) {
	c := NewCommands("", nil, nil, nil, nil)
	_, err := c.Execute(context.Background(), "/test")
	assert.Error(t, err)
}

func TestCommands_AssistantError(t *testing.T) {
	c := NewCommands("", nil, &claude.MockExecutor{Err: errors.New("not installed")}, nil, nil)
	_, err := c.Execute(context.Background(), "/test")
	assert.ErrorContains(t, err, "not installed")
}

func TestAgents_Delegate(t *testing.T) {
	assistant := &claude.MockExecutor{Results: map[string]claude.Result{
		DelegationPrompt("broken", "x"): {ExitCode: 1},
	}}
	a := NewAgents(assistant)
	ctx := context.Background()

	out, err := a.Delegate(ctx, "reviewer", "check the diff")
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "agent:reviewer", out.Command)

	out, err = a.Delegate(ctx, "broken", "x")
	require.NoError(t, err)
	assert.False(t, out.Success)

	assert.Equal(t, "Use the reviewer agent to complete this task: check the diff", assistant.Calls()[0])

	_, err = NewAgents(nil).Delegate(ctx, "reviewer", "")
	assert.Error(t, err)
}

func TestDelegationPrompt_NoTask(t *testing.T) {
	assert.Contains(t, DelegationPrompt("docs", ""), "docs agent")
}

func TestMocks(t *testing.T) {
	ctx := context.Background()
	m := &MockCommands{
		Outcomes: map[string]Outcome{"bad": {Success: false}},
		Errs:     map[string]error{"err": errors.New("x")},
	}
	out, err := m.Execute(ctx, "ok")
	require.NoError(t, err)
	assert.True(t, out.Success)
	out, _ = m.Execute(ctx, "bad")
	assert.False(t, out.Success)
	_, err = m.Execute(ctx, "err")
	assert.Error(t, err)
	assert.Equal(t, []string{"ok", "bad", "err"}, m.Calls())

	agents := &MockAgents{}
	_, err = agents.Delegate(ctx, "a", "t")
	require.NoError(t, err)
	assert.Equal(t, []AgentCall{{Agent: "a", Task: "t"}}, agents.Calls())
}
