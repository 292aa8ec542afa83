// Package executor provides the collaborators that carry out chain steps.
//
// [Commands] dispatches a command string: slash commands ("/test") go to the
// assistant through a [claude.Executor], anything else runs in the shell.
// [Agents] delegates a task to a named agent through the assistant. Both
// report an [Outcome]; an unsuccessful outcome is data, not an error.
//
// [Shell] also implements expr.Runner, so conditions and steps share one
// shell configuration.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"chainctl/internal/claude"
)

// Outcome is the result of one dispatched command or delegation.
type Outcome struct {
	Success   bool      `json:"success"`
	Command   string    `json:"command"`
	Output    string    `json:"output,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Shell runs commands through "<path> -c".
type Shell struct {
	path string
}

// NewShell creates a Shell using the interpreter at path ("/bin/sh" when empty).
func NewShell(path string) *Shell {
	if path == "" {
		path = "/bin/sh"
	}
	return &Shell{path: path}
}

// Run executes command in dir and returns stdout and the exit code. err is
// non-nil only when the process could not be started.
func (s *Shell) Run(ctx context.Context, dir, command string) (string, int, error) {
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, s.path, "-c", command)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	err := cmd.Run()
	return stdout.String(), exitCode(err), startErr(err)
}

// RunCombined is Run with stderr interleaved into the returned output.
func (s *Shell) RunCombined(ctx context.Context, dir, command string) (string, int, error) {
	cmd := exec.CommandContext(ctx, s.path, "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), exitCode(err), startErr(err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func startErr(err error) error {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// Recorder notes command invocations. history.Store implements it.
type Recorder interface {
	Record(command string, at time.Time) error
}

// IsSlashCommand reports whether command is addressed to the assistant.
func IsSlashCommand(command string) bool {
	return strings.HasPrefix(strings.TrimSpace(command), "/")
}

// Commands is the command-execution collaborator.
type Commands struct {
	dir       string
	shell     *Shell
	assistant claude.Executor
	history   Recorder
	logger    arbor.ILogger
	now       func() time.Time
}

// NewCommands creates a Commands collaborator. assistant and history may be nil;
// without an assistant slash commands fail to dispatch.
func NewCommands(dir string, shell *Shell, assistant claude.Executor, history Recorder, logger arbor.ILogger) *Commands {
	if shell == nil {
		shell = NewShell("")
	}
	return &Commands{
		dir:       dir,
		shell:     shell,
		assistant: assistant,
		history:   history,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the time source used for timestamps and history.
func (c *Commands) SetClock(now func() time.Time) {
	c.now = now
}

// Execute dispatches command. A non-zero exit yields Success=false with a nil error.
func (c *Commands) Execute(ctx context.Context, command string) (Outcome, error) {
	command = strings.TrimSpace(command)
	started := c.now()
	c.record(command, started)

	if IsSlashCommand(command) {
		if c.assistant == nil {
			return Outcome{Command: command, Timestamp: started}, fmt.Errorf("no assistant configured for %s", command)
		}
		res, err := c.assistant.ExecuteWithResult(ctx, command, nil)
		if err != nil {
			return Outcome{Command: command, Timestamp: started}, fmt.Errorf("failed to run %s: %w", command, err)
		}
		return Outcome{Success: res.Success(), Command: command, Output: res.Text, Timestamp: started}, nil
	}

	out, code, err := c.shell.RunCombined(ctx, c.dir, command)
	if err != nil {
		return Outcome{Command: command, Timestamp: started}, fmt.Errorf("failed to run %s: %w", command, err)
	}
	if code != 0 && c.logger != nil {
		c.logger.Debug().Str("command", command).Str("exit", fmt.Sprint(code)).Msg("Command exited non-zero")
	}
	return Outcome{Success: code == 0, Command: command, Output: out, Timestamp: started}, nil
}

func (c *Commands) record(command string, at time.Time) {
	if c.history == nil {
		return
	}
	if err := c.history.Record(command, at); err != nil && c.logger != nil {
		c.logger.Warn().Err(err).Msg("Failed to record command history")
	}
}

// Agents is the agent-delegation collaborator.
type Agents struct {
	assistant claude.Executor
	now       func() time.Time
}

// NewAgents creates an Agents collaborator over assistant.
func NewAgents(assistant claude.Executor) *Agents {
	return &Agents{assistant: assistant, now: time.Now}
}

// DelegationPrompt is the prompt sent to the assistant for an agent step.
func DelegationPrompt(agent, task string) string {
	if task == "" {
		return fmt.Sprintf("Use the %s agent to complete its standard task for this project.", agent)
	}
	return fmt.Sprintf("Use the %s agent to complete this task: %s", agent, task)
}

// Delegate asks the assistant to hand task to agent.
func (a *Agents) Delegate(ctx context.Context, agent, task string) (Outcome, error) {
	started := a.now()
	label := "agent:" + agent
	if a.assistant == nil {
		return Outcome{Command: label, Timestamp: started}, fmt.Errorf("no assistant configured for agent %s", agent)
	}
	res, err := a.assistant.ExecuteWithResult(ctx, DelegationPrompt(agent, task), nil)
	if err != nil {
		return Outcome{Command: label, Timestamp: started}, fmt.Errorf("agent %s delegation failed: %w", agent, err)
	}
	return Outcome{Success: res.Success(), Command: label, Output: res.Text, Timestamp: started}, nil
}
