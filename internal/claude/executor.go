package claude

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/ternarybob/arbor"
)

// EventHandler receives events as they stream in.
type EventHandler func(Event)

// Result summarises one prompt execution.
type Result struct {
	// ExitCode is the CLI process exit code.
	ExitCode int
	// Text is the final result text, or the concatenated assistant text when
	// the stream carried no result line.
	Text string
	// IsError is set when the result line reported an error.
	IsError bool
}

// Success reports whether the run exited 0 without an error result.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.IsError
}

// Executor runs a prompt through the assistant.
//
// A non-zero exit is reported in [Result.ExitCode]; the error return is
// reserved for failures to start or read the process.
type Executor interface {
	ExecuteWithResult(ctx context.Context, prompt string, handler EventHandler) (Result, error)
}

// Config configures a [CLIExecutor].
type Config struct {
	BinaryPath   string
	OutputFormat string
	Model        string
	// Dir is the working directory for the process. Empty uses the current one.
	Dir string
}

// CLIExecutor spawns the Claude CLI for each prompt.
type CLIExecutor struct {
	config Config
	parser Parser
	logger arbor.ILogger
}

// NewExecutor creates a [CLIExecutor]. logger may be nil.
func NewExecutor(cfg Config, logger arbor.ILogger) *CLIExecutor {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "claude"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "stream-json"
	}
	return &CLIExecutor{config: cfg, parser: NewParser(), logger: logger}
}

// Args returns the argument list used for prompt.
func (e *CLIExecutor) Args(prompt string) []string {
	args := []string{"--dangerously-skip-permissions", "-p", prompt, "--output-format", e.config.OutputFormat}
	if e.config.OutputFormat == "stream-json" {
		args = append(args, "--verbose")
	}
	if e.config.Model != "" {
		args = append(args, "--model", e.config.Model)
	}
	return args
}

// ExecuteWithResult runs prompt and blocks until the process exits.
func (e *CLIExecutor) ExecuteWithResult(ctx context.Context, prompt string, handler EventHandler) (Result, error) {
	cmd := exec.CommandContext(ctx, e.config.BinaryPath, e.Args(prompt)...)
	cmd.Dir = e.config.Dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if e.logger != nil {
		e.logger.Debug().Str("binary", e.config.BinaryPath).Str("prompt", truncate(prompt, 120)).Msg("Starting Claude CLI")
	}
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("failed to start claude: %w", err)
	}

	res := collect(e.parser.Parse(stdout), handler)

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{ExitCode: -1}, fmt.Errorf("claude did not finish: %w", err)
		}
		res.ExitCode = exitErr.ExitCode()
		if res.Text == "" {
			res.Text = strings.TrimSpace(stderr.String())
		}
		if e.logger != nil {
			e.logger.Warn().Str("stderr", truncate(stderr.String(), 500)).Msg("Claude CLI exited non-zero")
		}
	}
	return res, nil
}

// collect drains events into a Result, forwarding each to handler.
func collect(events <-chan Event, handler EventHandler) Result {
	var res Result
	var text strings.Builder
	sawResult := false

	for event := range events {
		if handler != nil {
			handler(event)
		}
		switch {
		case event.IsText():
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(event.Text)
		case event.SessionComplete:
			sawResult = true
			res.Text = event.Text
			res.IsError = event.IsError
		}
	}
	if !sawResult || res.Text == "" {
		res.Text = text.String()
	}
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
