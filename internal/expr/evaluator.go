package expr

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// Runner executes a shell command in dir and returns its stdout and exit code.
//
// err is reserved for failures to start the command; a non-zero exit is reported
// through exitCode. The executor package's Shell type implements Runner.
type Runner interface {
	Run(ctx context.Context, dir, command string) (stdout string, exitCode int, err error)
}

// History reports when a command was last invoked.
type History interface {
	LastInvocation() (time.Time, bool)
}

// Evaluator evaluates expressions against the filesystem, the shell and the
// command history. It performs no caching: every call re-checks the world.
type Evaluator struct {
	root        string
	runner      Runner
	history     History
	testCommand string
	now         func() time.Time
	logger      arbor.ILogger
}

// NewEvaluator creates an Evaluator rooted at root. runner and history may be nil,
// in which case shell-backed expressions are false and elapsed-time expressions
// behave as if no command was ever recorded.
func NewEvaluator(root string, runner Runner, history History) *Evaluator {
	return &Evaluator{
		root:        root,
		runner:      runner,
		history:     history,
		testCommand: "go test ./...",
		now:         time.Now,
	}
}

// SetTestCommand sets the command used by tests_passing. Empty makes it always false.
func (e *Evaluator) SetTestCommand(cmd string) {
	e.testCommand = cmd
}

// SetClock replaces the time source.
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// SetLogger attaches a logger for unrecognized-expression diagnostics.
func (e *Evaluator) SetLogger(logger arbor.ILogger) {
	e.logger = logger
}

// Evaluate parses and evaluates a single expression string.
func (e *Evaluator) Evaluate(ctx context.Context, expression string) bool {
	return e.Eval(ctx, Parse(expression))
}

// Eval evaluates a parsed expression.
func (e *Evaluator) Eval(ctx context.Context, x Expr) bool {
	switch v := x.(type) {
	case Exists:
		return e.exists(v.Path)
	case NotExists:
		return !e.exists(v.Path)
	case FileCountCompare:
		matches, err := filepath.Glob(e.resolve(v.Pattern))
		if err != nil {
			return false
		}
		return v.Op.Compare(float64(len(matches)), v.Value)
	case HoursSince:
		return v.Op.Compare(e.sinceLast().Hours(), v.Value)
	case DaysSince:
		return v.Op.Compare(e.sinceLast().Hours()/24, v.Value)
	case FirstToday:
		last, ok := e.lastInvocation()
		if !ok {
			return true
		}
		now := e.now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return last.Before(midnight)
	case Exec:
		return e.exec(ctx, v)
	case GitClean:
		out, code, ok := e.run(ctx, "git status --porcelain")
		return ok && code == 0 && strings.TrimSpace(out) == ""
	case TestsPassing:
		if e.testCommand == "" {
			return false
		}
		_, code, ok := e.run(ctx, e.testCommand)
		return ok && code == 0
	case Unknown:
		if e.logger != nil {
			e.logger.Warn().Str("expression", v.Source).Msg("Unrecognized expression evaluates to false")
		}
	}
	return false
}

// EvaluateCondition composes leaf evaluations. A nil or empty condition is true.
func (e *Evaluator) EvaluateCondition(ctx context.Context, c *Condition) bool {
	if c.IsEmpty() {
		return true
	}
	x := c.exprs()

	for _, item := range x.all {
		if !e.Eval(ctx, item) {
			return false
		}
	}

	if len(x.any) > 0 {
		matched := false
		for _, item := range x.any {
			if e.Eval(ctx, item) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, item := range x.none {
		if e.Eval(ctx, item) {
			return false
		}
	}
	return true
}

func (e *Evaluator) exec(ctx context.Context, v Exec) bool {
	out, code, ok := e.run(ctx, v.Command)
	if !ok || code != 0 {
		return false
	}
	trimmed := strings.TrimSpace(out)
	n, err := strconv.ParseFloat(trimmed, 64)
	if v.Compare {
		return err == nil && v.Op.Compare(n, v.Value)
	}
	if err == nil {
		return n != 0
	}
	return true
}

func (e *Evaluator) run(ctx context.Context, command string) (string, int, bool) {
	if e.runner == nil {
		return "", -1, false
	}
	out, code, err := e.runner.Run(ctx, e.root, command)
	if err != nil {
		if e.logger != nil {
			e.logger.Debug().Err(err).Str("command", command).Msg("Expression command failed to start")
		}
		return "", -1, false
	}
	return out, code, true
}

func (e *Evaluator) exists(path string) bool {
	_, err := os.Stat(e.resolve(path))
	return err == nil
}

func (e *Evaluator) resolve(path string) string {
	if filepath.IsAbs(path) || e.root == "" {
		return path
	}
	return filepath.Join(e.root, path)
}

func (e *Evaluator) lastInvocation() (time.Time, bool) {
	if e.history == nil {
		return time.Time{}, false
	}
	return e.history.LastInvocation()
}

// sinceLast saturates at the maximum duration when nothing has been recorded.
func (e *Evaluator) sinceLast() time.Duration {
	last, ok := e.lastInvocation()
	if !ok {
		return time.Duration(math.MaxInt64)
	}
	return e.now().Sub(last)
}
