// Package expr parses and evaluates the boolean expressions used by chain
// triggers, prerequisites and step conditions.
//
// Expressions are parsed once into a closed set of variants ([Exists],
// [NotExists], [FileCountCompare], [HoursSince], [DaysSince], [FirstToday],
// [Exec], [GitClean], [TestsPassing]). Anything the parser does not recognize
// becomes [Unknown], which always evaluates to false.
//
// Grammar, checked in order (first match wins):
//
//	exists(PATH)
//	!exists(PATH)
//	count(GLOB) OP N
//	hours_since_last_command OP N
//	days_since_last_command OP N
//	first_command_today
//	exec(CMD) OP N
//	exec(CMD)
//	git_clean
//	tests_passing
//
// OP is one of >, <, >=, <=, ==, !=.
package expr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Op is a numeric comparison operator.
type Op string

const (
	OpGT Op = ">"
	OpLT Op = "<"
	OpGE Op = ">="
	OpLE Op = "<="
	OpEQ Op = "=="
	OpNE Op = "!="
)

// Compare applies the operator to a and b. An unrecognized operator is false.
func (o Op) Compare(a, b float64) bool {
	switch o {
	case OpGT:
		return a > b
	case OpLT:
		return a < b
	case OpGE:
		return a >= b
	case OpLE:
		return a <= b
	case OpEQ:
		return a == b
	case OpNE:
		return a != b
	}
	return false
}

// Expr is a parsed expression. The set of implementations is closed.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Exists is true when Path exists.
type Exists struct{ Path string }

// NotExists is true when Path does not exist.
type NotExists struct{ Path string }

// FileCountCompare compares the number of paths matching Pattern against Value.
type FileCountCompare struct {
	Pattern string
	Op      Op
	Value   float64
}

// HoursSince compares the hours elapsed since the last recorded command.
type HoursSince struct {
	Op    Op
	Value float64
}

// DaysSince compares the days elapsed since the last recorded command.
type DaysSince struct {
	Op    Op
	Value float64
}

// FirstToday is true when no command has been recorded since local midnight.
type FirstToday struct{}

// Exec runs Command in the shell. With Compare unset it is true on exit 0 and,
// if stdout is numeric, a non-zero value. With Compare set the numeric stdout is
// compared against Value.
type Exec struct {
	Command string
	Compare bool
	Op      Op
	Value   float64
}

// GitClean is true when the working tree has no uncommitted changes.
type GitClean struct{}

// TestsPassing is true when the configured test command exits 0.
type TestsPassing struct{}

// Unknown holds an expression no rule matched. It always evaluates false.
type Unknown struct{ Source string }

func (Exists) isExpr()           {}
func (NotExists) isExpr()        {}
func (FileCountCompare) isExpr() {}
func (HoursSince) isExpr()       {}
func (DaysSince) isExpr()        {}
func (FirstToday) isExpr()       {}
func (Exec) isExpr()             {}
func (GitClean) isExpr()         {}
func (TestsPassing) isExpr()     {}
func (Unknown) isExpr()          {}

func (e Exists) String() string    { return "exists(" + e.Path + ")" }
func (e NotExists) String() string { return "!exists(" + e.Path + ")" }
func (e FileCountCompare) String() string {
	return fmt.Sprintf("count(%s) %s %s", e.Pattern, e.Op, formatNum(e.Value))
}
func (e HoursSince) String() string {
	return fmt.Sprintf("hours_since_last_command %s %s", e.Op, formatNum(e.Value))
}
func (e DaysSince) String() string {
	return fmt.Sprintf("days_since_last_command %s %s", e.Op, formatNum(e.Value))
}
func (FirstToday) String() string { return "first_command_today" }
func (e Exec) String() string {
	if !e.Compare {
		return "exec(" + e.Command + ")"
	}
	return fmt.Sprintf("exec(%s) %s %s", e.Command, e.Op, formatNum(e.Value))
}
func (GitClean) String() string     { return "git_clean" }
func (TestsPassing) String() string { return "tests_passing" }
func (e Unknown) String() string    { return e.Source }

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

const opPattern = `(>=|<=|==|!=|>|<)`
const numPattern = `(-?\d+(?:\.\d+)?)`

var (
	reExists      = regexp.MustCompile(`^exists\(([^()]+)\)$`)
	reNotExists   = regexp.MustCompile(`^!\s*exists\(([^()]+)\)$`)
	reCount       = regexp.MustCompile(`^count\(([^()]+)\)\s*` + opPattern + `\s*` + numPattern + `$`)
	reHoursSince  = regexp.MustCompile(`^hours_since_last_command\s*` + opPattern + `\s*` + numPattern + `$`)
	reDaysSince   = regexp.MustCompile(`^days_since_last_command\s*` + opPattern + `\s*` + numPattern + `$`)
	reExecCompare = regexp.MustCompile(`^exec\((.+)\)\s*` + opPattern + `\s*` + numPattern + `$`)
	reExec        = regexp.MustCompile(`^exec\((.+)\)$`)
)

// Parse converts an expression string into its variant. It never fails:
// unrecognized input yields [Unknown].
func Parse(s string) Expr {
	src := strings.TrimSpace(s)

	if m := reExists.FindStringSubmatch(src); m != nil {
		return Exists{Path: strings.TrimSpace(m[1])}
	}
	if m := reNotExists.FindStringSubmatch(src); m != nil {
		return NotExists{Path: strings.TrimSpace(m[1])}
	}
	if m := reCount.FindStringSubmatch(src); m != nil {
		return FileCountCompare{Pattern: strings.TrimSpace(m[1]), Op: Op(m[2]), Value: mustFloat(m[3])}
	}
	if m := reHoursSince.FindStringSubmatch(src); m != nil {
		return HoursSince{Op: Op(m[1]), Value: mustFloat(m[2])}
	}
	if m := reDaysSince.FindStringSubmatch(src); m != nil {
		return DaysSince{Op: Op(m[1]), Value: mustFloat(m[2])}
	}
	if src == "first_command_today" {
		return FirstToday{}
	}
	if m := reExecCompare.FindStringSubmatch(src); m != nil && balanced(m[1]) {
		return Exec{Command: strings.TrimSpace(m[1]), Compare: true, Op: Op(m[2]), Value: mustFloat(m[3])}
	}
	if m := reExec.FindStringSubmatch(src); m != nil && balanced(m[1]) {
		return Exec{Command: strings.TrimSpace(m[1])}
	}
	switch src {
	case "git_clean":
		return GitClean{}
	case "tests_passing":
		return TestsPassing{}
	}
	return Unknown{Source: src}
}

// balanced reports whether every parenthesis in s is closed in order, so
// "exec(a) && exec(b)" is not read as one command "a) && exec(b".
func balanced(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// numPattern guarantees a parseable float.
func mustFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// ParseAll parses every string in list, preserving order.
func ParseAll(list []string) []Expr {
	if len(list) == 0 {
		return nil
	}
	out := make([]Expr, len(list))
	for i, s := range list {
		out[i] = Parse(s)
	}
	return out
}
