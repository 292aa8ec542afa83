package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"chainctl/internal/expr"
)

// Kind identifies a step's shape.
type Kind string

const (
	// KindCommand is a bare command string or a {command, condition, name} map.
	KindCommand Kind = "command"
	// KindAgent is a {agent, task, condition, name} map delegating to an agent.
	KindAgent Kind = "agent"
	// KindGroup is a list of commands run in order as one slot.
	KindGroup Kind = "group"
	// KindParallel is a {parallel: [...]} phase whose members run concurrently.
	KindParallel Kind = "parallel"
)

var (
	_ yaml.Unmarshaler = (*Step)(nil)
	_ yaml.Marshaler   = Step{}
	_ toml.Unmarshaler = (*Step)(nil)
)

// ErrInvalidStep is returned when a step value matches no known shape.
var ErrInvalidStep = errors.New("invalid step")

// Step is one slot in a chain's step list.
//
// Bare records whether a command step was written as a plain string, so it
// re-encodes as one.
type Step struct {
	Kind      Kind
	Name      string
	Command   string
	Agent     string
	Task      string
	Condition string
	Members   []Step
	Bare      bool

	condition expr.Expr
}

// Command returns a bare command step.
func Command(cmd string) Step {
	return Step{Kind: KindCommand, Command: cmd, Bare: true}
}

// Compile parses the step's condition and its members' conditions.
func (s *Step) Compile() {
	if s.Condition != "" {
		s.condition = expr.Parse(s.Condition)
	}
	for i := range s.Members {
		s.Members[i].Compile()
	}
}

// ConditionExpr returns the parsed condition, or nil when the step has none.
func (s *Step) ConditionExpr() expr.Expr {
	if s.Condition == "" {
		return nil
	}
	if s.condition != nil {
		return s.condition
	}
	return expr.Parse(s.Condition)
}

// Label is a short human-readable description of the step.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	switch s.Kind {
	case KindAgent:
		return "agent:" + s.Agent
	case KindGroup, KindParallel:
		parts := make([]string, len(s.Members))
		for i, m := range s.Members {
			parts[i] = m.Label()
		}
		return string(s.Kind) + "[" + strings.Join(parts, ", ") + "]"
	}
	return s.Command
}

// Matches reports whether ref names this step by its name, command or agent.
func (s Step) Matches(ref string) bool {
	if ref == "" {
		return false
	}
	return ref == s.Name || ref == s.Command || (s.Kind == KindAgent && ref == s.Agent)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return s.fromAny(raw)
}

// MarshalYAML implements yaml.Marshaler.
func (s Step) MarshalYAML() (any, error) {
	return s.toAny(), nil
}

// UnmarshalTOML implements toml.Unmarshaler.
func (s *Step) UnmarshalTOML(data any) error {
	return s.fromAny(data)
}

// MarshalJSON encodes the step in the same shape as its YAML form.
func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toAny())
}

func (s *Step) fromAny(raw any) error {
	switch v := raw.(type) {
	case string:
		*s = Command(v)
		return nil

	case []any, []string, []map[string]any:
		list, _ := asList(v)
		members := make([]Step, 0, len(list))
		for i, item := range list {
			var m Step
			if err := m.fromAny(item); err != nil {
				return fmt.Errorf("group member %d: %w", i, err)
			}
			members = append(members, m)
		}
		*s = Step{Kind: KindGroup, Members: members}
		return nil

	case map[string]any:
		return s.fromMap(v)
	}
	return fmt.Errorf("%w: unsupported value %T", ErrInvalidStep, raw)
}

func (s *Step) fromMap(m map[string]any) error {
	name, err := stringField(m, "name")
	if err != nil {
		return err
	}
	condition, err := stringField(m, "condition")
	if err != nil {
		return err
	}

	if p, ok := m["parallel"]; ok {
		list, ok := asList(p)
		if !ok {
			return fmt.Errorf("%w: parallel must be a list", ErrInvalidStep)
		}
		members := make([]Step, 0, len(list))
		for i, item := range list {
			var member Step
			if err := member.fromAny(item); err != nil {
				return fmt.Errorf("parallel member %d: %w", i, err)
			}
			members = append(members, member)
		}
		*s = Step{Kind: KindParallel, Name: name, Condition: condition, Members: members}
		return nil
	}

	if _, ok := m["agent"]; ok {
		agent, err := stringField(m, "agent")
		if err != nil {
			return err
		}
		task, err := stringField(m, "task")
		if err != nil {
			return err
		}
		if agent == "" {
			return fmt.Errorf("%w: agent must not be empty", ErrInvalidStep)
		}
		*s = Step{Kind: KindAgent, Name: name, Agent: agent, Task: task, Condition: condition}
		return nil
	}

	if _, ok := m["command"]; ok {
		cmd, err := stringField(m, "command")
		if err != nil {
			return err
		}
		*s = Step{Kind: KindCommand, Name: name, Command: cmd, Condition: condition}
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Errorf("%w: map with keys %v has no command, agent or parallel", ErrInvalidStep, keys)
}

// asList flattens the list types decoders produce for an array.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

func stringField(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidStep, key)
	}
	return str, nil
}

func (s Step) toAny() any {
	switch s.Kind {
	case KindGroup:
		list := make([]any, len(s.Members))
		for i, m := range s.Members {
			list[i] = m.toAny()
		}
		return list

	case KindParallel:
		list := make([]any, len(s.Members))
		for i, m := range s.Members {
			list[i] = m.toAny()
		}
		out := map[string]any{"parallel": list}
		s.putCommon(out)
		return out

	case KindAgent:
		out := map[string]any{"agent": s.Agent}
		if s.Task != "" {
			out["task"] = s.Task
		}
		s.putCommon(out)
		return out
	}

	if s.Bare && s.Name == "" && s.Condition == "" {
		return s.Command
	}
	out := map[string]any{"command": s.Command}
	s.putCommon(out)
	return out
}

func (s Step) putCommon(out map[string]any) {
	if s.Name != "" {
		out["name"] = s.Name
	}
	if s.Condition != "" {
		out["condition"] = s.Condition
	}
}
