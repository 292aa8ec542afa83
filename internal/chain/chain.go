// Package chain defines the chain definition data model.
//
// A chain is a named, ordered list of steps plus optional trigger and
// prerequisite conditions, context defaults, checkpoint markers and
// completion handlers. Definitions are stored as YAML or TOML; both formats
// decode through the same normalisation so a step always re-encodes to the
// shape it was written in.
//
// Key types:
//   - [Chain] is one named definition
//   - [Step] is one slot in a chain's step list, in one of five shapes
package chain

import "chainctl/internal/expr"

// Trigger decides whether a chain is offered for auto-run.
type Trigger struct {
	Conditions *expr.Condition `yaml:"conditions,omitempty" toml:"conditions,omitempty" json:"conditions,omitempty"`
	Prompt     string          `yaml:"prompt,omitempty" toml:"prompt,omitempty" json:"prompt,omitempty"`
}

// Prerequisites gate execution. Error is reported when the gate fails.
type Prerequisites struct {
	Conditions *expr.Condition `yaml:"conditions,omitempty" toml:"conditions,omitempty" json:"conditions,omitempty"`
	Error      string          `yaml:"error,omitempty" toml:"error,omitempty" json:"error,omitempty"`
}

// ContextSpec declares a chain's context defaults and which keys outlive a run.
type ContextSpec struct {
	Values  map[string]any `yaml:"values,omitempty" toml:"values,omitempty" json:"values,omitempty"`
	Save    []string       `yaml:"save,omitempty" toml:"save,omitempty" json:"save,omitempty"`
	Inherit bool           `yaml:"inherit,omitempty" toml:"inherit,omitempty" json:"inherit,omitempty"`
}

// Chain is a named workflow definition.
//
// Name is the key the chain is stored under; it is not serialised inside the
// definition itself.
type Chain struct {
	Name          string         `yaml:"-" toml:"-" json:"name"`
	Description   string         `yaml:"description,omitempty" toml:"description,omitempty" json:"description,omitempty"`
	Steps         []Step         `yaml:"steps" toml:"steps" json:"steps"`
	Triggers      *Trigger       `yaml:"triggers,omitempty" toml:"triggers,omitempty" json:"triggers,omitempty"`
	Prerequisites *Prerequisites `yaml:"prerequisites,omitempty" toml:"prerequisites,omitempty" json:"prerequisites,omitempty"`
	Context       ContextSpec    `yaml:"context,omitempty" toml:"context,omitempty" json:"context,omitempty"`
	Checkpoints   []string       `yaml:"checkpoints,omitempty" toml:"checkpoints,omitempty" json:"checkpoints,omitempty"`
	OnSuccess     string         `yaml:"on-success,omitempty" toml:"on-success,omitempty" json:"on_success,omitempty"`
	OnFailure     string         `yaml:"on-failure,omitempty" toml:"on-failure,omitempty" json:"on_failure,omitempty"`
	FailFast      bool           `yaml:"fail-fast,omitempty" toml:"fail-fast,omitempty" json:"fail_fast,omitempty"`
}

// Compile parses every condition in the chain once.
func (c *Chain) Compile() {
	if c.Triggers != nil {
		c.Triggers.Conditions.Compile()
	}
	if c.Prerequisites != nil {
		c.Prerequisites.Conditions.Compile()
	}
	for i := range c.Steps {
		c.Steps[i].Compile()
	}
}

// TriggerCondition returns the trigger condition, or nil when none is declared.
func (c *Chain) TriggerCondition() *expr.Condition {
	if c.Triggers == nil {
		return nil
	}
	return c.Triggers.Conditions
}

// PrerequisiteCondition returns the prerequisite condition, or nil.
func (c *Chain) PrerequisiteCondition() *expr.Condition {
	if c.Prerequisites == nil {
		return nil
	}
	return c.Prerequisites.Conditions
}

// Map renders the definition as plain maps and slices for encoders that do not
// consult marshaler interfaces on nested values.
func (c *Chain) Map() map[string]any {
	out := map[string]any{}
	if c.Description != "" {
		out["description"] = c.Description
	}
	steps := make([]any, len(c.Steps))
	for i, s := range c.Steps {
		steps[i] = s.toAny()
	}
	out["steps"] = steps
	if c.Triggers != nil {
		t := map[string]any{}
		if m := conditionMap(c.Triggers.Conditions); m != nil {
			t["conditions"] = m
		}
		if c.Triggers.Prompt != "" {
			t["prompt"] = c.Triggers.Prompt
		}
		out["triggers"] = t
	}
	if c.Prerequisites != nil {
		p := map[string]any{}
		if m := conditionMap(c.Prerequisites.Conditions); m != nil {
			p["conditions"] = m
		}
		if c.Prerequisites.Error != "" {
			p["error"] = c.Prerequisites.Error
		}
		out["prerequisites"] = p
	}
	ctx := map[string]any{}
	if len(c.Context.Values) > 0 {
		ctx["values"] = c.Context.Values
	}
	if len(c.Context.Save) > 0 {
		ctx["save"] = c.Context.Save
	}
	if c.Context.Inherit {
		ctx["inherit"] = true
	}
	if len(ctx) > 0 {
		out["context"] = ctx
	}
	if len(c.Checkpoints) > 0 {
		out["checkpoints"] = c.Checkpoints
	}
	if c.OnSuccess != "" {
		out["on-success"] = c.OnSuccess
	}
	if c.OnFailure != "" {
		out["on-failure"] = c.OnFailure
	}
	if c.FailFast {
		out["fail-fast"] = true
	}
	return out
}

func conditionMap(c *expr.Condition) map[string]any {
	if c.IsEmpty() {
		return nil
	}
	m := map[string]any{}
	if len(c.All) > 0 {
		m["all"] = c.All
	}
	if len(c.Any) > 0 {
		m["any"] = c.Any
	}
	if len(c.None) > 0 {
		m["none"] = c.None
	}
	return m
}
