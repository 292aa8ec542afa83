package expr

// Condition is a boolean expression tree with three optional slots.
//
// All must be unanimously true, Any needs one true member when non-empty, and
// None must be unanimously false. A nil or empty Condition is true.
type Condition struct {
	All  []string `yaml:"all,omitempty" toml:"all,omitempty" json:"all,omitempty"`
	Any  []string `yaml:"any,omitempty" toml:"any,omitempty" json:"any,omitempty"`
	None []string `yaml:"none,omitempty" toml:"none,omitempty" json:"none,omitempty"`

	compiled *compiledCondition
}

type compiledCondition struct {
	all, any, none []Expr
}

// Compile parses every slot once. Evaluation uses the compiled form when present.
// Call Compile again after mutating the slots.
func (c *Condition) Compile() {
	if c == nil {
		return
	}
	c.compiled = &compiledCondition{
		all:  ParseAll(c.All),
		any:  ParseAll(c.Any),
		none: ParseAll(c.None),
	}
}

// IsEmpty reports whether the condition has no expressions in any slot.
func (c *Condition) IsEmpty() bool {
	return c == nil || (len(c.All) == 0 && len(c.Any) == 0 && len(c.None) == 0)
}

func (c *Condition) exprs() compiledCondition {
	if c.compiled != nil {
		return *c.compiled
	}
	return compiledCondition{all: ParseAll(c.All), any: ParseAll(c.Any), none: ParseAll(c.None)}
}
