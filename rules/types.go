package rules

import "time"

// Operator names a comparison applied by a Condition leaf
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpIncludes    Operator = "includes"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
)

// Combinator joins the children of a ConditionGroup
type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

// ActionType names the effect a Rule applies when its condition holds
type ActionType string

const (
	ActionShow        ActionType = "show"
	ActionHide        ActionType = "hide"
	ActionEnable      ActionType = "enable"
	ActionDisable     ActionType = "disable"
	ActionSetValue    ActionType = "setValue"
	ActionShowMessage ActionType = "showMessage"
)

// Mode tells the engine whether it runs inside the form editor or the live form.
// The zero value is ModeRuntime.
type Mode string

const (
	ModeRuntime Mode = "runtime"
	ModeBuilder Mode = "builder"
)

// Node is one element of a condition tree.
// It is implemented only by *Condition, *ConditionGroup and *ExpressionCondition.
type Node interface {
	NodeID() string
	isNode()
}

// Condition is a single comparison against the current value of one field
type Condition struct {
	ID       string   `json:"id,omitempty"`
	FieldRef string   `json:"fieldRef"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// ExpressionCondition is a leaf holding a CEL boolean expression over `answers`
type ExpressionCondition struct {
	ID         string `json:"id,omitempty"`
	Expression string `json:"expression"`
}

// ConditionGroup combines child nodes with AND or OR.
// A group without children always holds.
type ConditionGroup struct {
	ID         string     `json:"id,omitempty"`
	Combinator Combinator `json:"combinator"`
	Children   []Node     `json:"children"`
}

func (c *Condition) NodeID() string           { return c.ID }
func (c *ExpressionCondition) NodeID() string { return c.ID }
func (g *ConditionGroup) NodeID() string      { return g.ID }

func (*Condition) isNode()           {}
func (*ExpressionCondition) isNode() {}
func (*ConditionGroup) isNode()      {}

// Action is the effect of a Rule.
// Every type except showMessage needs TargetFieldRef. A setValue action may carry an
// Expression instead of a literal Value; its result becomes the forced value.
type Action struct {
	ID             string     `json:"id,omitempty"`
	Type           ActionType `json:"type"`
	TargetFieldRef string     `json:"targetFieldRef,omitempty"`
	Value          any        `json:"value,omitempty"`
	Expression     string     `json:"expression,omitempty"`
}

// Rule pairs a condition tree with one action.
// Disabled rules stay in the rule set but are never evaluated.
type Rule struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Enabled   bool            `json:"enabled"`
	Condition *ConditionGroup `json:"condition"`
	Action    *Action         `json:"action"`
}

// RuleSet is evaluated in authored order; later rules win per aspect
type RuleSet []*Rule

// AnswerSet maps a field id to the value the user entered
type AnswerSet map[string]any

// FormField is the part of a form field the engine needs
type FormField struct {
	ID       string `json:"id"`
	Label    string `json:"label,omitempty"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
	BlockID  string `json:"blockId,omitempty"`
}

// Block is one step of a multi-step form
type Block struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// Schema is the persisted definition of a form: its steps, fields and rules
type Schema struct {
	ID        string      `json:"id"`
	Title     string      `json:"title,omitempty"`
	Version   int         `json:"version,omitempty"`
	Blocks    []Block     `json:"blocks,omitempty"`
	Fields    []FormField `json:"fields"`
	Rules     RuleSet     `json:"rules,omitempty"`
	CreatedAt time.Time   `json:"createdAt,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt,omitempty"`
}

// FieldState is the computed runtime state of one field.
// It is rebuilt from scratch on every evaluation.
type FieldState struct {
	Visible     bool `json:"visible"`
	Disabled    bool `json:"disabled"`
	Forced      bool `json:"forced,omitempty"`
	ForcedValue any  `json:"forcedValue,omitempty"`
}

// DefaultFieldState is the state of a field no rule touched
func DefaultFieldState() FieldState {
	return FieldState{Visible: true}
}

// Message is emitted by a showMessage action
type Message struct {
	RuleID  string `json:"ruleId"`
	Text    string `json:"text"`
	FieldID string `json:"fieldId,omitempty"`
}

// Result is the output of one evaluation pass
type Result struct {
	States   map[string]FieldState `json:"states"`
	Messages []Message             `json:"messages"`
	Warnings []Warning             `json:"warnings"`
}

// State returns the state of fieldID, or the default state when the field is unknown
func (r Result) State(fieldID string) FieldState {
	if st, ok := r.States[fieldID]; ok {
		return st
	}
	return DefaultFieldState()
}
