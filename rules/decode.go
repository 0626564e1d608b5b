package rules

import (
	"encoding/json"
	"fmt"
)

// rawNode accepts every shape a condition tree node can take in stored schemas
type rawNode struct {
	ID              string            `json:"id"`
	Combinator      Combinator        `json:"combinator"`
	Children        []json.RawMessage `json:"children"`
	Expression      string            `json:"expression"`
	FieldRef        string            `json:"fieldRef"`
	Field           string            `json:"field"`
	Operator        Operator          `json:"operator"`
	Value           any               `json:"value"`
	ComparisonValue any               `json:"comparisonValue"`
}

// UnmarshalJSON decodes a group and its children. A child with `children` or
// `combinator` is a group, a child with `expression` is an expression leaf and
// anything else is a condition leaf. Trees nested deeper than MaxConditionDepth
// are rejected with ErrConditionTooDeep.
func (g *ConditionGroup) UnmarshalJSON(data []byte) error {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid condition group: %w", err)
	}
	group, err := raw.group(1)
	if err != nil {
		return err
	}
	*g = *group
	return nil
}

func (r *rawNode) group(level int) (*ConditionGroup, error) {
	if level > MaxConditionDepth {
		return nil, fmt.Errorf("group %q at level %d: %w", r.ID, level, ErrConditionTooDeep)
	}
	g := &ConditionGroup{
		ID:         r.ID,
		Combinator: r.Combinator,
		Children:   make([]Node, 0, len(r.Children)),
	}
	for i, child := range r.Children {
		n, err := decodeNode(child, level+1)
		if err != nil {
			return nil, fmt.Errorf("child %d of group %q: %w", i, r.ID, err)
		}
		g.Children = append(g.Children, n)
	}
	return g, nil
}

func decodeNode(data []byte, level int) (Node, error) {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid condition node: %w", err)
	}

	switch {
	case raw.Children != nil || raw.Combinator != "":
		return raw.group(level)
	case raw.Expression != "":
		return &ExpressionCondition{ID: raw.ID, Expression: raw.Expression}, nil
	}

	c := &Condition{
		ID:       raw.ID,
		FieldRef: raw.FieldRef,
		Operator: raw.Operator,
		Value:    raw.Value,
	}
	if c.FieldRef == "" {
		c.FieldRef = raw.Field
	}
	if c.Value == nil {
		c.Value = raw.ComparisonValue
	}
	return c, nil
}

// MarshalJSON writes children with their concrete shape
func (g *ConditionGroup) MarshalJSON() ([]byte, error) {
	children := g.Children
	if children == nil {
		children = []Node{}
	}
	return json.Marshal(struct {
		ID         string     `json:"id,omitempty"`
		Combinator Combinator `json:"combinator"`
		Children   []Node     `json:"children"`
	}{g.ID, g.Combinator, children})
}

// UnmarshalJSON defaults Enabled to true when the key is absent
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	aux := struct {
		*plain
		Enabled *bool `json:"enabled"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}
	r.Enabled = aux.Enabled == nil || *aux.Enabled
	return nil
}

// ParseSchema decodes a JSON form schema
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return &s, nil
}
