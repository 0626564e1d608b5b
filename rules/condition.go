package rules

import (
	"errors"
	"fmt"
	"strings"
)

// MaxConditionDepth bounds condition tree recursion. A group nested deeper than this
// evaluates to false.
const MaxConditionDepth = 50

// ExpressionEvaluator evaluates CEL expressions for expression leaves and calculated values
type ExpressionEvaluator interface {
	EvalBool(expression string, answers AnswerSet) (bool, error)
	EvalValue(expression string, answers AnswerSet) (any, error)
}

// evaluation carries the inputs and the warning sink of one condition tree walk
type evaluation struct {
	answers AnswerSet
	fields  map[string]struct{} // nil when field references are not checked
	exprs   ExpressionEvaluator
	ruleID  string
	warn    func(Warning)
}

// EvaluateGroup evaluates a condition tree against answers.
// Problems in the tree make the affected leaves false; use EvaluateGroupWithWarnings
// to see them.
func EvaluateGroup(group *ConditionGroup, answers AnswerSet) bool {
	ok, _ := EvaluateGroupWithWarnings(group, answers)
	return ok
}

// EvaluateGroupWithWarnings is EvaluateGroup that also returns the warnings raised
func EvaluateGroupWithWarnings(group *ConditionGroup, answers AnswerSet) (bool, []Warning) {
	var warnings []Warning
	ev := &evaluation{
		answers: answers,
		exprs:   defaultExpressions(),
		warn:    func(w Warning) { warnings = append(warnings, w) },
	}
	return ev.group(group, 1), warnings
}

func (ev *evaluation) node(n Node, depth int) bool {
	switch n := n.(type) {
	case *ConditionGroup:
		return ev.group(n, depth)
	case *Condition:
		if n != nil {
			return ev.condition(n)
		}
	case *ExpressionCondition:
		if n != nil {
			return ev.expression(n)
		}
	case nil:
	default:
		ev.warn(Warning{Kind: WarnMalformedRule, RuleID: ev.ruleID, Detail: fmt.Sprintf("unsupported condition node %T", n)})
		return false
	}
	ev.warn(Warning{Kind: WarnMalformedRule, RuleID: ev.ruleID, Detail: "condition tree contains an empty node"})
	return false
}

func (ev *evaluation) group(g *ConditionGroup, depth int) bool {
	if g == nil {
		return true
	}
	if depth > MaxConditionDepth {
		ev.warn(Warning{
			Kind:   WarnExcessiveDepth,
			RuleID: ev.ruleID,
			NodeID: g.ID,
			Detail: fmt.Sprintf("condition tree deeper than %d levels", MaxConditionDepth),
		})
		return false
	}
	if len(g.Children) == 0 {
		return true
	}

	switch Combinator(strings.ToUpper(string(g.Combinator))) {
	case CombinatorAnd, "":
		for _, child := range g.Children {
			if !ev.node(child, depth+1) {
				return false
			}
		}
		return true
	case CombinatorOr:
		for _, child := range g.Children {
			if ev.node(child, depth+1) {
				return true
			}
		}
		return false
	default:
		ev.warn(Warning{
			Kind:   WarnMalformedRule,
			RuleID: ev.ruleID,
			NodeID: g.ID,
			Detail: fmt.Sprintf("unknown combinator %q", g.Combinator),
		})
		return false
	}
}

func (ev *evaluation) condition(c *Condition) bool {
	var current any
	if ev.fields != nil {
		if _, ok := ev.fields[c.FieldRef]; !ok {
			ev.warn(Warning{
				Kind:    WarnDanglingField,
				RuleID:  ev.ruleID,
				NodeID:  c.ID,
				FieldID: c.FieldRef,
				Detail:  fmt.Sprintf("condition references unknown field %q", c.FieldRef),
			})
		} else {
			current = ev.answers[c.FieldRef]
		}
	} else {
		current = ev.answers[c.FieldRef]
	}

	matched, err := EvaluateOperator(c.Operator, current, c.Value)
	if err != nil {
		var unknown *UnknownOperatorError
		if errors.As(err, &unknown) {
			ev.warn(Warning{Kind: WarnUnknownOperator, RuleID: ev.ruleID, NodeID: c.ID, FieldID: c.FieldRef, Detail: err.Error()})
		}
		return false
	}
	return matched
}

func (ev *evaluation) expression(e *ExpressionCondition) bool {
	if ev.exprs == nil {
		ev.warn(Warning{Kind: WarnExpression, RuleID: ev.ruleID, NodeID: e.ID, Detail: "expression conditions are not available"})
		return false
	}
	matched, err := ev.exprs.EvalBool(e.Expression, ev.answers)
	if err != nil {
		ev.warn(Warning{Kind: WarnExpression, RuleID: ev.ruleID, NodeID: e.ID, Detail: err.Error()})
		return false
	}
	return matched
}

// Depth returns the nesting depth of a condition tree; a group with only leaves has depth 1.
// Counting stops at limit+1 so pathological trees are not walked in full.
func Depth(g *ConditionGroup, limit int) int {
	if g == nil {
		return 0
	}
	return depth(g, 1, limit)
}

func depth(g *ConditionGroup, level, limit int) int {
	if level > limit {
		return level
	}
	deepest := level
	for _, child := range g.Children {
		sub, ok := child.(*ConditionGroup)
		if !ok || sub == nil {
			continue
		}
		if d := depth(sub, level+1, limit); d > deepest {
			deepest = d
		}
	}
	return deepest
}

// Walk calls fn for every node of the tree in depth-first order, stopping below
// MaxConditionDepth
func Walk(g *ConditionGroup, fn func(Node)) {
	walk(g, 1, fn)
}

func walk(g *ConditionGroup, level int, fn func(Node)) {
	if g == nil || level > MaxConditionDepth {
		return
	}
	fn(g)
	for _, child := range g.Children {
		if sub, ok := child.(*ConditionGroup); ok {
			walk(sub, level+1, fn)
			continue
		}
		if child != nil {
			fn(child)
		}
	}
}
