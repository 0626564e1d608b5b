package rules

import "fmt"

// actionSpec describes how one action type touches field state.
// apply is nil for actions that do not write field state.
type actionSpec struct {
	targeted bool
	apply    func(state *FieldState, value any)
}

// actionSpecs is the closed set of action types. Each entry overwrites exactly one
// aspect of the target's state, which is what makes conflicts resolve per aspect.
var actionSpecs = map[ActionType]actionSpec{
	ActionShow:     {targeted: true, apply: func(s *FieldState, _ any) { s.Visible = true }},
	ActionHide:     {targeted: true, apply: func(s *FieldState, _ any) { s.Visible = false }},
	ActionEnable:   {targeted: true, apply: func(s *FieldState, _ any) { s.Disabled = false }},
	ActionDisable:  {targeted: true, apply: func(s *FieldState, _ any) { s.Disabled = true }},
	ActionSetValue: {targeted: true, apply: func(s *FieldState, v any) { s.Forced, s.ForcedValue = true, v }},

	ActionShowMessage: {targeted: false},
}

// ActionTypes lists every supported action type
func ActionTypes() []ActionType {
	return []ActionType{ActionShow, ActionHide, ActionEnable, ActionDisable, ActionSetValue, ActionShowMessage}
}

// KnownActionType reports whether t has an implementation
func KnownActionType(t ActionType) bool {
	_, ok := actionSpecs[t]
	return ok
}

// RequiresTarget reports whether actions of type t need a target field
func RequiresTarget(t ActionType) bool {
	return actionSpecs[t].targeted
}

// Resolve computes field states with a shared default engine.
// See Engine.Resolve.
func Resolve(ruleSet RuleSet, fields []FormField, answers AnswerSet) Result {
	en, _ := defaultExpressions().(*Engine)
	if en == nil {
		en = &Engine{}
	}
	return en.Resolve(ruleSet, fields, answers)
}

// Resolve starts every field at the default state and then walks the enabled rules
// in authored order. Each matching rule overwrites one aspect of its target, so the
// last matching rule wins per aspect. Malformed rules and rules that target unknown
// fields are skipped with a warning; the rest of the rule set is unaffected.
func (en *Engine) Resolve(ruleSet RuleSet, fields []FormField, answers AnswerSet) Result {
	res := Result{
		States:   make(map[string]FieldState, len(fields)),
		Messages: []Message{},
		Warnings: []Warning{},
	}
	known := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		res.States[f.ID] = DefaultFieldState()
		known[f.ID] = struct{}{}
	}

	warn := func(w Warning) { res.Warnings = append(res.Warnings, w) }

	var exprs ExpressionEvaluator
	if en.env != nil {
		exprs = en
	}

	for i, rule := range ruleSet {
		if rule == nil {
			warn(Warning{Kind: WarnMalformedRule, Detail: fmt.Sprintf("rule at position %d is empty", i)})
			continue
		}
		if !rule.Enabled {
			continue
		}

		spec, ok := checkAction(rule, known, warn)
		if !ok {
			continue
		}

		ev := &evaluation{
			answers: answers,
			fields:  known,
			exprs:   exprs,
			ruleID:  rule.ID,
			warn:    warn,
		}
		if !ev.group(rule.Condition, 1) {
			continue
		}

		action := rule.Action
		if !spec.targeted {
			res.Messages = append(res.Messages, Message{
				RuleID:  rule.ID,
				Text:    toText(action.Value),
				FieldID: action.TargetFieldRef,
			})
			continue
		}

		value := action.Value
		if action.Type == ActionSetValue && action.Expression != "" {
			if exprs == nil {
				warn(Warning{Kind: WarnExpression, RuleID: rule.ID, FieldID: action.TargetFieldRef, Detail: "calculated values are not available"})
				continue
			}
			computed, err := exprs.EvalValue(action.Expression, answers)
			if err != nil {
				warn(Warning{Kind: WarnExpression, RuleID: rule.ID, FieldID: action.TargetFieldRef, Detail: err.Error()})
				continue
			}
			value = computed
		}

		state := res.States[action.TargetFieldRef]
		spec.apply(&state, value)
		res.States[action.TargetFieldRef] = state
	}

	return res
}

// checkAction validates the action of an enabled rule before its condition is evaluated
func checkAction(rule *Rule, known map[string]struct{}, warn func(Warning)) (actionSpec, bool) {
	action := rule.Action
	if action == nil {
		warn(Warning{Kind: WarnMalformedRule, RuleID: rule.ID, Detail: "rule has no action"})
		return actionSpec{}, false
	}
	if action.Type == "" {
		warn(Warning{Kind: WarnMalformedRule, RuleID: rule.ID, Detail: "action has no type"})
		return actionSpec{}, false
	}

	spec, ok := actionSpecs[action.Type]
	if !ok {
		warn(Warning{Kind: WarnMalformedRule, RuleID: rule.ID, Detail: fmt.Sprintf("unknown action type %q", action.Type)})
		return actionSpec{}, false
	}

	if !spec.targeted {
		if action.Value == nil {
			warn(Warning{Kind: WarnMalformedRule, RuleID: rule.ID, Detail: "showMessage action has no text"})
			return actionSpec{}, false
		}
		return spec, true
	}

	if action.TargetFieldRef == "" {
		warn(Warning{Kind: WarnMalformedRule, RuleID: rule.ID, Detail: fmt.Sprintf("%s action has no target field", action.Type)})
		return actionSpec{}, false
	}
	if _, ok := known[action.TargetFieldRef]; !ok {
		warn(Warning{
			Kind:    WarnDanglingField,
			RuleID:  rule.ID,
			FieldID: action.TargetFieldRef,
			Detail:  fmt.Sprintf("action targets unknown field %q", action.TargetFieldRef),
		})
		return actionSpec{}, false
	}
	return spec, true
}
