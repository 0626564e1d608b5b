// Package navigator drives a multi-step form: it partitions fields into ordered steps
// and filters each step through the field states computed by the rules engine.
package navigator

import (
	"github.com/liamcoop/formrules/rules"
)

// Step is one block of the form together with the fields it contains, in authored order
type Step struct {
	Block  rules.Block       `json:"block"`
	Fields []rules.FormField `json:"fields"`
}

// Navigator tracks the active step. The index always lies in [0, StepCount()-1].
// A Navigator is not safe for concurrent use; sessions own one each.
type Navigator struct {
	steps  []Step
	fields []rules.FormField
	index  int
}

// New partitions fields into steps, one per block in order. Fields whose BlockID
// matches no block land in the first step. A form without blocks has a single step.
func New(blocks []rules.Block, fields []rules.FormField) *Navigator {
	if len(blocks) == 0 {
		blocks = []rules.Block{{}}
	}

	steps := make([]Step, len(blocks))
	position := make(map[string]int, len(blocks))
	for i, b := range blocks {
		steps[i] = Step{Block: b, Fields: []rules.FormField{}}
		if _, dup := position[b.ID]; !dup {
			position[b.ID] = i
		}
	}

	for _, f := range fields {
		i, ok := position[f.BlockID]
		if !ok {
			i = 0
		}
		steps[i].Fields = append(steps[i].Fields, f)
	}

	return &Navigator{steps: steps, fields: fields}
}

// StepIndex returns the zero-based index of the active step
func (n *Navigator) StepIndex() int { return n.index }

// StepCount returns the number of steps, at least 1
func (n *Navigator) StepCount() int { return len(n.steps) }

// Step returns the active step
func (n *Navigator) Step() Step { return n.steps[n.index] }

// Steps returns every step in order
func (n *Navigator) Steps() []Step { return n.steps }

// Next moves forward one step, staying on the last step
func (n *Navigator) Next() int { return n.GoTo(n.index + 1) }

// Prev moves back one step, staying on the first step
func (n *Navigator) Prev() int { return n.GoTo(n.index - 1) }

// GoTo moves to step i, clamped to the valid range, and returns the new index
func (n *Navigator) GoTo(i int) int {
	switch {
	case i < 0:
		i = 0
	case i > len(n.steps)-1:
		i = len(n.steps) - 1
	}
	n.index = i
	return i
}

func (n *Navigator) IsFirst() bool { return n.index == 0 }

// IsLast reports whether the active step is the terminal one, where submit is offered
func (n *Navigator) IsLast() bool { return n.index == len(n.steps)-1 }

// CurrentFields returns the visible fields of the active step.
// Disabled fields are included; they render but reject changes.
func (n *Navigator) CurrentFields(states map[string]rules.FieldState) []rules.FormField {
	return visible(n.Step().Fields, states)
}

// RequiredFields returns the visible required fields of the active step
func (n *Navigator) RequiredFields(states map[string]rules.FieldState) []rules.FormField {
	var out []rules.FormField
	for _, f := range n.CurrentFields(states) {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// MissingRequired returns the ids of visible required fields of the active step
// that have no value. A forced value counts as the field's value.
func (n *Navigator) MissingRequired(states map[string]rules.FieldState, answers rules.AnswerSet) []string {
	return missing(n.Step().Fields, states, answers)
}

// MissingRequiredAll is MissingRequired across every step
func (n *Navigator) MissingRequiredAll(states map[string]rules.FieldState, answers rules.AnswerSet) []string {
	return missing(n.fields, states, answers)
}

// CanAdvance reports whether the active step is complete
func (n *Navigator) CanAdvance(states map[string]rules.FieldState, answers rules.AnswerSet) bool {
	return len(n.MissingRequired(states, answers)) == 0
}

// CanSubmit reports whether the form can be submitted: the last step is active and
// no visible required field anywhere in the form is empty
func (n *Navigator) CanSubmit(states map[string]rules.FieldState, answers rules.AnswerSet) bool {
	return n.IsLast() && len(n.MissingRequiredAll(states, answers)) == 0
}

// Payload builds the submission payload. Hidden fields are left out and forced values
// replace the user's answers. Visible fields without an answer are omitted.
func (n *Navigator) Payload(states map[string]rules.FieldState, answers rules.AnswerSet) map[string]any {
	out := make(map[string]any, len(n.fields))
	for _, f := range n.fields {
		st := stateOf(states, f.ID)
		if !st.Visible {
			continue
		}
		if v, ok := effectiveValue(st, answers, f.ID); ok {
			out[f.ID] = v
		}
	}
	return out
}

// AcceptsChange reports whether the user may change fieldID. Disabled fields reject changes.
func AcceptsChange(states map[string]rules.FieldState, fieldID string) bool {
	return !stateOf(states, fieldID).Disabled
}

func visible(fields []rules.FormField, states map[string]rules.FieldState) []rules.FormField {
	out := make([]rules.FormField, 0, len(fields))
	for _, f := range fields {
		if stateOf(states, f.ID).Visible {
			out = append(out, f)
		}
	}
	return out
}

func missing(fields []rules.FormField, states map[string]rules.FieldState, answers rules.AnswerSet) []string {
	var ids []string
	for _, f := range fields {
		if !f.Required {
			continue
		}
		st := stateOf(states, f.ID)
		if !st.Visible {
			continue
		}
		v, _ := effectiveValue(st, answers, f.ID)
		if rules.IsEmpty(v) {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

func effectiveValue(st rules.FieldState, answers rules.AnswerSet, fieldID string) (any, bool) {
	if st.Forced {
		return st.ForcedValue, true
	}
	v, ok := answers[fieldID]
	return v, ok
}

// stateOf falls back to the default state for fields the engine did not report
func stateOf(states map[string]rules.FieldState, fieldID string) rules.FieldState {
	if st, ok := states[fieldID]; ok {
		return st
	}
	return rules.DefaultFieldState()
}
