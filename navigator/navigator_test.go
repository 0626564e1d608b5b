package navigator

import (
	"reflect"
	"testing"

	"github.com/liamcoop/formrules/rules"
)

func threeSteps() *Navigator {
	blocks := []rules.Block{{ID: "one"}, {ID: "two"}, {ID: "three"}}
	fields := []rules.FormField{
		{ID: "A", Required: true, BlockID: "one"},
		{ID: "B", Required: true, BlockID: "one"},
		{ID: "C", BlockID: "two"},
		{ID: "D", Required: true, BlockID: "three"},
		{ID: "orphan", BlockID: "gone"},
	}
	return New(blocks, fields)
}

func ids(fields []rules.FormField) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.ID
	}
	return out
}

func TestNewPartitionsFields(t *testing.T) {
	nav := threeSteps()

	if nav.StepCount() != 3 {
		t.Fatalf("StepCount() = %d, want 3", nav.StepCount())
	}
	want := [][]string{{"A", "B", "orphan"}, {"C"}, {"D"}}
	for i, step := range nav.Steps() {
		if got := ids(step.Fields); !reflect.DeepEqual(got, want[i]) {
			t.Errorf("step %d fields = %v, want %v", i, got, want[i])
		}
	}
}

func TestNewWithoutBlocks(t *testing.T) {
	nav := New(nil, []rules.FormField{{ID: "a"}, {ID: "b", BlockID: "x"}})

	if nav.StepCount() != 1 {
		t.Fatalf("StepCount() = %d, want 1", nav.StepCount())
	}
	if !nav.IsFirst() || !nav.IsLast() {
		t.Error("single step should be both first and last")
	}
	if got := ids(nav.Step().Fields); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("fields = %v", got)
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name string
		move func(n *Navigator) int
		from int
		want int
	}{
		{"next from start", (*Navigator).Next, 0, 1},
		{"next stays on last", (*Navigator).Next, 2, 2},
		{"prev from middle", (*Navigator).Prev, 1, 0},
		{"prev stays on first", (*Navigator).Prev, 0, 0},
		{"goto clamps high", func(n *Navigator) int { return n.GoTo(10) }, 0, 2},
		{"goto clamps low", func(n *Navigator) int { return n.GoTo(-3) }, 2, 0},
		{"goto in range", func(n *Navigator) int { return n.GoTo(1) }, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nav := threeSteps()
			nav.GoTo(tt.from)
			if got := tt.move(nav); got != tt.want {
				t.Errorf("moved to %d, want %d", got, tt.want)
			}
			if nav.StepIndex() != tt.want {
				t.Errorf("StepIndex() = %d, want %d", nav.StepIndex(), tt.want)
			}
		})
	}
}

func TestHiddenFieldsAreExcluded(t *testing.T) {
	nav := threeSteps()
	ruleSet := rules.RuleSet{{
		ID:      "r1",
		Enabled: true,
		Condition: &rules.ConditionGroup{Combinator: rules.CombinatorAnd, Children: []rules.Node{
			&rules.Condition{FieldRef: "A", Operator: rules.OpEquals, Value: "skip"},
		}},
		Action: &rules.Action{Type: rules.ActionHide, TargetFieldRef: "B"},
	}}
	answers := rules.AnswerSet{"A": "skip", "B": "stale"}
	states := rules.Resolve(ruleSet, allFields(nav), answers).States

	if got := ids(nav.CurrentFields(states)); !reflect.DeepEqual(got, []string{"A", "orphan"}) {
		t.Errorf("CurrentFields() = %v", got)
	}
	if got := ids(nav.RequiredFields(states)); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("RequiredFields() = %v", got)
	}
	if missing := nav.MissingRequired(states, rules.AnswerSet{"A": "skip"}); len(missing) != 0 {
		t.Errorf("hidden B should not be required, missing = %v", missing)
	}
	if !nav.CanAdvance(states, rules.AnswerSet{"A": "skip"}) {
		t.Error("step should be complete")
	}

	payload := nav.Payload(states, answers)
	if _, ok := payload["B"]; ok {
		t.Error("hidden B should not be submitted")
	}
	if payload["A"] != "skip" {
		t.Errorf("payload A = %v", payload["A"])
	}
}

func TestMissingRequired(t *testing.T) {
	nav := threeSteps()
	states := map[string]rules.FieldState{}

	tests := []struct {
		name    string
		answers rules.AnswerSet
		want    []string
	}{
		{"nothing answered", nil, []string{"A", "B"}},
		{"empty string", rules.AnswerSet{"A": "", "B": "x"}, []string{"A"}},
		{"empty selection", rules.AnswerSet{"A": []any{}, "B": "x"}, []string{"A"}},
		{"zero counts as answered", rules.AnswerSet{"A": 0, "B": false}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nav.MissingRequired(states, tt.answers)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MissingRequired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestForcedValueSatisfiesRequired(t *testing.T) {
	nav := threeSteps()
	states := map[string]rules.FieldState{
		"A": {Visible: true, Forced: true, ForcedValue: "auto"},
	}
	answers := rules.AnswerSet{"A": "typed", "B": "b"}

	if missing := nav.MissingRequired(states, rules.AnswerSet{"B": "b"}); len(missing) != 0 {
		t.Errorf("forced A should count as answered, missing = %v", missing)
	}
	if got := nav.Payload(states, answers)["A"]; got != "auto" {
		t.Errorf("payload A = %v, want forced value", got)
	}
}

func TestCanSubmit(t *testing.T) {
	nav := threeSteps()
	states := map[string]rules.FieldState{}
	complete := rules.AnswerSet{"A": "a", "B": "b", "D": "d"}

	if nav.CanSubmit(states, complete) {
		t.Error("submit should not be offered before the last step")
	}

	nav.GoTo(2)
	if !nav.CanSubmit(states, complete) {
		t.Error("complete form on last step should be submittable")
	}
	if nav.CanSubmit(states, rules.AnswerSet{"D": "d"}) {
		t.Error("earlier required fields must be answered before submit")
	}

	states["A"] = rules.FieldState{Visible: false}
	states["B"] = rules.FieldState{Visible: false}
	if !nav.CanSubmit(states, rules.AnswerSet{"D": "d"}) {
		t.Error("hidden required fields should not block submit")
	}
}

func TestAcceptsChange(t *testing.T) {
	states := map[string]rules.FieldState{
		"locked": {Visible: true, Disabled: true},
		"open":   {Visible: true},
	}

	if AcceptsChange(states, "locked") {
		t.Error("disabled field should reject changes")
	}
	if !AcceptsChange(states, "open") {
		t.Error("enabled field should accept changes")
	}
	if !AcceptsChange(states, "unreported") {
		t.Error("field without state should accept changes")
	}
}

func allFields(nav *Navigator) []rules.FormField {
	var out []rules.FormField
	for _, s := range nav.Steps() {
		out = append(out, s.Fields...)
	}
	return out
}
