package rules

import (
	"encoding/json"
	"errors"
	"testing"
)

// TestOperatorTableIsComplete fails when an operator is declared without an implementation
func TestOperatorTableIsComplete(t *testing.T) {
	for _, op := range Operators() {
		if !KnownOperator(op) {
			t.Errorf("operator %q has no implementation", op)
		}
	}
	if len(operators) != len(Operators()) {
		t.Errorf("operator table has %d entries, Operators() lists %d", len(operators), len(Operators()))
	}
}

func TestEvaluateOperator(t *testing.T) {
	tests := []struct {
		name       string
		op         Operator
		current    any
		comparison any
		want       bool
	}{
		{"equals same string", OpEquals, "yes", "yes", true},
		{"equals trims whitespace", OpEquals, " yes ", "yes", true},
		{"equals is case sensitive", OpEquals, "Yes", "yes", false},
		{"equals numeric string and number", OpEquals, "10", 10, true},
		{"equals float and int", OpEquals, 3.0, 3, true},
		{"equals json number", OpEquals, json.Number("42"), "42", true},
		{"equals nil and empty string", OpEquals, nil, "", true},
		{"equals bool and text", OpEquals, true, "true", true},
		{"not equals differing", OpNotEquals, "a", "b", true},
		{"not equals same", OpNotEquals, "a", "a", false},

		{"greater than numbers", OpGreaterThan, 10, 5, true},
		{"greater than numeric strings", OpGreaterThan, "10", "9", true},
		{"greater than equal values", OpGreaterThan, 5, 5, false},
		{"greater than non numeric", OpGreaterThan, "abc", 5, false},
		{"greater than nil", OpGreaterThan, nil, 0, false},
		{"greater than empty string", OpGreaterThan, "", -1, false},
		{"less than numbers", OpLessThan, 3, 7.5, true},
		{"less than non numeric comparison", OpLessThan, 3, "seven", false},
		{"less than bool", OpLessThan, false, 1, false},

		{"contains substring", OpContains, "Hello World", "world", true},
		{"contains missing substring", OpContains, "Hello", "bye", false},
		{"contains list member", OpContains, []any{"a", "b"}, "b", true},
		{"contains list non member", OpContains, []any{"a", "b"}, "c", false},
		{"contains string slice", OpContains, []string{"x"}, "x", true},
		{"contains nil", OpContains, nil, "x", false},
		{"not contains substring", OpNotContains, "Hello", "xyz", true},
		{"not contains nil", OpNotContains, nil, "x", true},

		{"includes list member", OpIncludes, []any{"red", "green"}, "green", true},
		{"includes numeric member", OpIncludes, []any{1.0, 2.0}, 2, true},
		{"includes non member", OpIncludes, []any{"red"}, "blue", false},
		{"includes scalar selection", OpIncludes, "red", "red", true},
		{"includes does not match substrings", OpIncludes, "redish", "red", false},
		{"includes nil", OpIncludes, nil, "red", false},

		{"is empty nil", OpIsEmpty, nil, nil, true},
		{"is empty empty string", OpIsEmpty, "", nil, true},
		{"is empty whitespace", OpIsEmpty, "  ", nil, false},
		{"is empty empty list", OpIsEmpty, []any{}, nil, true},
		{"is empty zero", OpIsEmpty, 0, nil, false},
		{"is empty false", OpIsEmpty, false, nil, false},
		{"is empty empty map", OpIsEmpty, map[string]any{}, nil, true},
		{"is not empty value", OpIsNotEmpty, "x", nil, true},
		{"is not empty nil", OpIsNotEmpty, nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateOperator(tt.op, tt.current, tt.comparison)
			if err != nil {
				t.Fatalf("EvaluateOperator() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("EvaluateOperator(%s, %#v, %#v) = %v, want %v", tt.op, tt.current, tt.comparison, got, tt.want)
			}
		})
	}
}

func TestEvaluateOperatorUnknown(t *testing.T) {
	got, err := EvaluateOperator("matches_regex", "abc", "a.c")
	if got {
		t.Error("unknown operator should evaluate to false")
	}

	var unknown *UnknownOperatorError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownOperatorError, got %v", err)
	}
	if unknown.Operator != "matches_regex" {
		t.Errorf("Operator = %q, want %q", unknown.Operator, "matches_regex")
	}
}

func TestToNumberRejectsNonFinite(t *testing.T) {
	for _, v := range []any{"NaN", "Inf", "-Inf", "1e999"} {
		if _, ok := toNumber(v); ok {
			t.Errorf("toNumber(%q) should fail", v)
		}
	}
}
