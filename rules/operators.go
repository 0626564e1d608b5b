package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

type operatorFunc func(current, comparison any) bool

// operators is the complete operator table. Adding an Operator constant without an
// entry here makes it unknown at runtime and fails TestOperatorTableIsComplete.
var operators = map[Operator]operatorFunc{
	OpEquals:      valuesEqual,
	OpNotEquals:   func(c, v any) bool { return !valuesEqual(c, v) },
	OpGreaterThan: func(c, v any) bool { return compareNumbers(c, v, func(a, b float64) bool { return a > b }) },
	OpLessThan:    func(c, v any) bool { return compareNumbers(c, v, func(a, b float64) bool { return a < b }) },
	OpContains:    contains,
	OpNotContains: func(c, v any) bool { return !contains(c, v) },
	OpIncludes:    includes,
	OpIsEmpty:     func(c, _ any) bool { return IsEmpty(c) },
	OpIsNotEmpty:  func(c, _ any) bool { return !IsEmpty(c) },
}

// Operators lists every supported operator
func Operators() []Operator {
	return []Operator{
		OpEquals, OpNotEquals, OpGreaterThan, OpLessThan,
		OpContains, OpNotContains, OpIncludes, OpIsEmpty, OpIsNotEmpty,
	}
}

// KnownOperator reports whether op has an implementation
func KnownOperator(op Operator) bool {
	_, ok := operators[op]
	return ok
}

// EvaluateOperator applies op to the current field value and the comparison value.
// An unknown operator yields false and an *UnknownOperatorError; callers treat that
// error as a warning, never as a failure.
func EvaluateOperator(op Operator, current, comparison any) (bool, error) {
	fn, ok := operators[op]
	if !ok {
		return false, &UnknownOperatorError{Operator: op}
	}
	return fn(current, comparison), nil
}

// IsEmpty reports whether v is nil, the empty string or an empty list or map
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// valuesEqual compares numerically when both sides parse as numbers, otherwise as
// trimmed strings
func valuesEqual(a, b any) bool {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return x == y
		}
	}
	return strings.TrimSpace(toText(a)) == strings.TrimSpace(toText(b))
}

// compareNumbers is false whenever either side fails to parse
func compareNumbers(a, b any, cmp func(float64, float64) bool) bool {
	x, ok := toNumber(a)
	if !ok {
		return false
	}
	y, ok := toNumber(b)
	if !ok {
		return false
	}
	return cmp(x, y)
}

// contains tests list membership for lists and a case-insensitive substring match
// for scalars
func contains(current, comparison any) bool {
	if current == nil {
		return false
	}
	if list, ok := asList(current); ok {
		return listHas(list, comparison)
	}
	needle := strings.ToLower(toText(comparison))
	return strings.Contains(strings.ToLower(toText(current)), needle)
}

// includes is list membership only. A scalar answer counts as a one-element selection.
func includes(current, comparison any) bool {
	if current == nil {
		return false
	}
	if list, ok := asList(current); ok {
		return listHas(list, comparison)
	}
	return valuesEqual(current, comparison)
}

func listHas(list []any, want any) bool {
	for _, item := range list {
		if valuesEqual(item, want) {
			return true
		}
	}
	return false
}

// asList returns the elements of a slice or array. Byte slices are not lists.
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
	case []byte:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// toNumber parses v as a finite float64
func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case nil, bool:
		return 0, false
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toText renders v the way it would appear in a form input
func toText(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case json.Number:
		return s.String()
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}
