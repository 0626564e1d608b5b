package rules

import (
	"errors"
	"fmt"
)

// ErrSchemaNotFound is returned by a SchemaStore when no form has the requested id
var ErrSchemaNotFound = errors.New("form schema not found")

// ErrSchemaExists is returned by SchemaStore.Add when the id is taken
var ErrSchemaExists = errors.New("form schema already exists")

// ErrConditionTooDeep is returned when decoding a condition tree nested deeper than MaxConditionDepth
var ErrConditionTooDeep = errors.New("condition tree too deep")

// WarningKind classifies a non-fatal problem found while evaluating rules
type WarningKind string

const (
	WarnMalformedRule   WarningKind = "malformed_rule"
	WarnUnknownOperator WarningKind = "unknown_operator"
	WarnExcessiveDepth  WarningKind = "excessive_depth"
	WarnDanglingField   WarningKind = "dangling_field"
	WarnExpression      WarningKind = "expression_error"
)

// Warning is surfaced to the host for diagnostics. Warnings never stop evaluation.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	RuleID  string      `json:"ruleId,omitempty"`
	NodeID  string      `json:"nodeId,omitempty"`
	FieldID string      `json:"fieldId,omitempty"`
	Detail  string      `json:"detail"`
}

func (w Warning) String() string {
	if w.RuleID == "" {
		return fmt.Sprintf("%s: %s", w.Kind, w.Detail)
	}
	return fmt.Sprintf("%s: rule %s: %s", w.Kind, w.RuleID, w.Detail)
}

// UnknownOperatorError is returned by EvaluateOperator for an operator it does not know
type UnknownOperatorError struct {
	Operator Operator
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown operator: %q", e.Operator)
}

// ExpressionError wraps a CEL compile or evaluation failure
type ExpressionError struct {
	Expression string
	Cause      error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("expression %q: %v", e.Expression, e.Cause)
}

func (e *ExpressionError) Unwrap() error {
	return e.Cause
}
