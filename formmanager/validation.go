package formmanager

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/liamcoop/formrules/rules"
)

const (
	// MaxFields is the largest number of fields a form may declare
	MaxFields = 500

	// MaxRules is the largest number of rules a form may declare
	MaxRules = 1000

	maxIdentifierLength = 100
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// ValidationError is one problem found in a form schema
type ValidationError struct {
	RuleID  string `json:"ruleId,omitempty"`
	FieldID string `json:"fieldId,omitempty"`
	NodeID  string `json:"nodeId,omitempty"`
	Reason  string `json:"reason"`
}

func (e *ValidationError) Error() string {
	switch {
	case e.RuleID != "":
		return fmt.Sprintf("rule %q: %s", e.RuleID, e.Reason)
	case e.FieldID != "":
		return fmt.Sprintf("field %q: %s", e.FieldID, e.Reason)
	}
	return e.Reason
}

// ValidationErrors collects every problem found in a schema so authors can fix
// them in one pass
type ValidationErrors struct {
	Errors []*ValidationError `json:"errors"`
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err.Error())
	}
	return b.String()
}

func (e *ValidationErrors) add(err *ValidationError) {
	e.Errors = append(e.Errors, err)
}

// Problems returns the individual validation errors if err wraps a *ValidationErrors.
// Otherwise returns nil.
func Problems(err error) []*ValidationError {
	var v *ValidationErrors
	if errors.As(err, &v) {
		return v.Errors
	}
	return nil
}

var (
	lintEngineOnce sync.Once
	lintEngine     *rules.Engine
	lintEngineErr  error
)

// ValidateSchema checks a schema for authoring mistakes and returns a
// *ValidationErrors listing all of them, or nil when the schema is clean.
// The engine evaluates invalid schemas anyway; this is feedback for authors.
func ValidateSchema(schema *rules.Schema) error {
	lintEngineOnce.Do(func() {
		lintEngine, lintEngineErr = rules.NewEngine()
	})
	if lintEngineErr != nil {
		return fmt.Errorf("failed to create expression engine: %w", lintEngineErr)
	}
	return validate(schema, lintEngine)
}

// validate compiles expressions with engine, warming its program cache
func validate(schema *rules.Schema, engine *rules.Engine) error {
	if schema == nil {
		return &ValidationErrors{Errors: []*ValidationError{{Reason: "schema is empty"}}}
	}

	errs := &ValidationErrors{}

	if len(schema.Fields) > MaxFields {
		errs.add(&ValidationError{Reason: fmt.Sprintf("schema contains %d fields, maximum allowed is %d", len(schema.Fields), MaxFields)})
	}
	if len(schema.Rules) > MaxRules {
		errs.add(&ValidationError{Reason: fmt.Sprintf("schema contains %d rules, maximum allowed is %d", len(schema.Rules), MaxRules)})
	}

	blocks := make(map[string]struct{}, len(schema.Blocks))
	for i, b := range schema.Blocks {
		if b.ID == "" {
			errs.add(&ValidationError{Reason: fmt.Sprintf("block at position %d has no id", i)})
			continue
		}
		if _, dup := blocks[b.ID]; dup {
			errs.add(&ValidationError{Reason: fmt.Sprintf("duplicate block id %q", b.ID)})
		}
		blocks[b.ID] = struct{}{}
	}

	fields := make(map[string]struct{}, len(schema.Fields))
	for i, f := range schema.Fields {
		if err := validateIdentifier(f.ID); err != nil {
			errs.add(&ValidationError{FieldID: f.ID, Reason: fmt.Sprintf("field at position %d: %v", i, err)})
			continue
		}
		if _, dup := fields[f.ID]; dup {
			errs.add(&ValidationError{FieldID: f.ID, Reason: "duplicate field id"})
		}
		fields[f.ID] = struct{}{}

		if f.BlockID != "" && len(blocks) > 0 {
			if _, ok := blocks[f.BlockID]; !ok {
				errs.add(&ValidationError{FieldID: f.ID, Reason: fmt.Sprintf("unknown block %q", f.BlockID)})
			}
		}
	}

	ruleIDs := make(map[string]struct{}, len(schema.Rules))
	for i, r := range schema.Rules {
		if r == nil {
			errs.add(&ValidationError{Reason: fmt.Sprintf("rule at position %d is empty", i)})
			continue
		}
		if r.ID == "" {
			errs.add(&ValidationError{Reason: fmt.Sprintf("rule at position %d has no id", i)})
		} else if _, dup := ruleIDs[r.ID]; dup {
			errs.add(&ValidationError{RuleID: r.ID, Reason: "duplicate rule id"})
		}
		ruleIDs[r.ID] = struct{}{}

		validateAction(errs, r, fields, engine)
		validateCondition(errs, r, fields, engine)
	}

	if len(errs.Errors) == 0 {
		return nil
	}
	return errs
}

func validateAction(errs *ValidationErrors, r *rules.Rule, fields map[string]struct{}, engine *rules.Engine) {
	a := r.Action
	switch {
	case a == nil:
		errs.add(&ValidationError{RuleID: r.ID, Reason: "rule has no action"})
		return
	case a.Type == "":
		errs.add(&ValidationError{RuleID: r.ID, Reason: "action has no type"})
		return
	case !rules.KnownActionType(a.Type):
		errs.add(&ValidationError{RuleID: r.ID, Reason: fmt.Sprintf("unknown action type %q", a.Type)})
		return
	}

	if !rules.RequiresTarget(a.Type) {
		if a.Value == nil {
			errs.add(&ValidationError{RuleID: r.ID, Reason: "showMessage action has no text"})
		}
		return
	}

	if a.TargetFieldRef == "" {
		errs.add(&ValidationError{RuleID: r.ID, Reason: fmt.Sprintf("%s action has no target field", a.Type)})
	} else if _, ok := fields[a.TargetFieldRef]; !ok {
		errs.add(&ValidationError{RuleID: r.ID, FieldID: a.TargetFieldRef, Reason: fmt.Sprintf("action targets unknown field %q", a.TargetFieldRef)})
	}

	if a.Expression != "" {
		if a.Type != rules.ActionSetValue {
			errs.add(&ValidationError{RuleID: r.ID, Reason: fmt.Sprintf("%s action cannot carry an expression", a.Type)})
		} else if err := engine.CompileExpression(a.Expression); err != nil {
			errs.add(&ValidationError{RuleID: r.ID, Reason: err.Error()})
		}
	}
}

func validateCondition(errs *ValidationErrors, r *rules.Rule, fields map[string]struct{}, engine *rules.Engine) {
	if r.Condition == nil {
		return
	}

	if d := rules.Depth(r.Condition, rules.MaxConditionDepth); d > rules.MaxConditionDepth {
		errs.add(&ValidationError{RuleID: r.ID, Reason: fmt.Sprintf("condition tree is deeper than %d levels", rules.MaxConditionDepth)})
		return
	}

	rules.Walk(r.Condition, func(n rules.Node) {
		switch n := n.(type) {
		case *rules.ConditionGroup:
			switch rules.Combinator(strings.ToUpper(string(n.Combinator))) {
			case rules.CombinatorAnd, rules.CombinatorOr, "":
			default:
				errs.add(&ValidationError{RuleID: r.ID, NodeID: n.ID, Reason: fmt.Sprintf("unknown combinator %q", n.Combinator)})
			}
			for _, child := range n.Children {
				if child == nil {
					errs.add(&ValidationError{RuleID: r.ID, NodeID: n.ID, Reason: "group contains an empty node"})
				}
			}
		case *rules.Condition:
			if n == nil {
				errs.add(&ValidationError{RuleID: r.ID, Reason: "condition tree contains an empty node"})
				return
			}
			if !rules.KnownOperator(n.Operator) {
				errs.add(&ValidationError{RuleID: r.ID, NodeID: n.ID, Reason: fmt.Sprintf("unknown operator %q", n.Operator)})
			}
			if _, ok := fields[n.FieldRef]; !ok {
				errs.add(&ValidationError{RuleID: r.ID, NodeID: n.ID, FieldID: n.FieldRef, Reason: fmt.Sprintf("condition references unknown field %q", n.FieldRef)})
			}
		case *rules.ExpressionCondition:
			if n == nil {
				errs.add(&ValidationError{RuleID: r.ID, Reason: "condition tree contains an empty node"})
				return
			}
			if err := engine.CompileExpression(n.Expression); err != nil {
				errs.add(&ValidationError{RuleID: r.ID, NodeID: n.ID, Reason: err.Error()})
			}
		}
	})
}

// validateIdentifier checks a field id: 1-100 characters of letters, digits,
// underscores, dots and dashes
func validateIdentifier(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(id) > maxIdentifierLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(id), maxIdentifierLength)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("identifier %q must match pattern %s", id, identifierPattern.String())
	}
	return nil
}
