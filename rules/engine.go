package rules

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// expressionCostLimit stops runaway expressions
const expressionCostLimit = 1000000

// Engine evaluates rule sets. It owns the CEL environment used by expression leaves
// and calculated values, plus a cache of compiled programs keyed by expression text.
// The cache never changes results, so an Engine is safe to share between goroutines
// and between forms.
type Engine struct {
	env      *cel.Env
	programs map[string]cel.Program // expression -> compiled program
	mu       sync.RWMutex
}

// NewEngine creates an engine whose CEL environment declares `answers` as a map of
// field id to dynamic value
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("answers", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return NewEngineWithEnv(env), nil
}

// NewEngineWithEnv creates an engine with a custom CEL environment.
// The environment must declare the `answers` variable.
func NewEngineWithEnv(env *cel.Env) *Engine {
	return &Engine{
		env:      env,
		programs: make(map[string]cel.Program),
	}
}

var (
	defaultEngineOnce sync.Once
	defaultEngineInst *Engine
)

// defaultExpressions backs the package-level Resolve and EvaluateGroup helpers
func defaultExpressions() ExpressionEvaluator {
	defaultEngineOnce.Do(func() {
		en, err := NewEngine()
		if err == nil {
			defaultEngineInst = en
		}
	})
	if defaultEngineInst == nil {
		return nil
	}
	return defaultEngineInst
}

// CompileExpression compiles and caches an expression, returning a descriptive
// error when it does not compile
func (en *Engine) CompileExpression(expression string) error {
	_, err := en.program(expression)
	return err
}

func (en *Engine) program(expression string) (cel.Program, error) {
	en.mu.RLock()
	prog, exists := en.programs[expression]
	en.mu.RUnlock()
	if exists {
		return prog, nil
	}

	ast, issues := en.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, &ExpressionError{Expression: expression, Cause: fmt.Errorf("compile error: %w", issues.Err())}
	}

	prog, err := en.env.Program(ast, cel.CostLimit(expressionCostLimit))
	if err != nil {
		return nil, &ExpressionError{Expression: expression, Cause: fmt.Errorf("program creation error: %w", err)}
	}

	en.mu.Lock()
	en.programs[expression] = prog
	en.mu.Unlock()

	return prog, nil
}

func (en *Engine) eval(expression string, answers AnswerSet) (ref.Val, error) {
	prog, err := en.program(expression)
	if err != nil {
		return nil, err
	}

	vars := map[string]any(answers)
	if vars == nil {
		vars = map[string]any{}
	}
	out, _, err := prog.Eval(map[string]any{"answers": vars})
	if err != nil {
		return nil, &ExpressionError{Expression: expression, Cause: err}
	}
	return out, nil
}

// EvalBool evaluates a boolean expression. Non-boolean results are an error.
func (en *Engine) EvalBool(expression string, answers AnswerSet) (bool, error) {
	out, err := en.eval(expression, answers)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, &ExpressionError{Expression: expression, Cause: fmt.Errorf("result is %s, not bool", out.Type().TypeName())}
	}
	return b, nil
}

// EvalValue evaluates an expression and converts the result to plain Go values
func (en *Engine) EvalValue(expression string, answers AnswerSet) (any, error) {
	out, err := en.eval(expression, answers)
	if err != nil {
		return nil, err
	}

	switch v := out.(type) {
	case traits.Lister:
		native, err := v.ConvertToNative(reflect.TypeOf([]any{}))
		if err != nil {
			return nil, &ExpressionError{Expression: expression, Cause: err}
		}
		return native, nil
	case traits.Mapper:
		native, err := v.ConvertToNative(reflect.TypeOf(map[string]any{}))
		if err != nil {
			return nil, &ExpressionError{Expression: expression, Cause: err}
		}
		return native, nil
	}
	return out.Value(), nil
}

// FieldStates computes the complete field state map for one form.
// It is a pure function of its arguments: identical inputs give deep-equal results.
// In ModeBuilder every field keeps its default state so the editor can show all of
// them, while rules are still evaluated to report warnings and messages.
func (en *Engine) FieldStates(fields []FormField, ruleSet RuleSet, answers AnswerSet, mode Mode) Result {
	res := en.Resolve(ruleSet, fields, answers)
	if mode == ModeBuilder {
		for id := range res.States {
			res.States[id] = DefaultFieldState()
		}
	}
	return res
}

// Evaluate is FieldStates for a stored schema
func (en *Engine) Evaluate(schema *Schema, answers AnswerSet, mode Mode) Result {
	if schema == nil {
		return Result{States: map[string]FieldState{}}
	}
	return en.FieldStates(schema.Fields, schema.Rules, answers, mode)
}
