package rules

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	return engine
}

func TestNewEngine(t *testing.T) {
	engine := newTestEngine(t)

	if err := engine.CompileExpression(`true`); err != nil {
		t.Errorf("Engine should have a valid CEL environment, got error: %v", err)
	}
}

func TestCompileExpressionCaches(t *testing.T) {
	engine := newTestEngine(t)

	if err := engine.CompileExpression(`answers.size() > 0`); err != nil {
		t.Fatalf("CompileExpression() failed: %v", err)
	}
	if err := engine.CompileExpression(`answers.size() > 0`); err != nil {
		t.Fatalf("CompileExpression() failed: %v", err)
	}

	engine.mu.RLock()
	n := len(engine.programs)
	engine.mu.RUnlock()
	if n != 1 {
		t.Errorf("expected 1 cached program, got %d", n)
	}
}

func TestCompileExpressionErrors(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name       string
		expression string
	}{
		{"syntax error", `answers.age >`},
		{"undeclared variable", `user.age > 18`},
		{"empty expression", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.CompileExpression(tt.expression)
			if err == nil {
				t.Fatal("expected compile error")
			}
			var exprErr *ExpressionError
			if !errors.As(err, &exprErr) {
				t.Errorf("expected *ExpressionError, got %T", err)
			}
		})
	}
}

func TestEvalBool(t *testing.T) {
	engine := newTestEngine(t)

	ok, err := engine.EvalBool(`answers.country == "CA" && answers.age >= 18`, AnswerSet{"country": "CA", "age": 30.0})
	if err != nil {
		t.Fatalf("EvalBool() failed: %v", err)
	}
	if !ok {
		t.Error("expected true")
	}

	if _, err := engine.EvalBool(`answers.age + 1.0`, AnswerSet{"age": 30.0}); err == nil {
		t.Error("non-boolean result should be an error")
	}

	if _, err := engine.EvalBool(`answers.age > 1`, nil); err == nil {
		t.Error("missing answer should be an evaluation error")
	}
}

func TestEvalValue(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name       string
		expression string
		answers    AnswerSet
		want       any
	}{
		{"arithmetic", `answers.a + answers.b`, AnswerSet{"a": 1.5, "b": 2.0}, 3.5},
		{"string concat", `answers.first + " " + answers.last`, AnswerSet{"first": "Ada", "last": "Lovelace"}, "Ada Lovelace"},
		{"list", `[answers.a, "fixed"]`, AnswerSet{"a": "x"}, []any{"x", "fixed"}},
		{"conditional", `answers.plan == "pro" ? 10 : 1`, AnswerSet{"plan": "pro"}, int64(10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.EvalValue(tt.expression, tt.answers)
			if err != nil {
				t.Fatalf("EvalValue() failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("EvalValue() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestFieldStatesBuilderMode(t *testing.T) {
	engine := newTestEngine(t)
	ruleSet := RuleSet{
		rule("hide-b", when("a", OpEquals, "skip"), ActionHide, "b"),
		{ID: "msg", Enabled: true, Condition: when("a", OpEquals, "skip"), Action: &Action{Type: ActionShowMessage, Value: "Skipping"}},
		rule("broken", &ConditionGroup{}, ActionHide, "ghost"),
	}
	answers := AnswerSet{"a": "skip"}

	runtime := engine.FieldStates(fields("a", "b"), ruleSet, answers, ModeRuntime)
	if runtime.State("b").Visible {
		t.Error("runtime mode should hide b")
	}

	builder := engine.FieldStates(fields("a", "b"), ruleSet, answers, ModeBuilder)
	for id, st := range builder.States {
		if st != DefaultFieldState() {
			t.Errorf("builder mode field %s = %+v, want default", id, st)
		}
	}
	if len(builder.Messages) != 1 {
		t.Errorf("builder mode should keep messages, got %v", builder.Messages)
	}
	if len(builder.Warnings) != 1 || builder.Warnings[0].Kind != WarnDanglingField {
		t.Errorf("builder mode should keep warnings, got %v", builder.Warnings)
	}
}

func TestEvaluateSchema(t *testing.T) {
	engine := newTestEngine(t)

	if res := engine.Evaluate(nil, nil, ModeRuntime); len(res.States) != 0 {
		t.Errorf("nil schema should have no states, got %v", res.States)
	}

	schema := &Schema{
		ID:     "form-1",
		Fields: fields("consent", "details"),
		Rules:  RuleSet{rule("r1", when("consent", OpNotEquals, true), ActionDisable, "details")},
	}
	res := engine.Evaluate(schema, AnswerSet{"consent": false}, ModeRuntime)
	if !res.State("details").Disabled {
		t.Error("details should be disabled without consent")
	}
}

func TestEngineConcurrentEvaluation(t *testing.T) {
	engine := newTestEngine(t)
	ruleSet := RuleSet{
		{
			ID:        "calc",
			Enabled:   true,
			Condition: &ConditionGroup{Children: []Node{&ExpressionCondition{Expression: `answers.n > 5.0`}}},
			Action:    &Action{Type: ActionSetValue, TargetFieldRef: "out", Expression: `answers.n * 2.0`},
		},
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n float64) {
			defer wg.Done()
			res := engine.FieldStates(fields("n", "out"), ruleSet, AnswerSet{"n": n}, ModeRuntime)
			st := res.State("out")
			if n > 5 && st.ForcedValue != n*2 {
				t.Errorf("n=%v: ForcedValue = %v, want %v", n, st.ForcedValue, n*2)
			}
			if n <= 5 && st.Forced {
				t.Errorf("n=%v: out should not be forced", n)
			}
		}(float64(i))
	}
	wg.Wait()
}
