package targeting

import (
	"fmt"

	celgo "github.com/google/cel-go/cel"
)

// celEvaluator evaluates expressions with github.com/google/cel-go.
//
// Every targeting attribute is declared as a CEL variable, so referencing
// an attribute that does not exist is caught by the checker and reported
// as an invalid expression.
type celEvaluator struct{}

// NewCELEvaluator returns an Evaluator backed by CEL.
func NewCELEvaluator() Evaluator { return celEvaluator{} }

func (celEvaluator) Evaluate(expression string, attrs map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}
	opts := make([]celgo.EnvOption, 0, len(attrs))
	for key := range attrs {
		opts = append(opts, celgo.Variable(key, celgo.DynType))
	}
	env, err := celgo.NewEnv(opts...)
	if err != nil {
		return false, &EvaluationError{Engine: EngineCEL, Expression: expression, Err: err}
	}

	ast, issues := env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return false, &InvalidExpressionError{Engine: EngineCEL, Expression: expression, Err: issues.Err()}
	}
	checked, issues := env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return false, &InvalidExpressionError{Engine: EngineCEL, Expression: expression, Err: issues.Err()}
	}
	program, err := env.Program(checked)
	if err != nil {
		return false, &InvalidExpressionError{Engine: EngineCEL, Expression: expression, Err: err}
	}

	out, _, err := program.Eval(attrs)
	if err != nil {
		return false, &EvaluationError{Engine: EngineCEL, Expression: expression, Err: err}
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, &EvaluationError{
			Engine:     EngineCEL,
			Expression: expression,
			Err:        fmt.Errorf("expression produced %T, want bool", out.Value()),
		}
	}
	return b, nil
}
