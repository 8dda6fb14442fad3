package targeting

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
)

// exprEvaluator evaluates expressions with github.com/expr-lang/expr.
//
// Compilation uses an open environment with AllowUndefinedVariables so
// expressions may reference host-defined custom attributes; an undefined
// attribute evaluates to nil, which compares unequal to everything and
// fails ordered comparisons at runtime.
type exprEvaluator struct{}

// NewExprEvaluator returns the default targeting evaluator.
func NewExprEvaluator() Evaluator { return exprEvaluator{} }

func (exprEvaluator) Evaluate(expression string, attrs map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
		exprlang.AsBool(),
	)
	if err != nil {
		return false, &InvalidExpressionError{Engine: EngineExpr, Expression: expression, Err: err}
	}
	result, err := exprlang.Run(program, attrs)
	if err != nil {
		return false, &EvaluationError{Engine: EngineExpr, Expression: expression, Err: err}
	}
	b, ok := result.(bool)
	if !ok {
		return false, &EvaluationError{
			Engine:     EngineExpr,
			Expression: expression,
			Err:        fmt.Errorf("expression produced %T, want bool", result),
		}
	}
	return b, nil
}
