// Package targeting evaluates server-supplied eligibility expressions
// against a device's targeting attributes.
//
// Expressions are untrusted input, so both engines are bounded: neither
// supports unbounded loops or recursion, and evaluation is a pure function
// of the expression and the attribute map. The engine is pluggable; the
// enrollment evolver only sees the Evaluator interface and converts every
// failure into ineligibility rather than aborting a batch.
package targeting

import "fmt"

// Engine names accepted by New.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
)

// Evaluator evaluates one eligibility expression. An empty expression is
// eligible by definition. Implementations must be safe for concurrent use.
type Evaluator interface {
	Evaluate(expression string, attrs map[string]any) (bool, error)
}

// New returns the evaluator for the named engine. An empty name selects
// the default expr engine.
func New(engine string) (Evaluator, error) {
	switch engine {
	case "", EngineExpr:
		return NewExprEvaluator(), nil
	case EngineCEL:
		return NewCELEvaluator(), nil
	default:
		return nil, fmt.Errorf("targeting: unknown engine %q", engine)
	}
}

// InvalidExpressionError reports an expression the engine could not
// compile. The catalog entry carrying it is malformed.
type InvalidExpressionError struct {
	Engine     string
	Expression string
	Err        error
}

func (e *InvalidExpressionError) Error() string {
	return fmt.Sprintf("targeting: %s: invalid expression %q: %v", e.Engine, e.Expression, e.Err)
}

func (e *InvalidExpressionError) Unwrap() error { return e.Err }

// EvaluationError reports an expression that compiled but failed at
// evaluation time, for example by referencing a missing attribute in an
// ordered comparison or by producing a non-boolean result.
type EvaluationError struct {
	Engine     string
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("targeting: %s: evaluating %q: %v", e.Engine, e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
