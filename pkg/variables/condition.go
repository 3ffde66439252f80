package variables

import (
	"fmt"
	"strconv"

	"go.starlark.net/starlark"
)

// ConditionEvaluator evaluates record condition expressions against a
// resolved variable table. Expressions are Starlark; the table's values
// are exposed as predeclared globals, coerced to int or bool when they
// parse as such.
type ConditionEvaluator struct{}

// NewConditionEvaluator creates a condition evaluator.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{}
}

// Eval evaluates expr and returns its boolean result. A non-boolean
// result is an error naming the offending expression.
func (ce *ConditionEvaluator) Eval(expr string, vars map[string]string) (bool, error) {
	thread := &starlark.Thread{
		Name: "condition",
		Print: func(_ *starlark.Thread, _ string) {
			// Conditions have no output channel.
		},
	}

	predeclared := make(starlark.StringDict, len(vars))
	for name, raw := range vars {
		predeclared[name] = coerce(raw)
	}

	val, err := starlark.Eval(thread, "condition.star", expr, predeclared)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", expr, err)
	}

	b, ok := val.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("condition %q: result is %s, want bool", expr, val.Type())
	}
	return bool(b), nil
}

// coerce maps a raw variable string onto the closest Starlark type.
func coerce(raw string) starlark.Value {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return starlark.MakeInt64(n)
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return starlark.Bool(b)
	}
	return starlark.String(raw)
}
