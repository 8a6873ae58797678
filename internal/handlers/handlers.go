// Package handlers provides the builtin capabilities registered by default:
// echo, sleep, and an expression calculator.
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/Knetic/govaluate"

	dirigent "github.com/kestrelworks/dirigent"
	"github.com/kestrelworks/dirigent/internal/adapters"
)

// Echo returns its message parameter unchanged. Useful for wiring checks
// and workflow tests.
func Echo() dirigent.Handler {
	return adapters.NewFuncHandler("echo",
		func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			msg, ok := params["message"]
			if !ok {
				return nil, fmt.Errorf("echo requires a 'message' parameter")
			}
			return map[string]interface{}{"message": msg}, nil
		},
		adapters.WithDescription("returns the given message unchanged"),
		adapters.WithParameters(map[string]string{"message": "value to echo back"}),
		adapters.WithRequired("message"),
		adapters.WithReturns("the message parameter"),
		adapters.WithCategory("builtin"),
	)
}

// Sleep pauses for the given duration, honoring cancellation.
func Sleep() dirigent.Handler {
	return adapters.NewFuncHandler("sleep",
		func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			raw, ok := params["duration"].(string)
			if !ok {
				return nil, fmt.Errorf("sleep requires a 'duration' parameter (e.g. \"150ms\")")
			}
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q: %w", raw, err)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d):
			}
			return map[string]interface{}{"slept": raw}, nil
		},
		adapters.WithDescription("pauses for the given duration"),
		adapters.WithParameters(map[string]string{"duration": "Go duration string"}),
		adapters.WithRequired("duration"),
		adapters.WithCategory("builtin"),
	)
}

// Calculate evaluates an arithmetic/boolean expression with optional named
// variables.
func Calculate() dirigent.Handler {
	return adapters.NewFuncHandler("calculate",
		func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			exprStr, ok := params["expression"].(string)
			if !ok || exprStr == "" {
				return nil, fmt.Errorf("calculate requires an 'expression' parameter")
			}
			expr, err := govaluate.NewEvaluableExpression(exprStr)
			if err != nil {
				return nil, fmt.Errorf("invalid expression %q: %w", exprStr, err)
			}
			variables, _ := params["variables"].(map[string]interface{})
			result, err := expr.Evaluate(variables)
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate %q: %w", exprStr, err)
			}
			return map[string]interface{}{"result": result}, nil
		},
		adapters.WithDescription("evaluates an arithmetic or boolean expression"),
		adapters.WithParameters(map[string]string{
			"expression": "expression to evaluate",
			"variables":  "optional map of variable values",
		}),
		adapters.WithRequired("expression"),
		adapters.WithReturns("the evaluated result"),
		adapters.WithCategory("builtin"),
	)
}

// RegisterBuiltins registers the builtin handlers into the registry.
func RegisterBuiltins(registry dirigent.HandlerRegistry) error {
	for _, h := range []dirigent.Handler{Echo(), Sleep(), Calculate()} {
		if err := registry.Register(h.Name(), h); err != nil {
			return err
		}
	}
	return nil
}
