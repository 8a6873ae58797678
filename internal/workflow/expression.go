// Package workflow executes ordered and parallel step graphs with
// fail-fast semantics.
package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"
)

// ExpressionFunctionRegistry allows registration of custom functions usable
// inside step parameter expressions.
type ExpressionFunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]govaluate.ExpressionFunction
}

var globalExprFuncRegistry = &ExpressionFunctionRegistry{functions: make(map[string]govaluate.ExpressionFunction)}

// RegisterExpressionFunction registers a custom function for expressions.
func RegisterExpressionFunction(name string, fn govaluate.ExpressionFunction) {
	globalExprFuncRegistry.mu.Lock()
	defer globalExprFuncRegistry.mu.Unlock()
	globalExprFuncRegistry.functions[name] = fn
}

// whitelistedFunctions returns only registered functions; expressions have
// no ambient capability beyond arithmetic, comparison and these.
func whitelistedFunctions() map[string]govaluate.ExpressionFunction {
	globalExprFuncRegistry.mu.RLock()
	defer globalExprFuncRegistry.mu.RUnlock()

	out := make(map[string]govaluate.ExpressionFunction, len(globalExprFuncRegistry.functions))
	for k, v := range globalExprFuncRegistry.functions {
		out[k] = v
	}
	return out
}

// ValidateExpression checks an expression parses at load time.
func ValidateExpression(expr string) error {
	_, err := govaluate.NewEvaluableExpressionWithFunctions(expr, whitelistedFunctions())
	return err
}

var refPattern = regexp.MustCompile(`\$([a-zA-Z0-9_-]+)((?:\.[a-zA-Z0-9_]+|\[[0-9]+\])*)`)

// resolveReference walks $stepID.field[idx] accessors against the outputs
// of earlier steps. The boolean reports whether the reference resolved.
func resolveReference(ref string, outputs map[string]interface{}) (interface{}, bool) {
	matches := refPattern.FindStringSubmatch(ref)
	if matches == nil || matches[0] != ref {
		return nil, false
	}
	stepID := matches[1]
	accessors := matches[2]

	val, ok := outputs[stepID]
	if !ok {
		return nil, false
	}

	accRe := regexp.MustCompile(`(\.[a-zA-Z0-9_]+|\[[0-9]+\])`)
	for _, acc := range accRe.FindAllString(accessors, -1) {
		switch {
		case strings.HasPrefix(acc, "."):
			m, ok := val.(map[string]interface{})
			if !ok {
				return nil, false
			}
			val, ok = m[acc[1:]]
			if !ok {
				return nil, false
			}
		case strings.HasPrefix(acc, "["):
			idx, err := strconv.Atoi(acc[1 : len(acc)-1])
			if err != nil {
				return nil, false
			}
			arr, ok := val.([]interface{})
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			val = arr[idx]
		}
	}
	return val, true
}

// evaluateExpression substitutes $step references with variables and
// evaluates the remainder with the whitelisted govaluate functions.
func evaluateExpression(expr string, outputs map[string]interface{}) (interface{}, error) {
	variables := map[string]interface{}{}
	replaced := refPattern.ReplaceAllStringFunc(expr, func(matched string) string {
		val, ok := resolveReference(matched, outputs)
		if !ok {
			variables[matched] = nil
			return matched
		}
		varName := strings.NewReplacer("$", "", ".", "_", "[", "_", "]", "", "-", "_").Replace(matched)
		variables[varName] = val
		return varName
	})

	evalExpr, err := govaluate.NewEvaluableExpressionWithFunctions(replaced, whitelistedFunctions())
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression %q: %w", expr, err)
	}
	result, err := evalExpr.Evaluate(variables)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expr, err)
	}
	return result, nil
}

// resolveParams produces a step's effective parameters: literal values pass
// through, full-string $references substitute an earlier step's output, and
// {"expr": "..."} values are evaluated. A dangling reference is an error —
// the step must not run with a silently missing input.
func resolveParams(params map[string]interface{}, outputs map[string]interface{}) (map[string]interface{}, error) {
	if len(params) == 0 {
		return params, nil
	}

	resolved := make(map[string]interface{}, len(params))
	for name, raw := range params {
		switch v := raw.(type) {
		case string:
			if strings.HasPrefix(v, "$") {
				val, ok := resolveReference(v, outputs)
				if !ok {
					return nil, fmt.Errorf("parameter '%s' references unknown output '%s'", name, v)
				}
				resolved[name] = val
				continue
			}
			resolved[name] = v
		case map[string]interface{}:
			if expr, ok := v["expr"].(string); ok && len(v) == 1 {
				val, err := evaluateExpression(expr, outputs)
				if err != nil {
					return nil, fmt.Errorf("parameter '%s': %w", name, err)
				}
				resolved[name] = val
				continue
			}
			resolved[name] = v
		default:
			resolved[name] = raw
		}
	}
	return resolved, nil
}
