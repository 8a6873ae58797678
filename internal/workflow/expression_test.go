package workflow

import (
	"testing"
)

func TestResolveReference_FieldAndIndexAccess(t *testing.T) {
	outputs := map[string]interface{}{
		"fetch": map[string]interface{}{
			"items": []interface{}{"a", "b", "c"},
			"count": 3,
		},
	}

	val, ok := resolveReference("$fetch.count", outputs)
	if !ok || val != 3 {
		t.Errorf("expected 3, got %v (ok: %t)", val, ok)
	}

	val, ok = resolveReference("$fetch.items[1]", outputs)
	if !ok || val != "b" {
		t.Errorf("expected 'b', got %v (ok: %t)", val, ok)
	}

	if _, ok := resolveReference("$fetch.missing", outputs); ok {
		t.Errorf("expected missing field to fail resolution")
	}
	if _, ok := resolveReference("$fetch.items[9]", outputs); ok {
		t.Errorf("expected out-of-range index to fail resolution")
	}
	if _, ok := resolveReference("$unknown", outputs); ok {
		t.Errorf("expected unknown step to fail resolution")
	}
}

func TestEvaluateExpression_WithReferences(t *testing.T) {
	outputs := map[string]interface{}{
		"calc": map[string]interface{}{"total": 10.0},
	}
	val, err := evaluateExpression("$calc.total * 2 + 1", outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 21.0 {
		t.Errorf("expected 21, got %v", val)
	}
}

func TestEvaluateExpression_RegisteredFunction(t *testing.T) {
	RegisterExpressionFunction("double", func(args ...interface{}) (interface{}, error) {
		return args[0].(float64) * 2, nil
	})
	val, err := evaluateExpression("double(4)", map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 8.0 {
		t.Errorf("expected 8, got %v", val)
	}
}

func TestValidateExpression(t *testing.T) {
	if err := ValidateExpression("1 + 2 * 3"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := ValidateExpression("1 +* 2"); err == nil {
		t.Errorf("expected parse error for malformed expression")
	}
}

func TestResolveParams(t *testing.T) {
	outputs := map[string]interface{}{
		"s1": map[string]interface{}{"value": 5.0},
	}
	params := map[string]interface{}{
		"literal": "hello",
		"ref":     "$s1.value",
		"expr":    map[string]interface{}{"expr": "$s1.value + 1"},
		"number":  42,
	}
	resolved, err := resolveParams(params, outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved["literal"] != "hello" {
		t.Errorf("literal passed through wrong: %v", resolved["literal"])
	}
	if resolved["ref"] != 5.0 {
		t.Errorf("reference resolved wrong: %v", resolved["ref"])
	}
	if resolved["expr"] != 6.0 {
		t.Errorf("expression resolved wrong: %v", resolved["expr"])
	}
	if resolved["number"] != 42 {
		t.Errorf("number passed through wrong: %v", resolved["number"])
	}

	if _, err := resolveParams(map[string]interface{}{"bad": "$nope"}, outputs); err == nil {
		t.Errorf("expected error for dangling reference")
	}
}
