package handlers

import (
	"context"
	"testing"
	"time"
)

func TestEcho(t *testing.T) {
	h := Echo()
	out, err := h.Execute(context.Background(), map[string]interface{}{"message": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["message"] != "hi" {
		t.Errorf("expected 'hi', got %v", out["message"])
	}

	if _, err := h.Execute(context.Background(), map[string]interface{}{}); err == nil {
		t.Errorf("expected error without message parameter")
	}
}

func TestSleep_HonorsCancellation(t *testing.T) {
	h := Sleep()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.Execute(ctx, map[string]interface{}{"duration": "2s"})
	if err == nil {
		t.Errorf("expected cancellation error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("sleep ignored cancellation")
	}
}

func TestCalculate(t *testing.T) {
	h := Calculate()
	out, err := h.Execute(context.Background(), map[string]interface{}{
		"expression": "a * 2 + 1",
		"variables":  map[string]interface{}{"a": 10.0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["result"] != 21.0 {
		t.Errorf("expected 21, got %v", out["result"])
	}

	if _, err := h.Execute(context.Background(), map[string]interface{}{"expression": "1 +* 2"}); err == nil {
		t.Errorf("expected parse error")
	}
}
