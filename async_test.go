package dirigent

import (
	"context"
	"testing"
	"time"
)

func waitTerminal(t *testing.T, o *Orchestrator, submissionID string) *AsyncStatus {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		status, err := o.GetAsyncStatus(submissionID)
		if err != nil {
			t.Fatalf("status lookup failed: %v", err)
		}
		if status.IsComplete || status.HasError || status.CurrentState == StateCancelled {
			return status
		}
		select {
		case <-deadline:
			t.Fatalf("submission never finished (state: %s)", status.CurrentState)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubmitAsync_CompletesAndYieldsResult(t *testing.T) {
	o, registry, _ := newTestOrchestrator(t, quickConfig())
	registry.add("echo", func(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	})

	id, err := o.SubmitAsync(context.Background(), &Instruction{Type: InstructionDirect, Handler: "echo"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	status := waitTerminal(t, o, id)
	if !status.IsComplete {
		t.Fatalf("expected completion, got %s", status.CurrentState)
	}

	result, err := o.GetAsyncResult(id)
	if err != nil {
		t.Fatalf("result lookup failed: %v", err)
	}
	if !result.Succeeded() {
		t.Errorf("expected success, got %s (%v)", result.Status, result.Error)
	}
}

func TestSubmitAsync_ResultUnavailableWhileRunning(t *testing.T) {
	o, registry, _ := newTestOrchestrator(t, quickConfig())
	release := make(chan struct{})
	registry.add("block", func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return map[string]interface{}{}, nil
		}
	})

	id, err := o.SubmitAsync(context.Background(), &Instruction{Type: InstructionDirect, Handler: "block"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if _, err := o.GetAsyncResult(id); err == nil {
		t.Errorf("expected in-progress error")
	}
	close(release)
	waitTerminal(t, o, id)
}

func TestCancelAsync(t *testing.T) {
	o, registry, _ := newTestOrchestrator(t, quickConfig())
	registry.add("block", func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	id, err := o.SubmitAsync(context.Background(), &Instruction{Type: InstructionDirect, Handler: "block"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	cancelled, err := o.CancelAsync(id)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !cancelled {
		t.Errorf("expected cancellation to be delivered")
	}

	status, err := o.GetAsyncStatus(id)
	if err != nil {
		t.Fatalf("status lookup failed: %v", err)
	}
	if status.CurrentState != StateCancelled {
		t.Errorf("expected cancelled state, got %s", status.CurrentState)
	}

	// Cancelling a finished submission reports false without error.
	again, err := o.CancelAsync(id)
	if err != nil || again {
		t.Errorf("expected no-op cancel, got (%t, %v)", again, err)
	}
}

func TestCancelAsync_ImmediatelyAfterSubmit(t *testing.T) {
	o, registry, _ := newTestOrchestrator(t, quickConfig())
	registry.add("block", func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	// The cancel function must be visible the instant the submission id is
	// returned, even before the worker goroutine is scheduled.
	for i := 0; i < 50; i++ {
		id, err := o.SubmitAsync(context.Background(), &Instruction{Type: InstructionDirect, Handler: "block"})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
		if _, err := o.CancelAsync(id); err != nil {
			t.Fatalf("immediate cancel failed: %v", err)
		}
	}
}

func TestCleanupFinishedSubmissions(t *testing.T) {
	o, registry, _ := newTestOrchestrator(t, quickConfig())
	registry.add("echo", func(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{}, nil
	})

	id, err := o.SubmitAsync(context.Background(), &Instruction{Type: InstructionDirect, Handler: "echo"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	waitTerminal(t, o, id)

	if removed := o.CleanupFinishedSubmissions(time.Hour); removed != 0 {
		t.Errorf("fresh submissions must not be cleaned, removed %d", removed)
	}
	if removed := o.CleanupFinishedSubmissions(0); removed != 1 {
		t.Errorf("expected 1 cleaned submission, got %d", removed)
	}
	if _, err := o.GetAsyncStatus(id); err == nil {
		t.Errorf("cleaned submission must be forgotten")
	}
}

func TestSubmitAsync_NilInstruction(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, quickConfig())
	if _, err := o.SubmitAsync(context.Background(), nil); err == nil {
		t.Errorf("expected error for nil instruction")
	}
}
