package dirigent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	dirigent "github.com/kestrelworks/dirigent"
	"github.com/kestrelworks/dirigent/internal/adapters"
	"github.com/kestrelworks/dirigent/internal/registry"
	"github.com/kestrelworks/dirigent/internal/statestore"
	"github.com/kestrelworks/dirigent/internal/workflow"
)

// newIntegratedOrchestrator builds an orchestrator on the real workflow
// engine, handler registry and state store, so tests exercise the dispatcher
// and engine as deployed rather than through test doubles.
func newIntegratedOrchestrator(t *testing.T, handlers map[string]adapters.HandlerFunc) *dirigent.Orchestrator {
	t.Helper()

	reg := registry.NewHandlerRegistry()
	for name, fn := range handlers {
		if err := reg.Register(name, adapters.NewFuncHandler(name, fn)); err != nil {
			t.Fatalf("failed to register handler %s: %v", name, err)
		}
	}

	config := dirigent.DefaultConfig()
	config.MaxRetries = 1
	config.RetryDelay = time.Millisecond
	config.DefaultCallTimeout = 2 * time.Second

	o, err := dirigent.New(context.Background(),
		dirigent.WithConfig(config),
		dirigent.WithHandlerRegistry(reg),
		dirigent.WithWorkflowEngine(workflow.NewEngine()),
		dirigent.WithStateStore(statestore.NewRingStore(16)),
	)
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o
}

// A failing step in a parallel fail-fast workflow must cancel its siblings,
// and steps torn down by that cancellation report skipped, not failed.
func TestSubmit_ParallelFailFastSkipsCancelledSiblings(t *testing.T) {
	o := newIntegratedOrchestrator(t, map[string]adapters.HandlerFunc{
		"boom": func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("boom")
		},
		"block": func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	result := o.Submit(context.Background(), &dirigent.Instruction{
		Type:     dirigent.InstructionWorkflow,
		Parallel: true,
		Steps: []dirigent.Instruction{
			{Type: dirigent.InstructionDirect, ID: "s1", Handler: "boom"},
			{Type: dirigent.InstructionDirect, ID: "s2", Handler: "block"},
		},
	})

	if result.Succeeded() {
		t.Fatalf("expected workflow failure")
	}
	steps := result.StepResults()
	if len(steps) != 2 {
		t.Fatalf("expected 2 step results, got %d", len(steps))
	}

	byID := make(map[string]*dirigent.ExecutionResult, len(steps))
	for _, s := range steps {
		byID[s.ExecutionID] = s
	}

	failed := byID["s1"]
	if failed == nil || failed.Status != dirigent.StatusFailed {
		t.Fatalf("triggering step must report failed, got %+v", failed)
	}
	if !dirigent.IsCode(failed.Error, dirigent.ErrCodeStepExecution) {
		t.Errorf("expected step execution error, got %v", failed.Error)
	}

	sibling := byID["s2"]
	if sibling == nil {
		t.Fatalf("missing sibling step result")
	}
	if sibling.Status != dirigent.StatusSkipped {
		t.Errorf("cancelled sibling must report skipped, got %s (error: %v)", sibling.Status, sibling.Error)
	}
}

// Handler failures carry the step execution code, not the internal-error
// fallback for unclassified errors.
func TestSubmit_HandlerFailureCarriesStepExecutionCode(t *testing.T) {
	o := newIntegratedOrchestrator(t, map[string]adapters.HandlerFunc{
		"broken": func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("logic error")
		},
	})

	result := o.Submit(context.Background(), &dirigent.Instruction{
		Type:    dirigent.InstructionDirect,
		Handler: "broken",
	})

	if result.Succeeded() {
		t.Fatalf("expected failure")
	}
	if !dirigent.IsCode(result.Error, dirigent.ErrCodeStepExecution) {
		t.Errorf("expected step execution error, got %v", result.Error)
	}
}
