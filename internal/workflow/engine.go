package workflow

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"

	dirigent "github.com/kestrelworks/dirigent"
)

// stepStatus tracks a step through its lifecycle inside one workflow run.
type stepStatus string

const (
	stepPending stepStatus = "pending"
	stepRunning stepStatus = "running"
	stepDone    stepStatus = "done"
	stepSkipped stepStatus = "skipped"
)

// Engine runs workflow instructions sequentially or in parallel, delegating
// each step back to the dispatcher through the StepRunner callback.
type Engine struct {
	maxWorkers int

	metrics metricsRecorder
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithMaxWorkers bounds concurrent steps in parallel workflows.
func WithMaxWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// NewEngine creates an engine with default settings.
func NewEngine(options ...EngineOption) *Engine {
	e := &Engine{
		maxWorkers: 5,
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// Metrics returns a snapshot of the engine's cumulative counters.
func (e *Engine) Metrics() EngineMetrics {
	return e.metrics.snapshot()
}

// Run executes the workflow's steps and aggregates their results in input
// order. The workflow result is succeeded only when every step succeeded;
// a depth violation from any step aborts the remainder regardless of the
// fail-fast setting.
func (e *Engine) Run(ctx context.Context, wf *dirigent.Instruction, depth int, runner dirigent.StepRunner) (*dirigent.ExecutionResult, error) {
	if wf == nil || len(wf.Steps) == 0 {
		return nil, dirigent.NewValidationError("workflow", "steps", nil)
	}
	if runner == nil {
		return nil, dirigent.NewConfigurationError("workflow engine requires a step runner", nil)
	}

	e.metrics.recordWorkflow()
	started := time.Now()
	log.Printf("Starting workflow execution (steps: %d, parallel: %t, fail_fast: %t, depth: %d)",
		len(wf.Steps), wf.Parallel, wf.FailFastEnabled(), depth)

	var (
		results []*dirigent.ExecutionResult
		err     error
	)
	if wf.Parallel {
		results, err = e.runParallel(ctx, wf, depth, runner)
	} else {
		results, err = e.runSequential(ctx, wf, depth, runner)
	}
	if err != nil {
		return nil, err
	}

	wfResult := &dirigent.ExecutionResult{
		ExecutionID: wf.ID,
		Status:      dirigent.StatusSucceeded,
		Output:      results,
		StartedAt:   started,
		Duration:    time.Since(started),
	}
	for _, r := range results {
		e.metrics.recordStep(string(r.Status), r.Duration)
		if r.Status == dirigent.StatusFailed {
			wfResult.Status = dirigent.StatusFailed
			if wfResult.Error == nil && r.Error != nil {
				wfResult.Error = r.Error
			}
		}
	}

	log.Printf("Workflow execution finished (status: %s, steps: %d, duration: %s)",
		wfResult.Status, len(results), wfResult.Duration)
	return wfResult, nil
}

// runSequential executes steps one by one. Once a step fails under
// fail-fast, or any step reports a recursion-depth violation, the remaining
// steps are recorded as skipped without running. Earlier step outputs are
// available to later steps through $stepID parameter references.
func (e *Engine) runSequential(ctx context.Context, wf *dirigent.Instruction, depth int, runner dirigent.StepRunner) ([]*dirigent.ExecutionResult, error) {
	results := make([]*dirigent.ExecutionResult, 0, len(wf.Steps))
	outputs := make(map[string]interface{}, len(wf.Steps))
	failFast := wf.FailFastEnabled()
	abort := false

	for i := range wf.Steps {
		step := wf.Steps[i]
		if step.ID == "" {
			step.ID = uuid.NewString()
		}
		if wf.OptimizeWorkflow && step.Type == dirigent.InstructionDirect {
			step.Optimize = true
		}

		if abort || ctx.Err() != nil {
			results = append(results, skippedResult(step.ID))
			continue
		}

		if step.Type == dirigent.InstructionDirect && len(step.Params) > 0 {
			resolved, resolveErr := resolveParams(step.Params, outputs)
			if resolveErr != nil {
				log.Printf("Step parameter resolution failed (step: %s, error: %v)", step.ID, resolveErr)
				res := &dirigent.ExecutionResult{
					ExecutionID: step.ID,
					Status:      dirigent.StatusFailed,
					Error:       dirigent.NewStepExecutionError("workflow", step.ID, resolveErr),
					StartedAt:   time.Now(),
				}
				results = append(results, res)
				if failFast {
					abort = true
				}
				continue
			}
			step.Params = resolved
		}

		res := runner.ExecuteStep(ctx, &step, depth+1)
		results = append(results, res)

		if res.Succeeded() {
			outputs[step.ID] = res.Output
			continue
		}
		if dirigent.IsCode(res.Error, dirigent.ErrCodeCycleOrDepth) {
			// Depth violations abort unconditionally.
			abort = true
			continue
		}
		if failFast {
			abort = true
		}
	}
	return results, nil
}

// runParallel fans the steps out over a bounded worker pool. Under
// fail-fast the first failure cancels the group; steps that never started
// are reported skipped, in the input order of the step list.
func (e *Engine) runParallel(ctx context.Context, wf *dirigent.Instruction, depth int, runner dirigent.StepRunner) ([]*dirigent.ExecutionResult, error) {
	results := make([]*dirigent.ExecutionResult, len(wf.Steps))
	states := make([]stepStatus, len(wf.Steps))
	stepIDs := make([]string, len(wf.Steps))
	for i := range states {
		states[i] = stepPending
	}
	var stateMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	execCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	failFast := wf.FailFastEnabled()
	workerPool := pool.New().WithMaxGoroutines(e.maxWorkers)

	for i := range wf.Steps {
		idx := i
		step := wf.Steps[i]
		if step.ID == "" {
			step.ID = uuid.NewString()
		}
		stepIDs[i] = step.ID
		if wf.OptimizeWorkflow && step.Type == dirigent.InstructionDirect {
			step.Optimize = true
		}

		workerPool.Go(func() {
			stateMu.Lock()
			if execCtx.Err() != nil {
				states[idx] = stepSkipped
				results[idx] = skippedResult(step.ID)
				stateMu.Unlock()
				return
			}
			states[idx] = stepRunning
			stateMu.Unlock()

			res := runner.ExecuteStep(execCtx, &step, depth+1)

			stateMu.Lock()
			states[idx] = stepDone
			results[idx] = res
			stateMu.Unlock()

			if res.Succeeded() {
				return
			}
			if dirigent.IsCode(res.Error, dirigent.ErrCodeCycleOrDepth) || failFast {
				cancel()
			}
		})
	}

	workerPool.Wait()
	g.Wait()

	// Steps cancelled mid-flight report a cancellation failure; under
	// fail-fast only the triggering failure counts, the rest are skipped.
	stateMu.Lock()
	defer stateMu.Unlock()
	for i := range results {
		if results[i] == nil {
			results[i] = skippedResult(stepIDs[i])
			continue
		}
		if failFast && dirigent.IsCode(results[i].Error, dirigent.ErrCodeCancelled) {
			results[i] = skippedResult(results[i].ExecutionID)
		}
	}
	return results, nil
}

func skippedResult(stepID string) *dirigent.ExecutionResult {
	return &dirigent.ExecutionResult{
		ExecutionID: stepID,
		Status:      dirigent.StatusSkipped,
		StartedAt:   time.Now(),
	}
}
