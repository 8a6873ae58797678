package dirigent

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/kestrelworks/dirigent/internal/eventbus"
)

// Dispatcher is the single entry point for instruction execution. It owns
// the lifecycle of every instruction: validation, routing to the component
// matching the declared type, recording the outcome in the State Store, and
// emitting optimization telemetry. All sub-components return results
// without side effects on shared state; this is the only writer.
type Dispatcher struct {
	config    Config
	validator *Validator
	handlers  HandlerRegistry
	engine    WorkflowEngine
	resolver  IntentResolver
	gateway   SynthesisGateway
	store     StateStore
	feedback  FeedbackLoop
	bus       eventbus.Bus
	machine   *StateMachine
}

func newDispatcher(config Config, handlers HandlerRegistry, engine WorkflowEngine,
	resolver IntentResolver, gateway SynthesisGateway, store StateStore,
	feedback FeedbackLoop, bus eventbus.Bus) *Dispatcher {

	d := &Dispatcher{
		config:    config,
		validator: NewValidator(),
		handlers:  handlers,
		engine:    engine,
		resolver:  resolver,
		gateway:   gateway,
		store:     store,
		feedback:  feedback,
		bus:       bus,
	}
	d.machine = d.createLifecycleMachine()
	return d
}

// Execute runs a single instruction to completion. It never returns an
// error: every failure, including validation rejections and cancellation,
// is folded into the returned ExecutionResult.
func (d *Dispatcher) Execute(ctx context.Context, instr *Instruction) *ExecutionResult {
	return d.ExecuteStep(ctx, instr, 0)
}

// ExecuteStep implements StepRunner: it executes one instruction at the
// given recursion depth. Workflow steps re-enter the dispatcher through it.
func (d *Dispatcher) ExecuteStep(ctx context.Context, instr *Instruction, depth int) *ExecutionResult {
	if depth > 0 {
		d.publish(ctx, eventbus.EventStepStarted, nil, map[string]interface{}{
			"execution_id": instr.ID,
			"depth":        depth,
		})
	}
	ec := NewExecContext(instr, depth)
	_ = d.machine.Run(ctx, ec)
	return d.finalize(ec)
}

// finalize guarantees a non-nil result carrying the execution id, start
// time and duration, whatever path the state machine took.
func (d *Dispatcher) finalize(ec *ExecContext) *ExecutionResult {
	result := ec.Result
	if result == nil {
		result = &ExecutionResult{Status: StatusFailed}
	}
	if result.ExecutionID == "" && ec.Instruction != nil {
		result.ExecutionID = ec.Instruction.ID
	}
	if result.StartedAt.IsZero() {
		result.StartedAt = ec.StartTime
	}
	if result.Duration == 0 {
		result.Duration = ec.TotalDuration()
	}
	if lastErr, stage := ec.LastFailure(); result.Status == StatusFailed && result.Error == nil && lastErr != nil {
		if ec.State() == StateCancelled {
			result.Error = NewCancelledError(stage, lastErr)
		} else {
			result.Error = AsError(stage, lastErr)
		}
	}
	return result
}

// invokeDirect looks the handler up and invokes it, applying the per-call
// timeout and retrying ServiceUnavailable failures with the configured
// backoff. Any raised error is captured, never propagated as a panic.
func (d *Dispatcher) invokeDirect(ctx context.Context, instr *Instruction) (map[string]interface{}, error) {
	var lastErr error

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, NewCancelledError("dispatch", ctx.Err())
		}

		callTimeout := d.config.DefaultCallTimeout
		if callTimeout <= 0 {
			callTimeout = time.Minute
		}
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		output, err := d.handlers.Invoke(callCtx, instr.Handler, instr.Params)
		cancel()

		if err == nil {
			return output, nil
		}

		switch {
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			err = NewTimeoutError("dispatch", err)
		case !IsCode(err, ErrCodeCancelled) && (errors.Is(err, context.Canceled) || ctx.Err() != nil):
			err = NewCancelledError("dispatch", err)
		default:
			// Handler failures without an orchestrator code are step
			// execution failures, not internal ones.
			var coded *Error
			if !errors.As(err, &coded) {
				err = NewStepExecutionError("dispatch", instr.ID, err)
			}
		}
		lastErr = err

		// Only unavailable services are worth retrying; validation and
		// handler-level failures are deterministic.
		if !IsCode(err, ErrCodeServiceUnavailable) || attempt == d.config.MaxRetries {
			break
		}

		log.Printf("Handler invocation failed, retrying (handler: %s, attempt: %d, max_retries: %d, error: %v)",
			instr.Handler, attempt+1, d.config.MaxRetries, err)
		select {
		case <-ctx.Done():
			return nil, NewCancelledError("dispatch", ctx.Err())
		case <-time.After(d.config.RetryDelay):
		}
	}

	return nil, lastErr
}

// routeIntent resolves the intent and executes the resulting instructions
// as an implicit sequential workflow.
func (d *Dispatcher) routeIntent(ctx context.Context, ec *ExecContext) (*ExecutionResult, error) {
	instr := ec.Instruction
	if d.resolver == nil || !d.config.EnableIntentResolver {
		return nil, NewIntentResolutionError("routing", errors.New("intent resolver is disabled"))
	}

	d.publish(ctx, eventbus.EventIntentResolutionStarted, instr.Intent, map[string]interface{}{
		"execution_id": instr.ID,
	})

	resolved, err := d.resolver.Resolve(ctx, instr.Intent, instr.Context)
	if err != nil {
		d.publish(ctx, eventbus.EventIntentResolutionFailure, instr.Intent, map[string]interface{}{
			"execution_id": instr.ID,
			"error":        err.Error(),
		})
		return nil, err
	}

	d.publish(ctx, eventbus.EventIntentResolutionSuccess, instr.Intent, map[string]interface{}{
		"execution_id":      instr.ID,
		"instruction_count": len(resolved),
	})

	implicit := &Instruction{
		Type:  InstructionWorkflow,
		ID:    instr.ID,
		Steps: resolved,
	}
	return d.engine.Run(ctx, implicit, ec.Depth, d)
}

// routeWorkflow hands the workflow to the engine, propagating the
// optimize_workflow flag down to each step so their telemetry is emitted.
func (d *Dispatcher) routeWorkflow(ctx context.Context, ec *ExecContext) (*ExecutionResult, error) {
	wf := ec.Instruction
	if wf.OptimizeWorkflow {
		clone := *wf
		clone.Steps = make([]Instruction, len(wf.Steps))
		copy(clone.Steps, wf.Steps)
		for i := range clone.Steps {
			if clone.Steps[i].Type == InstructionDirect {
				clone.Steps[i].Optimize = true
			}
		}
		wf = &clone
	}

	d.publish(ctx, eventbus.EventWorkflowStarted, nil, map[string]interface{}{
		"execution_id": wf.ID,
		"step_count":   len(wf.Steps),
		"parallel":     wf.Parallel,
	})

	result, err := d.engine.Run(ctx, wf, ec.Depth, d)

	eventType := eventbus.EventWorkflowCompleted
	if err != nil || !result.Succeeded() {
		eventType = eventbus.EventWorkflowFailed
	}
	d.publish(ctx, eventType, nil, map[string]interface{}{
		"execution_id": wf.ID,
	})
	d.publishStepOutcomes(ctx, wf.ID, result)

	return result, err
}

// publishStepOutcomes fans the per-step outcomes of a finished workflow out
// on the bus.
func (d *Dispatcher) publishStepOutcomes(ctx context.Context, workflowID string, result *ExecutionResult) {
	for _, step := range result.StepResults() {
		var eventType eventbus.EventType
		switch step.Status {
		case StatusSucceeded:
			eventType = eventbus.EventStepSucceeded
		case StatusSkipped:
			eventType = eventbus.EventStepSkipped
		default:
			eventType = eventbus.EventStepFailed
		}
		d.publish(ctx, eventType, nil, map[string]interface{}{
			"workflow_id":  workflowID,
			"execution_id": step.ExecutionID,
			"duration_ms":  step.Duration.Milliseconds(),
		})
	}
}

// routeToolRequest forwards the request to the synthesis gateway.
func (d *Dispatcher) routeToolRequest(ctx context.Context, ec *ExecContext) (*ExecutionResult, error) {
	instr := ec.Instruction
	if d.gateway == nil || !d.config.EnableSynthesis {
		return nil, NewSynthesisError("routing", errors.New("tool synthesis is disabled"))
	}

	d.publish(ctx, eventbus.EventSynthesisStarted, instr.Description, map[string]interface{}{
		"execution_id": instr.ID,
		"name":         instr.Name,
	})

	descriptor, err := d.gateway.Synthesize(ctx, instr.Description, instr.Name, instr.Integrate)
	if err != nil {
		d.publish(ctx, eventbus.EventSynthesisFailure, instr.Description, map[string]interface{}{
			"execution_id": instr.ID,
			"error":        err.Error(),
		})
		return nil, err
	}

	d.publish(ctx, eventbus.EventSynthesisSuccess, descriptor.Name, map[string]interface{}{
		"execution_id": instr.ID,
		"registered":   descriptor.Registered,
	})

	return &ExecutionResult{Status: StatusSucceeded, Output: descriptor}, nil
}

// emitTelemetry sends a sample to the optimization loop without ever
// blocking or failing the instruction's own execution.
func (d *Dispatcher) emitTelemetry(ctx context.Context, instr *Instruction, result *ExecutionResult) {
	if instr.Type != InstructionDirect || !instr.Optimize || result == nil {
		return
	}

	sample := TelemetrySample{
		Handler:   instr.Handler,
		Succeeded: result.Succeeded(),
		Latency:   result.Duration,
	}

	if d.bus != nil {
		d.publish(ctx, eventbus.EventTelemetryRecorded, sample, map[string]interface{}{
			"execution_id": instr.ID,
		})
		return
	}
	if d.feedback != nil {
		go d.feedback.Record(sample)
	}
}

func (d *Dispatcher) publish(ctx context.Context, eventType eventbus.EventType, payload interface{}, metadata map[string]interface{}) {
	if d.bus == nil {
		return
	}
	if err := d.bus.Publish(ctx, eventbus.NewEvent(eventType, payload, "dispatcher", metadata)); err != nil {
		log.Printf("Failed to publish event (event_type: %s): %v", eventType, err)
	}
}
