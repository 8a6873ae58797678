package dirigent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kestrelworks/dirigent/internal/eventbus"
)

// createLifecycleMachine wires the instruction lifecycle: init → validation
// → routing → recording → complete, with error and cancelled as terminal
// escapes. Per-execution state rides on the ExecContext.
func (d *Dispatcher) createLifecycleMachine() *StateMachine {
	sm := NewStateMachine(d.bus)

	sm.RegisterTransition(StateInit, d.initTransition())
	sm.RegisterTransition(StateValidation, d.validationTransition())
	sm.RegisterTransition(StateRouting, d.routingTransition())
	sm.RegisterTransition(StateRecording, d.recordingTransition())

	return sm
}

// initTransition assigns the execution id, guards the recursion depth, and
// announces the instruction.
func (d *Dispatcher) initTransition() Transition {
	return func(ctx context.Context, bus eventbus.Bus, ec *ExecContext) (ExecState, error) {
		if ec.Instruction == nil {
			return StateError, NewValidationError("init", "instruction", nil)
		}

		// CycleOrDepthError is fatal: it aborts regardless of fail-fast.
		if ec.Depth > d.config.MaxRecursionDepth {
			err := NewCycleOrDepthError("init", d.config.MaxRecursionDepth)
			ec.Result = &ExecutionResult{Status: StatusFailed, Error: err}
			return StateError, err
		}

		if ec.Instruction.ID == "" {
			ec.Instruction.ID = uuid.New().String()
		}

		if ec.Depth == 0 && bus != nil {
			bus.Publish(ctx, eventbus.NewEvent(
				eventbus.EventInstructionReceived,
				ec.Instruction.Type,
				"dispatcher",
				map[string]interface{}{
					"execution_id": ec.Instruction.ID,
				},
			))
		}

		return StateValidation, nil
	}
}

// validationTransition rejects malformed instructions before any execution.
// Rejected instructions are never routed and never recorded.
func (d *Dispatcher) validationTransition() Transition {
	return func(ctx context.Context, bus eventbus.Bus, ec *ExecContext) (ExecState, error) {
		if err := d.validator.Validate(ec.Instruction); err != nil {
			ec.Result = &ExecutionResult{
				ExecutionID: ec.Instruction.ID,
				Status:      StatusFailed,
				Error:       AsError("validation", err),
				StartedAt:   ec.StartTime,
			}
			return StateError, err
		}
		return StateRouting, nil
	}
}

// routingTransition dispatches by declared type. Routing failures are
// folded into a failed result and still flow through recording, so a
// caller can always look the outcome up afterwards.
func (d *Dispatcher) routingTransition() Transition {
	return func(ctx context.Context, bus eventbus.Bus, ec *ExecContext) (ExecState, error) {
		instr := ec.Instruction
		started := time.Now()

		var result *ExecutionResult
		var err error

		switch instr.Type {
		case InstructionDirect:
			var output map[string]interface{}
			output, err = d.invokeDirect(ctx, instr)
			if err == nil {
				result = &ExecutionResult{Status: StatusSucceeded, Output: output}
			}
		case InstructionWorkflow:
			result, err = d.routeWorkflow(ctx, ec)
		case InstructionIntent:
			result, err = d.routeIntent(ctx, ec)
		case InstructionToolRequest:
			result, err = d.routeToolRequest(ctx, ec)
		default:
			// The validator already rejected unknown types; reaching this
			// arm means a programming error.
			err = NewInternalError("routing", "unroutable instruction type", nil)
		}

		if result == nil {
			result = &ExecutionResult{
				Status: StatusFailed,
				Error:  AsError("routing", err),
			}
		}
		result.ExecutionID = instr.ID
		if result.StartedAt.IsZero() {
			result.StartedAt = started
		}
		if result.Duration == 0 {
			result.Duration = time.Since(started)
		}
		ec.Result = result

		return StateRecording, nil
	}
}

// recordingTransition is the sole writer of the State Store and the sole
// emitter of optimization telemetry.
func (d *Dispatcher) recordingTransition() Transition {
	return func(ctx context.Context, bus eventbus.Bus, ec *ExecContext) (ExecState, error) {
		instr := ec.Instruction
		result := ec.Result

		shouldStore := instr.StoreResult ||
			instr.Type == InstructionWorkflow ||
			instr.Type == InstructionIntent
		if shouldStore && d.store != nil {
			d.store.Append(StateEntry{
				ExecutionID: instr.ID,
				ResultKey:   instr.ResultKey,
				Instruction: *instr,
				Result:      result,
				RecordedAt:  time.Now(),
			})
		}

		if d.config.EnableOptimization {
			d.emitTelemetry(ctx, instr, result)
		}

		if ec.Depth == 0 && bus != nil {
			eventType := eventbus.EventInstructionCompleted
			if !result.Succeeded() {
				eventType = eventbus.EventInstructionFailed
			}
			bus.Publish(ctx, eventbus.NewEvent(
				eventType,
				result.Status,
				"dispatcher",
				map[string]interface{}{
					"execution_id": instr.ID,
					"duration_ms":  result.Duration.Milliseconds(),
				},
			))
		}

		ec.Complete()
		return StateComplete, nil
	}
}
