package dirigent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelworks/dirigent/internal/eventbus"
)

// ExecState represents the current phase of an instruction execution.
type ExecState string

const (
	// StateInit is the entry state: id assignment and depth accounting.
	StateInit ExecState = "init"
	// StateValidation checks the instruction shape before any execution.
	StateValidation ExecState = "validation"
	// StateRouting dispatches the instruction to the component matching its type.
	StateRouting ExecState = "routing"
	// StateRecording writes the outcome to the State Store and emits telemetry.
	StateRecording ExecState = "recording"
	// StateError is the terminal state of a failed execution.
	StateError ExecState = "error"
	// StateComplete is the terminal state of a finished execution.
	StateComplete ExecState = "complete"
	// StateCancelled is the terminal state of a cancelled execution.
	StateCancelled ExecState = "cancelled"
	// StateUnknown is used when an async execution's status cannot be determined.
	StateUnknown ExecState = "unknown"
)

// ExecContext is the "tape" a single instruction execution runs on: the
// instruction, its recursion depth, the accumulating result, and the state
// trail. One ExecContext exists per submitted instruction.
type ExecContext struct {
	// mu guards the mutable fields below; async status readers observe an
	// execution while the state machine is still driving it.
	mu sync.RWMutex

	Instruction *Instruction
	Depth       int

	// Result accumulates across states; Routing fills it, Recording
	// persists it. It is never nil once the machine terminates.
	Result *ExecutionResult

	// Error handling
	LastError  error
	ErrorStage string

	// State management
	CurrentState ExecState
	StateStack   []ExecState
	StateData    map[string]interface{}

	// Timestamp tracking
	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[ExecState]time.Time
}

// NewExecContext creates an execution context for the given instruction.
func NewExecContext(instr *Instruction, depth int) *ExecContext {
	return &ExecContext{
		Instruction:     instr,
		Depth:           depth,
		CurrentState:    StateInit,
		StateStack:      []ExecState{},
		StateData:       make(map[string]interface{}),
		StartTime:       time.Now(),
		StateStartTimes: make(map[ExecState]time.Time),
	}
}

// PushState pushes the current state onto the stack and enters a new one.
func (ec *ExecContext) PushState(state ExecState) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.StateStack = append(ec.StateStack, ec.CurrentState)
	ec.CurrentState = state
	ec.StateStartTimes[state] = time.Now()
}

// PopState restores the top state from the stack as the current state.
// Returns false if the stack is empty.
func (ec *ExecContext) PopState() bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if len(ec.StateStack) == 0 {
		return false
	}
	lastIdx := len(ec.StateStack) - 1
	ec.CurrentState = ec.StateStack[lastIdx]
	ec.StateStack = ec.StateStack[:lastIdx]
	ec.StateStartTimes[ec.CurrentState] = time.Now()
	return true
}

// State returns the current state.
func (ec *ExecContext) State() ExecState {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.CurrentState
}

// LastFailure returns the last error and the stage it occurred in.
func (ec *ExecContext) LastFailure() (error, string) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.LastError, ec.ErrorStage
}

// IsTerminal checks if the current state is terminal.
func (ec *ExecContext) IsTerminal() bool {
	state := ec.State()
	return state == StateComplete || state == StateError || state == StateCancelled
}

// SetError records the error and stage, transitioning to StateError.
func (ec *ExecContext) SetError(err error, stage string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.LastError = err
	ec.ErrorStage = stage
	ec.CurrentState = StateError
	ec.StateStartTimes[StateError] = time.Now()
}

// SetCancelled records a cancellation, transitioning to StateCancelled.
func (ec *ExecContext) SetCancelled(err error, stage string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.LastError = err
	ec.ErrorStage = stage
	ec.CurrentState = StateCancelled
	ec.StateStartTimes[StateCancelled] = time.Now()
}

// Complete marks the execution as finished and records the end time.
func (ec *ExecContext) Complete() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.CurrentState = StateComplete
	ec.EndTime = time.Now()
	ec.StateStartTimes[StateComplete] = ec.EndTime
}

// TotalDuration returns the total duration of the execution so far.
func (ec *ExecContext) TotalDuration() time.Duration {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if !ec.EndTime.IsZero() {
		return ec.EndTime.Sub(ec.StartTime)
	}
	return time.Since(ec.StartTime)
}

// StateEnteredAt returns when the current state was entered, falling back
// to the execution start time.
func (ec *ExecContext) StateEnteredAt() time.Time {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if ts, ok := ec.StateStartTimes[ec.CurrentState]; ok {
		return ts
	}
	return ec.StartTime
}

// advance moves to the next non-terminal state.
func (ec *ExecContext) advance(state ExecState) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.CurrentState = state
	ec.StateStartTimes[state] = time.Now()
}

// Transition advances an execution from one state to the next.
type Transition func(ctx context.Context, bus eventbus.Bus, ec *ExecContext) (ExecState, error)

// StateMachine drives an instruction execution through its lifecycle. The
// same machine instance is shared by all executions; per-execution state
// lives entirely in the ExecContext.
type StateMachine struct {
	transitions map[ExecState]Transition
	bus         eventbus.Bus
}

// NewStateMachine creates an empty state machine.
func NewStateMachine(bus eventbus.Bus) *StateMachine {
	return &StateMachine{
		transitions: make(map[ExecState]Transition),
		bus:         bus,
	}
}

// RegisterTransition registers the transition function for a state.
func (sm *StateMachine) RegisterTransition(state ExecState, transition Transition) {
	sm.transitions[state] = transition
}

// Run executes the machine until a terminal state is reached. The returned
// error mirrors ec.LastError; callers that must never observe an error fold
// it into the ExecutionResult instead.
func (sm *StateMachine) Run(ctx context.Context, ec *ExecContext) error {
	for !ec.IsTerminal() {
		current := ec.State()

		select {
		case <-ctx.Done():
			ec.SetCancelled(ctx.Err(), string(current))
			return ctx.Err()
		default:
		}

		transition, exists := sm.transitions[current]
		if !exists {
			err := fmt.Errorf("no transition defined for state: %s", current)
			ec.SetError(err, string(current))
			if sm.bus != nil {
				sm.bus.Publish(ctx, eventbus.NewEvent(
					eventbus.EventSystemError, err.Error(), "state_machine",
					map[string]interface{}{"state": string(current)},
				))
			}
			return err
		}

		nextState, err := transition(ctx, sm.bus, ec)
		if err != nil {
			stage := string(current)
			if err == context.Canceled || err == context.DeadlineExceeded {
				ec.SetCancelled(err, stage)
			} else if !ec.IsTerminal() {
				ec.SetError(err, stage)
			}
			continue
		}

		if !ec.IsTerminal() {
			ec.advance(nextState)
		}
	}

	lastErr, _ := ec.LastFailure()
	return lastErr
}
