package dirigent

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelworks/dirigent/internal/eventbus"
)

func TestExecContext_StateStack(t *testing.T) {
	ec := NewExecContext(&Instruction{Type: InstructionDirect, Handler: "echo"}, 0)

	if ec.CurrentState != StateInit {
		t.Errorf("expected init state, got %s", ec.CurrentState)
	}

	ec.PushState(StateValidation)
	if ec.CurrentState != StateValidation {
		t.Errorf("expected validation after push, got %s", ec.CurrentState)
	}

	if !ec.PopState() {
		t.Errorf("expected pop to succeed")
	}
	if ec.CurrentState != StateInit {
		t.Errorf("expected init after pop, got %s", ec.CurrentState)
	}
	if ec.PopState() {
		t.Errorf("expected pop on empty stack to fail")
	}
}

func TestExecContext_Terminal(t *testing.T) {
	ec := NewExecContext(nil, 0)
	if ec.IsTerminal() {
		t.Errorf("init must not be terminal")
	}

	ec.SetError(errors.New("boom"), "routing")
	if !ec.IsTerminal() || ec.CurrentState != StateError {
		t.Errorf("expected terminal error state, got %s", ec.CurrentState)
	}
	if ec.ErrorStage != "routing" {
		t.Errorf("expected error stage 'routing', got %s", ec.ErrorStage)
	}

	ec = NewExecContext(nil, 0)
	ec.SetCancelled(context.Canceled, "dispatch")
	if ec.CurrentState != StateCancelled {
		t.Errorf("expected cancelled state, got %s", ec.CurrentState)
	}

	ec = NewExecContext(nil, 0)
	ec.Complete()
	if ec.CurrentState != StateComplete || ec.EndTime.IsZero() {
		t.Errorf("complete must set terminal state and end time")
	}
}

func TestStateMachine_RunsToCompletion(t *testing.T) {
	sm := NewStateMachine(nil)
	var trail []ExecState

	sm.RegisterTransition(StateInit, func(ctx context.Context, bus eventbus.Bus, ec *ExecContext) (ExecState, error) {
		trail = append(trail, StateInit)
		return StateRouting, nil
	})
	sm.RegisterTransition(StateRouting, func(ctx context.Context, bus eventbus.Bus, ec *ExecContext) (ExecState, error) {
		trail = append(trail, StateRouting)
		ec.Complete()
		return StateComplete, nil
	})

	ec := NewExecContext(&Instruction{Type: InstructionDirect, Handler: "x"}, 0)
	if err := sm.Run(context.Background(), ec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ec.CurrentState != StateComplete {
		t.Errorf("expected complete, got %s", ec.CurrentState)
	}
	if len(trail) != 2 || trail[0] != StateInit || trail[1] != StateRouting {
		t.Errorf("unexpected transition trail: %v", trail)
	}
}

func TestStateMachine_TransitionErrorBecomesTerminal(t *testing.T) {
	sm := NewStateMachine(nil)
	sm.RegisterTransition(StateInit, func(ctx context.Context, bus eventbus.Bus, ec *ExecContext) (ExecState, error) {
		return StateError, errors.New("boom")
	})

	ec := NewExecContext(nil, 0)
	err := sm.Run(context.Background(), ec)
	if err == nil {
		t.Fatalf("expected error")
	}
	if ec.CurrentState != StateError {
		t.Errorf("expected error state, got %s", ec.CurrentState)
	}
}

func TestStateMachine_MissingTransition(t *testing.T) {
	sm := NewStateMachine(nil)
	ec := NewExecContext(nil, 0)

	if err := sm.Run(context.Background(), ec); err == nil {
		t.Errorf("expected error for state without transition")
	}
	if ec.CurrentState != StateError {
		t.Errorf("expected error state, got %s", ec.CurrentState)
	}
}

func TestStateMachine_CancelledContext(t *testing.T) {
	sm := NewStateMachine(nil)
	sm.RegisterTransition(StateInit, func(ctx context.Context, bus eventbus.Bus, ec *ExecContext) (ExecState, error) {
		return StateInit, nil // would loop forever
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ec := NewExecContext(nil, 0)
	err := sm.Run(ctx, ec)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ec.CurrentState != StateCancelled {
		t.Errorf("expected cancelled state, got %s", ec.CurrentState)
	}
}
