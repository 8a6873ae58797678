package dirigent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kestrelworks/dirigent/internal/eventbus"
)

// AsyncStatus is the status snapshot of an asynchronous submission.
type AsyncStatus struct {
	ExecutionID  string          `json:"execution_id"`
	Type         InstructionType `json:"type"`
	CurrentState ExecState       `json:"current_state"`
	StartTime    time.Time       `json:"start_time"`
	Duration     time.Duration   `json:"duration"`
	IsComplete   bool            `json:"is_complete"`
	HasError     bool            `json:"has_error"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorStage   string          `json:"error_stage,omitempty"`
}

// SubmitAsync starts an asynchronous instruction execution and returns a
// submission id that can be used to poll status or fetch the result.
func (o *Orchestrator) SubmitAsync(ctx context.Context, instr *Instruction) (string, error) {
	if instr == nil {
		return "", NewValidationError("submit", "instruction", fmt.Errorf("instruction is nil"))
	}

	submissionID := uuid.New().String()
	if instr.ID == "" {
		instr.ID = submissionID
	}

	ec := NewExecContext(instr, 0)

	// The submission outlives the caller's context; cancellation happens
	// through CancelAsync. The cancel function must be in place before the
	// context is published, or a concurrent CancelAsync could miss it.
	asyncCtx, cancel := context.WithCancel(context.Background())
	ec.StateData["cancel"] = cancel

	o.asyncMutex.Lock()
	o.asyncExecutions[submissionID] = ec
	o.asyncMutex.Unlock()

	if o.bus != nil {
		o.bus.Publish(ctx, eventbus.NewEvent(
			eventbus.EventAsyncSubmissionStarted,
			instr.Type,
			"orchestrator",
			map[string]interface{}{"submission_id": submissionID},
		))
	}

	go func() {
		defer cancel()

		_ = o.dispatcher.machine.Run(asyncCtx, ec)
		result := o.dispatcher.finalize(ec)

		o.asyncMutex.Lock()
		ec.Result = result
		o.asyncMutex.Unlock()

		if o.bus != nil {
			o.bus.Publish(context.Background(), eventbus.NewEvent(
				eventbus.EventAsyncSubmissionFinished,
				result.Status,
				"orchestrator",
				map[string]interface{}{
					"submission_id": submissionID,
					"duration_ms":   result.Duration.Milliseconds(),
				},
			))
		}
	}()

	return submissionID, nil
}

// GetAsyncStatus retrieves the current status of an async submission.
func (o *Orchestrator) GetAsyncStatus(submissionID string) (*AsyncStatus, error) {
	o.asyncMutex.RLock()
	defer o.asyncMutex.RUnlock()

	ec, exists := o.asyncExecutions[submissionID]
	if !exists {
		return nil, fmt.Errorf("submission '%s' not found", submissionID)
	}

	state := ec.State()
	status := &AsyncStatus{
		ExecutionID:  ec.Instruction.ID,
		Type:         ec.Instruction.Type,
		CurrentState: state,
		StartTime:    ec.StartTime,
		Duration:     ec.TotalDuration(),
		IsComplete:   state == StateComplete,
		HasError:     state == StateError,
	}

	if lastErr, stage := ec.LastFailure(); lastErr != nil {
		status.ErrorMessage = lastErr.Error()
		status.ErrorStage = stage
	}

	return status, nil
}

// GetAsyncResult retrieves the result of a finished async submission.
// While the submission is still running it returns an error.
func (o *Orchestrator) GetAsyncResult(submissionID string) (*ExecutionResult, error) {
	o.asyncMutex.RLock()
	defer o.asyncMutex.RUnlock()

	ec, exists := o.asyncExecutions[submissionID]
	if !exists {
		return nil, fmt.Errorf("submission '%s' not found", submissionID)
	}

	if !ec.IsTerminal() {
		return nil, fmt.Errorf("submission is still in progress (current state: %s)", ec.State())
	}
	if ec.Result == nil {
		return nil, fmt.Errorf("submission finished without a result (state: %s)", ec.State())
	}

	return ec.Result, nil
}

// CancelAsync cancels an in-flight async submission. Returns true when a
// cancellation was delivered, false when the submission already finished.
func (o *Orchestrator) CancelAsync(submissionID string) (bool, error) {
	o.asyncMutex.Lock()
	defer o.asyncMutex.Unlock()

	ec, exists := o.asyncExecutions[submissionID]
	if !exists {
		return false, fmt.Errorf("submission '%s' not found", submissionID)
	}

	if ec.IsTerminal() {
		return false, nil
	}

	cancelFn, ok := ec.StateData["cancel"].(context.CancelFunc)
	if !ok {
		return false, fmt.Errorf("cannot cancel submission: cancel function not found")
	}
	cancelFn()

	ec.SetCancelled(fmt.Errorf("execution cancelled by caller"), string(ec.State()))

	if o.bus != nil {
		o.bus.Publish(context.Background(), eventbus.NewEvent(
			eventbus.EventAsyncSubmissionCancelled,
			ec.Instruction.Type,
			"orchestrator",
			map[string]interface{}{
				"submission_id": submissionID,
				"duration_ms":   ec.TotalDuration().Milliseconds(),
			},
		))
	}

	return true, nil
}

// ListAsyncSubmissions returns all known submission ids and their states.
func (o *Orchestrator) ListAsyncSubmissions() map[string]ExecState {
	o.asyncMutex.RLock()
	defer o.asyncMutex.RUnlock()

	out := make(map[string]ExecState, len(o.asyncExecutions))
	for id, ec := range o.asyncExecutions {
		out[id] = ec.State()
	}
	return out
}

// CleanupFinishedSubmissions drops terminal submissions older than the
// given age, bounding the async bookkeeping map.
func (o *Orchestrator) CleanupFinishedSubmissions(olderThan time.Duration) int {
	o.asyncMutex.Lock()
	defer o.asyncMutex.Unlock()

	now := time.Now()
	count := 0
	for id, ec := range o.asyncExecutions {
		if ec.IsTerminal() && now.Sub(ec.StateEnteredAt()) >= olderThan {
			delete(o.asyncExecutions, id)
			count++
		}
	}
	return count
}
