package dirigent

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeHandlerNotFound    = "HANDLER_NOT_FOUND"
	ErrCodeStepExecution      = "STEP_EXECUTION_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeIntentResolution   = "INTENT_RESOLUTION_ERROR"
	ErrCodeSynthesis          = "SYNTHESIS_ERROR"
	ErrCodeCycleOrDepth       = "CYCLE_OR_DEPTH_ERROR"
	ErrCodeCancelled          = "EXECUTION_CANCELLED"
	ErrCodeTimeout            = "EXECUTION_TIMEOUT"
	ErrCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Error is the structured cause attached to a failed ExecutionResult. The
// Dispatcher never lets one escape past its boundary: every failure is
// folded into the owning result.
type Error struct {
	Code     string `json:"code"`            // machine-readable code (e.g. ErrCodeHandlerNotFound)
	Stage    string `json:"stage"`           // where it occurred (e.g. "validation", "workflow")
	Message  string `json:"message"`         // human-readable message
	Cause    error  `json:"-"`               // underlying error, if any
	CauseMsg string `json:"cause,omitempty"` // serialized form of Cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause, allowing for error chaining.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new coded Error.
func NewError(code, stage, message string, cause error) *Error {
	e := &Error{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
	if cause != nil {
		e.CauseMsg = cause.Error()
	}
	return e
}

// AsError extracts a *Error from err, wrapping foreign errors as internal.
func AsError(stage string, err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return NewInternalError(stage, err.Error(), err)
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code string) bool {
	var de *Error
	if errors.As(err, &de) && de != nil {
		return de.Code == code
	}
	return false
}

// Specific error constructors

func NewValidationError(stage, field string, cause error) *Error {
	return NewError(ErrCodeValidation, stage, fmt.Sprintf("invalid instruction field '%s'", field), cause)
}

func NewHandlerNotFoundError(stage, handlerName string) *Error {
	return NewError(ErrCodeHandlerNotFound, stage, fmt.Sprintf("handler '%s' not found", handlerName), nil)
}

func NewStepExecutionError(stage, stepID string, cause error) *Error {
	return NewError(ErrCodeStepExecution, stage, fmt.Sprintf("step '%s' failed", stepID), cause)
}

func NewServiceUnavailableError(stage, serviceName string, cause error) *Error {
	return NewError(ErrCodeServiceUnavailable, stage, fmt.Sprintf("service '%s' unavailable", serviceName), cause)
}

func NewIntentResolutionError(stage string, cause error) *Error {
	return NewError(ErrCodeIntentResolution, stage, "failed to resolve intent into instructions", cause)
}

func NewSynthesisError(stage string, cause error) *Error {
	return NewError(ErrCodeSynthesis, stage, "capability synthesis failed", cause)
}

func NewCycleOrDepthError(stage string, depth int) *Error {
	return NewError(ErrCodeCycleOrDepth, stage, fmt.Sprintf("workflow recursion exceeded depth limit (%d)", depth), nil)
}

func NewCancelledError(stage string, cause error) *Error {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewTimeoutError(stage string, cause error) *Error {
	return NewError(ErrCodeTimeout, stage, "execution timed out", cause)
}

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewInternalError(stage, message string, cause error) *Error {
	return NewError(ErrCodeInternal, stage, message, cause)
}
