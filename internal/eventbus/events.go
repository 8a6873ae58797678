// Package eventbus carries instruction lifecycle and telemetry events
// between the dispatcher and asynchronous consumers.
package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event
type EventType string

// Standard event types
const (
	// Instruction lifecycle events
	EventInstructionReceived  EventType = "instruction_received"
	EventInstructionCompleted EventType = "instruction_completed"
	EventInstructionFailed    EventType = "instruction_failed"

	// Workflow events
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventStepStarted       EventType = "step_started"
	EventStepSucceeded     EventType = "step_succeeded"
	EventStepFailed        EventType = "step_failed"
	EventStepSkipped       EventType = "step_skipped"

	// Intent resolution events
	EventIntentResolutionStarted EventType = "intent_resolution_started"
	EventIntentResolutionSuccess EventType = "intent_resolution_success"
	EventIntentResolutionFailure EventType = "intent_resolution_failure"

	// Capability synthesis events
	EventSynthesisStarted EventType = "synthesis_started"
	EventSynthesisSuccess EventType = "synthesis_success"
	EventSynthesisFailure EventType = "synthesis_failure"

	// Optimization telemetry
	EventTelemetryRecorded EventType = "telemetry_recorded"

	// Service registry events
	EventServiceProbeSucceeded EventType = "service_probe_succeeded"
	EventServiceProbeFailed    EventType = "service_probe_failed"
	EventServiceUnreachable    EventType = "service_unreachable"

	// Async submission events
	EventAsyncSubmissionStarted   EventType = "async_submission_started"
	EventAsyncSubmissionFinished  EventType = "async_submission_finished"
	EventAsyncSubmissionCancelled EventType = "async_submission_cancelled"

	// System events
	EventSystemError   EventType = "system_error"
	EventSystemWarning EventType = "system_warning"
)

// EventHandler is a function that handles events
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the orchestrator
type Event interface {
	// Type returns the event type
	Type() EventType

	// Payload returns the event data
	Payload() interface{}

	// Metadata returns additional information about the event
	Metadata() map[string]interface{}

	// Timestamp returns when the event occurred
	Timestamp() int64

	// Source returns what generated the event
	Source() string
}

// Bus is the central event dispatch system
type Bus interface {
	// Publish offers an event to all subscribed handlers. Publishing never
	// blocks the caller: when the bus is saturated the event is dropped.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for specific event types and returns a
	// subscription ID usable with Unsubscribe.
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for every event type.
	SubscribeAll(handler EventHandler) (string, error)

	// Unsubscribe removes a subscription by ID
	Unsubscribe(subscriptionID string) error

	// Close shuts down the bus, draining workers.
	Close() error
}

// BaseEvent is a simple implementation of the Event interface
type BaseEvent struct {
	eventType  EventType
	payload    interface{}
	metadata   map[string]interface{}
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent
func NewEvent(eventType EventType, payload interface{}, source string, metadata map[string]interface{}) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

// Type returns the event type
func (e *BaseEvent) Type() EventType {
	return e.eventType
}

// Payload returns the event data
func (e *BaseEvent) Payload() interface{} {
	return e.payload
}

// Metadata returns additional information about the event
func (e *BaseEvent) Metadata() map[string]interface{} {
	return e.metadata
}

// Timestamp returns when the event occurred
func (e *BaseEvent) Timestamp() int64 {
	return e.timestamp
}

// Source returns what generated the event
func (e *BaseEvent) Source() string {
	return e.sourceInfo
}

// WithMetadata adds or updates a metadata entry and returns the same event
// to allow fluent chaining.
func (e *BaseEvent) WithMetadata(key string, value interface{}) *BaseEvent {
	e.metadata[key] = value
	return e
}
