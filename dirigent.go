// Package dirigent provides the core runtime for instruction-driven
// automation: typed instructions are validated, routed to handlers,
// workflows, the intent resolver or the synthesis gateway, and their
// outcomes recorded in a bounded execution history.
package dirigent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kestrelworks/dirigent/internal/eventbus"
)

// Orchestrator is the main entry point into the dirigent runtime. It
// encapsulates the dispatcher and every component instructions are routed
// to.
type Orchestrator struct {
	// Core components
	handlers HandlerRegistry
	engine   WorkflowEngine
	resolver IntentResolver
	gateway  SynthesisGateway
	store    StateStore
	feedback FeedbackLoop
	bus      eventbus.Bus

	dispatcher *Dispatcher

	// Configuration
	config Config

	// Async processing
	asyncExecutions map[string]*ExecContext
	asyncMutex      sync.RWMutex

	feedbackSubID string
}

// Config holds the configuration surface consumed by the core. The values
// are supplied by an external config-loading collaborator; the orchestrator
// only provides defaults.
type Config struct {
	// Execution concurrency limit for parallel workflow steps
	MaxConcurrentSteps int

	// Workflow recursion limit; exceeding it is a fatal CycleOrDepthError
	MaxRecursionDepth int

	// Retry configuration for external-service calls
	MaxRetries int
	RetryDelay time.Duration

	// Default per-call timeout for handler invocations
	DefaultCallTimeout time.Duration

	// Bounded history size of the State Store
	MaxHistory int

	// Active health probing interval for the Service Registry
	ProbeInterval time.Duration

	// Feature toggles
	EnableIntentResolver bool
	EnableSynthesis      bool
	EnableOptimization   bool

	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSteps:   5,
		MaxRecursionDepth:    32,
		MaxRetries:           3,
		RetryDelay:           time.Second * 2,
		DefaultCallTimeout:   time.Second * 30,
		MaxHistory:           256,
		ProbeInterval:        time.Second * 30,
		EnableIntentResolver: true,
		EnableSynthesis:      true,
		EnableOptimization:   true,
		EnableEventBus:       true,
		EventBusBufferSize:   100,
		EventBusWorkerCount:  5,
	}
}

// Option is a function that configures an Orchestrator instance.
type Option func(*Orchestrator)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(o *Orchestrator) {
		o.config = config
	}
}

// WithHandlerRegistry sets the handler registry component.
func WithHandlerRegistry(handlers HandlerRegistry) Option {
	return func(o *Orchestrator) {
		o.handlers = handlers
	}
}

// WithWorkflowEngine sets the workflow engine component.
func WithWorkflowEngine(engine WorkflowEngine) Option {
	return func(o *Orchestrator) {
		o.engine = engine
	}
}

// WithIntentResolver sets the intent resolver component.
func WithIntentResolver(resolver IntentResolver) Option {
	return func(o *Orchestrator) {
		o.resolver = resolver
	}
}

// WithSynthesisGateway sets the tool synthesis gateway component.
func WithSynthesisGateway(gateway SynthesisGateway) Option {
	return func(o *Orchestrator) {
		o.gateway = gateway
	}
}

// WithStateStore sets the state store component.
func WithStateStore(store StateStore) Option {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithFeedbackLoop sets the optimization feedback loop component.
func WithFeedbackLoop(feedback FeedbackLoop) Option {
	return func(o *Orchestrator) {
		o.feedback = feedback
	}
}

// WithEventBus sets the event bus component.
func WithEventBus(bus eventbus.Bus) Option {
	return func(o *Orchestrator) {
		o.bus = bus
	}
}

// New creates an Orchestrator with the provided options. The handler
// registry, workflow engine and state store are required; the intent
// resolver, synthesis gateway and feedback loop are optional and governed
// by their feature toggles.
func New(ctx context.Context, options ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		config:          DefaultConfig(),
		asyncExecutions: make(map[string]*ExecContext),
	}

	for _, option := range options {
		option(o)
	}

	if o.handlers == nil {
		return nil, NewConfigurationError("handler registry is required", nil)
	}
	if o.engine == nil {
		return nil, NewConfigurationError("workflow engine is required", nil)
	}
	if o.store == nil {
		return nil, NewConfigurationError("state store is required", nil)
	}
	// Initialize event bus if enabled but not provided
	if o.config.EnableEventBus && o.bus == nil {
		o.bus = eventbus.NewChannelBus(
			eventbus.WithBufferSize(o.config.EventBusBufferSize),
			eventbus.WithWorkerCount(o.config.EventBusWorkerCount),
		)
		log.Printf("Initialized default channel-based event bus")
	}

	if o.config.EnableIntentResolver && o.resolver == nil {
		o.warn(ctx, "intent resolver enabled but not provided; intent instructions will fail")
	}
	if o.config.EnableSynthesis && o.gateway == nil {
		o.warn(ctx, "tool synthesis enabled but not provided; tool_request instructions will fail")
	}

	// The feedback loop listens for telemetry over the bus so recording
	// never blocks the dispatcher.
	if o.config.EnableOptimization && o.feedback != nil && o.bus != nil {
		subID, err := o.bus.Subscribe(
			[]eventbus.EventType{eventbus.EventTelemetryRecorded},
			func(_ context.Context, evt eventbus.Event) error {
				sample, ok := evt.Payload().(TelemetrySample)
				if !ok {
					return fmt.Errorf("unexpected telemetry payload type %T", evt.Payload())
				}
				o.feedback.Record(sample)
				return nil
			},
		)
		if err != nil {
			return nil, NewConfigurationError("failed to subscribe feedback loop", err)
		}
		o.feedbackSubID = subID
	}

	o.dispatcher = newDispatcher(o.config, o.handlers, o.engine, o.resolver,
		o.gateway, o.store, o.feedback, o.bus)

	return o, nil
}

// warn logs a configuration warning and mirrors it on the bus when one is
// running.
func (o *Orchestrator) warn(ctx context.Context, message string) {
	log.Printf("Configuration warning: %s", message)
	if o.bus != nil {
		o.bus.Publish(ctx, eventbus.NewEvent(
			eventbus.EventSystemWarning, message, "orchestrator", nil,
		))
	}
}

// Submit executes an instruction synchronously on the caller's goroutine.
// It always returns a result; failures are carried in the result's error.
func (o *Orchestrator) Submit(ctx context.Context, instr *Instruction) *ExecutionResult {
	return o.dispatcher.Execute(ctx, instr)
}

// RegisterHandler adds a handler to the underlying registry.
func (o *Orchestrator) RegisterHandler(name string, h Handler) error {
	return o.handlers.Register(name, h)
}

// Handlers exposes the handler registry for catalog inspection.
func (o *Orchestrator) Handlers() HandlerRegistry {
	return o.handlers
}

// History exposes the state store for result lookup by id or key.
func (o *Orchestrator) History() StateStore {
	return o.store
}

// Close releases the orchestrator's background resources.
func (o *Orchestrator) Close() error {
	if o.bus != nil {
		if o.feedbackSubID != "" {
			o.bus.Unsubscribe(o.feedbackSubID)
		}
		return o.bus.Close()
	}
	return nil
}
