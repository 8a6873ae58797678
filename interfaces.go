package dirigent

import "context"

// Handler is a named, directly invocable capability.
type Handler interface {
	// Execute performs the handler's action with the resolved parameters.
	Execute(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

	// Schema returns a description of the handler, used in the capability
	// catalog handed to the planning collaborator. Standard keys:
	// - "description": what the handler does
	// - "parameters": map of parameter names to their descriptions
	// - "returns": description of the handler's output
	// - "category": optional grouping
	Schema() map[string]interface{}

	// Validate checks whether params are acceptable before execution.
	Validate(params map[string]interface{}) error

	// Name returns the handler's registered name.
	Name() string
}

// HandlerRegistry maps handler names to invocable capabilities, consulting
// the Service Registry for remote providers when no local handler matches.
type HandlerRegistry interface {
	Register(name string, h Handler) error
	Unregister(name string)
	Lookup(name string) (Handler, error)
	Invoke(ctx context.Context, name string, params map[string]interface{}) (map[string]interface{}, error)

	// Catalog returns the schemas of every invocable capability, local and
	// service-backed, keyed by name.
	Catalog() map[string]map[string]interface{}
}

// StepRunner executes a single sub-instruction at a given recursion depth.
// The Dispatcher implements it; the Workflow Engine calls back through it
// so workflow steps may themselves be any instruction type.
type StepRunner interface {
	ExecuteStep(ctx context.Context, instr *Instruction, depth int) *ExecutionResult
}

// WorkflowEngine runs a workflow instruction's steps, sequentially or in
// parallel, applying the fail-fast policy and aggregating per-step results
// in input order.
type WorkflowEngine interface {
	Run(ctx context.Context, wf *Instruction, depth int, runner StepRunner) (*ExecutionResult, error)
}

// IntentResolver maps a free-form intent plus context into concrete,
// validated instructions. Resolution never partially executes: it either
// yields a full instruction sequence or an IntentResolutionError.
type IntentResolver interface {
	Resolve(ctx context.Context, intent string, intentContext map[string]interface{}) ([]Instruction, error)
}

// SynthesisGateway forwards a tool_request to the generation collaborator,
// performs the structural acceptance check, and optionally registers the
// accepted handler.
type SynthesisGateway interface {
	Synthesize(ctx context.Context, description, name string, integrate bool) (*HandlerDescriptor, error)
}

// StateStore is the bounded FIFO history of completed executions.
type StateStore interface {
	Append(entry StateEntry)
	ByID(executionID string) (StateEntry, error)
	ByKey(resultKey string) (StateEntry, error)
	Size() int
}

// FeedbackLoop consumes execution telemetry and maintains the per-handler
// score table read during service selection. Record never blocks.
type FeedbackLoop interface {
	Record(sample TelemetrySample)
	Score(handlerName string) float64
}

// Scorer is the read side of the feedback loop, consulted by the Service
// Registry when several providers advertise the same capability.
type Scorer interface {
	Score(handlerName string) float64
}

// Planner is the external planning collaborator: given an intent, its
// context and the capability catalog, it returns a sequence of instructions
// or an explicit failure.
type Planner interface {
	Plan(ctx context.Context, input PlannerInput) ([]Instruction, error)
}

// Generator is the external generation collaborator: given a description
// and a suggested name, it returns an invocable capability plus metadata.
type Generator interface {
	Generate(ctx context.Context, description, name string) (*GeneratedHandler, error)
}

// Prober is the discovery collaborator invoked periodically per registered
// service to refresh its health.
type Prober interface {
	Probe(ctx context.Context, service ServiceDescriptor) error
}

// ServiceClient invokes a capability on a remote service endpoint. It is an
// external collaborator; the registry only routes through it.
type ServiceClient interface {
	Call(ctx context.Context, endpoint, capability string, params map[string]interface{}) (map[string]interface{}, error)
}
