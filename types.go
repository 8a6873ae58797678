package dirigent

import (
	"time"
)

// InstructionType discriminates the shape of an Instruction.
type InstructionType string

const (
	// InstructionDirect invokes a single named handler with parameters.
	InstructionDirect InstructionType = "direct"
	// InstructionWorkflow runs an ordered or parallel list of sub-instructions.
	InstructionWorkflow InstructionType = "workflow"
	// InstructionIntent is a free-form goal resolved into concrete instructions.
	InstructionIntent InstructionType = "intent"
	// InstructionToolRequest asks the generation collaborator to synthesize a
	// new capability.
	InstructionToolRequest InstructionType = "tool_request"
)

// Instruction is the single wire shape accepted by the orchestrator. The
// Type field selects which of the per-type field sets must be populated;
// the Validator rejects instructions that mix or omit them.
type Instruction struct {
	Type InstructionType `json:"type" yaml:"type"`
	ID   string          `json:"id,omitempty" yaml:"id,omitempty"`

	// direct
	Handler     string                 `json:"handler,omitempty" yaml:"handler,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	StoreResult bool                   `json:"store_result,omitempty" yaml:"store_result,omitempty"`
	ResultKey   string                 `json:"result_key,omitempty" yaml:"result_key,omitempty"`
	Optimize    bool                   `json:"optimize,omitempty" yaml:"optimize,omitempty"`

	// workflow
	Steps            []Instruction `json:"steps,omitempty" yaml:"steps,omitempty"`
	Parallel         bool          `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	FailFast         *bool         `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`
	OptimizeWorkflow bool          `json:"optimize_workflow,omitempty" yaml:"optimize_workflow,omitempty"`

	// intent
	Intent string `json:"intent,omitempty" yaml:"intent,omitempty"`

	// tool_request
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Integrate   bool   `json:"integrate,omitempty" yaml:"integrate,omitempty"`

	// shared by direct and intent
	Context map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
}

// FailFastEnabled reports the effective fail-fast policy. Workflows
// fail fast unless the field is explicitly set to false.
func (in *Instruction) FailFastEnabled() bool {
	if in.FailFast == nil {
		return true
	}
	return *in.FailFast
}

// Status is the terminal outcome of an instruction execution.
type Status string

const (
	// StatusSucceeded indicates the instruction completed successfully.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the instruction failed.
	StatusFailed Status = "failed"
	// StatusSkipped indicates the instruction was never run because a
	// sibling failed under fail-fast, or it was cancelled before starting.
	StatusSkipped Status = "skipped"
)

// ExecutionResult is produced exactly once per submitted instruction,
// including per-step results inside a workflow result.
type ExecutionResult struct {
	ExecutionID string        `json:"execution_id"`
	Status      Status        `json:"status"`
	Output      interface{}   `json:"output,omitempty"`
	Error       *Error        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Succeeded reports whether the result carries a succeeded status.
func (r *ExecutionResult) Succeeded() bool {
	return r != nil && r.Status == StatusSucceeded
}

// StepResults returns the ordered per-step results when the result belongs
// to a workflow instruction, or nil otherwise.
func (r *ExecutionResult) StepResults() []*ExecutionResult {
	if r == nil {
		return nil
	}
	steps, _ := r.Output.([]*ExecutionResult)
	return steps
}

// StateEntry is the immutable record the State Store keeps per completed
// execution. Entries are created on instruction completion and evicted FIFO
// once the store exceeds its configured history bound.
type StateEntry struct {
	ExecutionID string           `json:"execution_id"`
	ResultKey   string           `json:"result_key,omitempty"`
	Instruction Instruction      `json:"instruction"`
	Result      *ExecutionResult `json:"result"`
	RecordedAt  time.Time        `json:"recorded_at"`
}

// HealthState describes the last known health of a registered service.
type HealthState string

const (
	// HealthUnknown is the state of a service that has never been probed.
	HealthUnknown HealthState = "unknown"
	// HealthHealthy indicates the most recent probe or invocation succeeded.
	HealthHealthy HealthState = "healthy"
	// HealthUnreachable indicates the service fell out of selection after
	// consecutive failures; a successful probe readmits it.
	HealthUnreachable HealthState = "unreachable"
)

// ServiceDescriptor tracks a named external capability provider. The
// Service Registry exclusively owns its mutation: health fields change only
// through probes and passive invocation marking.
type ServiceDescriptor struct {
	Name         string      `json:"name"`
	Capabilities []string    `json:"capabilities"`
	Endpoint     string      `json:"endpoint"`
	Health       HealthState `json:"health"`
	LastHealthy  time.Time   `json:"last_healthy,omitempty"`
}

// Offers reports whether the service advertises the given capability name.
func (sd *ServiceDescriptor) Offers(capability string) bool {
	for _, c := range sd.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// PlannerInput is handed to the planning collaborator when resolving an
// intent. Catalog carries the currently invocable handler schemas so the
// returned plan only references real names.
type PlannerInput struct {
	Intent  string                            `json:"intent"`
	Context map[string]interface{}            `json:"context,omitempty"`
	Catalog map[string]map[string]interface{} `json:"catalog"`
}

// GeneratedHandler is what the generation collaborator returns for a
// tool_request. Implementation is an already-invocable capability — the
// collaborator owns any sandboxing of generated code; the gateway only
// performs the structural acceptance check and registration.
type GeneratedHandler struct {
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	Source         string                 `json:"source,omitempty"`
	Implementation Handler                `json:"-"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// HandlerDescriptor is the outcome of a successful synthesis: the accepted
// handler's identity plus whether it was integrated into the registry.
type HandlerDescriptor struct {
	Name       string                 `json:"name"`
	Schema     map[string]interface{} `json:"schema,omitempty"`
	Registered bool                   `json:"registered"`
}

// TelemetrySample is one (handler, outcome, latency) observation emitted by
// the Dispatcher for instructions that opted into optimization.
type TelemetrySample struct {
	Handler   string        `json:"handler"`
	Succeeded bool          `json:"succeeded"`
	Latency   time.Duration `json:"latency"`
}
