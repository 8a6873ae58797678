package dirigent

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator checks an incoming instruction against the field set required
// by its declared type before any execution begins. It is side-effect-free:
// a rejected instruction is never dispatched.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator backed by struct-tag validation.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Per-type required-field shapes. The tagged structs carry the "required"
// rules; forbidden-field checks are explicit below because the tag language
// cannot express cross-type exclusion.
type directShape struct {
	Handler string `validate:"required"`
}

type workflowShape struct {
	Steps []Instruction `validate:"required,min=1"`
}

type intentShape struct {
	Intent string `validate:"required"`
}

type toolRequestShape struct {
	Description string `validate:"required"`
}

// Validate enforces the per-type required and forbidden field sets. It
// returns nil when the instruction may be dispatched, or a *Error with code
// ErrCodeValidation naming the offending field.
func (v *Validator) Validate(instr *Instruction) error {
	if instr == nil {
		return NewValidationError("validation", "instruction", fmt.Errorf("instruction is nil"))
	}

	switch instr.Type {
	case InstructionDirect:
		if err := v.validate.Struct(directShape{Handler: instr.Handler}); err != nil {
			return NewValidationError("validation", "handler", fmt.Errorf("direct instruction requires a handler name"))
		}
		return v.rejectForeign(instr, "direct", foreignFields{
			steps: true, intent: true, description: true, integrate: true,
		})

	case InstructionWorkflow:
		if err := v.validate.Struct(workflowShape{Steps: instr.Steps}); err != nil {
			return NewValidationError("validation", "steps", fmt.Errorf("workflow instruction requires a non-empty steps list"))
		}
		if err := v.rejectForeign(instr, "workflow", foreignFields{
			handler: true, intent: true, description: true, integrate: true,
		}); err != nil {
			return err
		}
		// Steps are validated recursively so a malformed nested instruction
		// is rejected before any sibling executes.
		for i := range instr.Steps {
			if err := v.Validate(&instr.Steps[i]); err != nil {
				return NewValidationError("validation", fmt.Sprintf("steps[%d]", i), err)
			}
		}
		return nil

	case InstructionIntent:
		if err := v.validate.Struct(intentShape{Intent: instr.Intent}); err != nil {
			return NewValidationError("validation", "intent", fmt.Errorf("intent instruction requires an intent string"))
		}
		return v.rejectForeign(instr, "intent", foreignFields{
			handler: true, steps: true, description: true, integrate: true,
		})

	case InstructionToolRequest:
		if err := v.validate.Struct(toolRequestShape{Description: instr.Description}); err != nil {
			return NewValidationError("validation", "description", fmt.Errorf("tool_request instruction requires a description"))
		}
		return v.rejectForeign(instr, "tool_request", foreignFields{
			handler: true, steps: true, intent: true,
		})

	case "":
		return NewValidationError("validation", "type", fmt.Errorf("instruction type is required"))

	default:
		return NewValidationError("validation", "type", fmt.Errorf("unknown instruction type '%s'", instr.Type))
	}
}

type foreignFields struct {
	handler     bool
	steps       bool
	intent      bool
	description bool
	integrate   bool
}

// rejectForeign rejects fields that belong to a different instruction type.
func (v *Validator) rejectForeign(instr *Instruction, typ string, foreign foreignFields) error {
	if foreign.handler && instr.Handler != "" {
		return v.foreignErr(typ, "handler")
	}
	if foreign.steps && len(instr.Steps) > 0 {
		return v.foreignErr(typ, "steps")
	}
	if foreign.intent && instr.Intent != "" {
		return v.foreignErr(typ, "intent")
	}
	if foreign.description && instr.Description != "" {
		return v.foreignErr(typ, "description")
	}
	if foreign.integrate && instr.Integrate {
		return v.foreignErr(typ, "integrate")
	}
	return nil
}

func (v *Validator) foreignErr(typ, field string) error {
	return NewValidationError("validation", field,
		fmt.Errorf("field '%s' is not allowed on a %s instruction", field, typ))
}
