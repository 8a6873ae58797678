// Package intent resolves free-form goals into concrete instruction
// sequences through the planning collaborator.
package intent

import (
	"context"
	"fmt"
	"log"
	"time"

	dirigent "github.com/kestrelworks/dirigent"
)

// CatalogSource supplies the capability catalog sent to the planner so the
// returned plan only references invocable names. The handler registry
// implements it.
type CatalogSource interface {
	Catalog() map[string]map[string]interface{}
}

// Resolver turns an intent plus context into validated instructions. It
// never partially executes: the result is a complete sequence or an
// IntentResolutionError, nothing in between.
type Resolver struct {
	planner   dirigent.Planner
	catalog   CatalogSource
	validator *dirigent.Validator
	timeout   time.Duration
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithTimeout bounds a single planner call.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewResolver creates a resolver backed by the given planner and catalog.
func NewResolver(planner dirigent.Planner, catalog CatalogSource, options ...ResolverOption) *Resolver {
	r := &Resolver{
		planner:   planner,
		catalog:   catalog,
		validator: dirigent.NewValidator(),
		timeout:   time.Minute,
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Resolve asks the planner for a sequence of instructions satisfying the
// intent, then validates every returned instruction. An empty plan, a
// planner failure, or any invalid instruction rejects the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, intent string, intentContext map[string]interface{}) ([]dirigent.Instruction, error) {
	if r.planner == nil {
		return nil, dirigent.NewConfigurationError("intent resolver has no planner", nil)
	}
	if intent == "" {
		return nil, dirigent.NewIntentResolutionError("intent_resolution", fmt.Errorf("intent is empty"))
	}

	planCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	input := dirigent.PlannerInput{
		Intent:  intent,
		Context: intentContext,
	}
	if r.catalog != nil {
		input.Catalog = r.catalog.Catalog()
	}

	log.Printf("Resolving intent (intent: %q, catalog_size: %d)", intent, len(input.Catalog))
	instructions, err := r.planner.Plan(planCtx, input)
	if err != nil {
		if planCtx.Err() == context.DeadlineExceeded {
			return nil, dirigent.NewIntentResolutionError("intent_resolution",
				fmt.Errorf("planner timed out after %s: %w", r.timeout, err))
		}
		return nil, dirigent.NewIntentResolutionError("intent_resolution", err)
	}
	if len(instructions) == 0 {
		return nil, dirigent.NewIntentResolutionError("intent_resolution",
			fmt.Errorf("planner returned an empty plan for intent %q", intent))
	}

	for i := range instructions {
		// Nested intents are rejected: a plan must be concrete.
		if instructions[i].Type == dirigent.InstructionIntent {
			return nil, dirigent.NewIntentResolutionError("intent_resolution",
				fmt.Errorf("plan step %d is itself an intent", i))
		}
		if err := r.validator.Validate(&instructions[i]); err != nil {
			return nil, dirigent.NewIntentResolutionError("intent_resolution",
				fmt.Errorf("plan step %d is invalid: %w", i, err))
		}
	}

	log.Printf("Intent resolved (intent: %q, instructions: %d)", intent, len(instructions))
	return instructions, nil
}
