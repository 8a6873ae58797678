// Package prompt manages the loading and execution of Genkit prompts used
// by the planning and generation collaborators.
package prompt

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Registry manages the loading and execution of Genkit prompts.
type Registry struct {
	genkitInstance *genkit.Genkit
}

// NewRegistry wraps an initialized Genkit instance. Prompts are loaded by
// Genkit from the configured prompt directory.
func NewRegistry(g *genkit.Genkit) (*Registry, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	return &Registry{genkitInstance: g}, nil
}

// GetPrompt retrieves a loaded prompt by its name using Genkit's lookup.
func (r *Registry) GetPrompt(name string) (*ai.Prompt, error) {
	p := genkit.LookupPrompt(r.genkitInstance, name)
	if p == nil {
		return nil, fmt.Errorf("prompt '%s' not found", name)
	}
	return p, nil
}

// ExecutePrompt retrieves a prompt by name, renders it with the given input,
// and executes it, returning the model's response.
func (r *Registry) ExecutePrompt(ctx context.Context, promptName string, input map[string]interface{}, execOpts ...ai.PromptExecuteOption) (*ai.ModelResponse, error) {
	p, err := r.GetPrompt(promptName)
	if err != nil {
		return nil, err
	}

	allOpts := append([]ai.PromptExecuteOption{ai.WithInput(input)}, execOpts...)

	resp, err := p.Execute(ctx, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute prompt '%s': %w", promptName, err)
	}
	return resp, nil
}

// DefinePrompt allows defining prompts programmatically via the registry.
func (r *Registry) DefinePrompt(name string, opts ...ai.PromptOption) (*ai.Prompt, error) {
	p, err := genkit.DefinePrompt(r.genkitInstance, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to define prompt '%s': %w", name, err)
	}
	return p, nil
}
