package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/firebase/genkit/go/ai"

	dirigent "github.com/kestrelworks/dirigent"
	"github.com/kestrelworks/dirigent/internal/prompt"
)

// designerPromptName is the prompt asked to design a new capability from a
// free-form description. It must return a capabilitySpec as JSON.
const designerPromptName = "capability_designer"

// capabilitySpec is the model's design for a new capability: its identity
// plus the prompt template that implements it.
type capabilitySpec struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Template    string            `json:"template"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// PromptGeneratorAdapter implements the Generator interface with
// prompt-backed capabilities: the designer prompt produces a template, and
// the returned handler executes that template through the prompt registry.
type PromptGeneratorAdapter struct {
	prompts *prompt.Registry
}

// NewPromptGeneratorAdapter creates a generator backed by the prompt
// registry.
func NewPromptGeneratorAdapter(prompts *prompt.Registry) *PromptGeneratorAdapter {
	return &PromptGeneratorAdapter{prompts: prompts}
}

// Generate implements the dirigent.Generator interface.
func (a *PromptGeneratorAdapter) Generate(ctx context.Context, description, name string) (*dirigent.GeneratedHandler, error) {
	if a.prompts == nil {
		return nil, dirigent.NewConfigurationError("generator has no prompt registry", nil)
	}

	resp, err := a.prompts.ExecutePrompt(ctx, designerPromptName, map[string]interface{}{
		"description":    description,
		"suggested_name": name,
	})
	if err != nil {
		return nil, fmt.Errorf("capability design failed: %w", err)
	}

	var spec capabilitySpec
	if err := json.Unmarshal([]byte(resp.Text()), &spec); err != nil {
		return nil, fmt.Errorf("capability design returned malformed spec: %w", err)
	}
	if spec.Name == "" {
		spec.Name = name
	}
	if spec.Template == "" {
		return nil, fmt.Errorf("capability design returned an empty template")
	}

	// The capability itself is a prompt: define it once, execute per call.
	defined, err := a.prompts.DefinePrompt(spec.Name, ai.WithPrompt(spec.Template))
	if err != nil {
		return nil, fmt.Errorf("failed to define capability prompt: %w", err)
	}

	handler := NewFuncHandler(spec.Name,
		func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			out, err := defined.Execute(ctx, ai.WithInput(params))
			if err != nil {
				return nil, fmt.Errorf("capability '%s' execution failed: %w", spec.Name, err)
			}
			return map[string]interface{}{"text": out.Text()}, nil
		},
		WithDescription(spec.Description),
		WithParameters(spec.Parameters),
		WithCategory("synthesized"),
	)

	log.Printf("Capability generated (name: %s)", spec.Name)
	return &dirigent.GeneratedHandler{
		Name:           spec.Name,
		Description:    spec.Description,
		Source:         spec.Template,
		Implementation: handler,
		Metadata:       map[string]interface{}{"kind": "prompt"},
	}, nil
}
