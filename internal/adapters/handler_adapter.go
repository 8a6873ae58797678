// Package adapters bridges external collaborators to the orchestrator's
// interfaces: genkit flows become planners, prompt registries become
// capability generators, and plain Go functions become handlers.
package adapters

import (
	"context"
	"fmt"
)

// HandlerFunc is the function shape a FuncHandler wraps.
type HandlerFunc func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// FuncHandler adapts a plain Go function to the dirigent.Handler interface.
// Validation is schema-aware: parameters declared through WithRequired must
// be present and non-nil before the function runs. WithValidator replaces
// that check entirely.
type FuncHandler struct {
	name        string
	fn          HandlerFunc
	description string
	category    string
	parameters  map[string]string
	required    []string
	returns     string
	validator   func(map[string]interface{}) error
}

// HandlerOption configures a FuncHandler.
type HandlerOption func(*FuncHandler)

// WithValidator replaces the default required-parameter check with a custom
// validator.
func WithValidator(validator func(map[string]interface{}) error) HandlerOption {
	return func(h *FuncHandler) { h.validator = validator }
}

// WithCategory sets the handler's category in its schema.
func WithCategory(category string) HandlerOption {
	return func(h *FuncHandler) { h.category = category }
}

// WithDescription sets the handler's description in its schema.
func WithDescription(description string) HandlerOption {
	return func(h *FuncHandler) { h.description = description }
}

// WithParameters documents the handler's parameters in its schema.
func WithParameters(parameters map[string]string) HandlerOption {
	return func(h *FuncHandler) { h.parameters = parameters }
}

// WithRequired declares parameters that must be present for the handler to
// run. The default validator enforces them; they also appear in the schema
// so planners know which parameters are not optional.
func WithRequired(keys ...string) HandlerOption {
	return func(h *FuncHandler) { h.required = append(h.required, keys...) }
}

// WithReturns documents the handler's output in its schema.
func WithReturns(returns string) HandlerOption {
	return func(h *FuncHandler) { h.returns = returns }
}

// NewFuncHandler creates a handler from a Go function.
func NewFuncHandler(name string, fn HandlerFunc, options ...HandlerOption) *FuncHandler {
	h := &FuncHandler{
		name: name,
		fn:   fn,
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// Execute implements the dirigent.Handler interface. Parameters are
// validated here as well so handlers invoked outside a registry get the
// same guarantees.
func (h *FuncHandler) Execute(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	if h.fn == nil {
		return nil, fmt.Errorf("handler '%s' has no function", h.name)
	}
	if err := h.Validate(params); err != nil {
		return nil, err
	}
	return h.fn(ctx, params)
}

// Schema implements the dirigent.Handler interface. The schema is assembled
// from the declared fields on demand; only populated fields appear.
func (h *FuncHandler) Schema() map[string]interface{} {
	schema := map[string]interface{}{"name": h.name}
	if h.description != "" {
		schema["description"] = h.description
	}
	if h.category != "" {
		schema["category"] = h.category
	}
	if len(h.parameters) > 0 {
		schema["parameters"] = h.parameters
	}
	if len(h.required) > 0 {
		schema["required"] = h.required
	}
	if h.returns != "" {
		schema["returns"] = h.returns
	}
	return schema
}

// Validate implements the dirigent.Handler interface. Without a custom
// validator, every declared required parameter must be present and non-nil.
func (h *FuncHandler) Validate(params map[string]interface{}) error {
	if h.validator != nil {
		return h.validator(params)
	}
	for _, key := range h.required {
		value, ok := params[key]
		if !ok || value == nil {
			return fmt.Errorf("handler '%s' missing required parameter '%s'", h.name, key)
		}
	}
	return nil
}

// Name returns the handler's registered name.
func (h *FuncHandler) Name() string {
	return h.name
}
