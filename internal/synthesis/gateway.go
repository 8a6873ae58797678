// Package synthesis forwards tool requests to the generation collaborator
// and gates what the collaborator returns before it can join the registry.
package synthesis

import (
	"context"
	"fmt"
	"log"
	"time"

	dirigent "github.com/kestrelworks/dirigent"
)

// Gateway asks the generation collaborator for a new capability, applies
// the structural acceptance check, and registers the result when the
// request opted into integration. A failed synthesis never mutates the
// registry.
type Gateway struct {
	generator dirigent.Generator
	registry  dirigent.HandlerRegistry

	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithTimeout bounds a single generation call.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRetries sets how many times a failed generation is retried and the
// delay between attempts.
func WithRetries(retries int, delay time.Duration) GatewayOption {
	return func(g *Gateway) {
		if retries >= 0 {
			g.maxRetries = retries
		}
		if delay > 0 {
			g.retryDelay = delay
		}
	}
}

// NewGateway creates a gateway backed by generator, registering accepted
// handlers into registry.
func NewGateway(generator dirigent.Generator, registry dirigent.HandlerRegistry, options ...GatewayOption) *Gateway {
	g := &Gateway{
		generator:  generator,
		registry:   registry,
		timeout:    2 * time.Minute,
		maxRetries: 1,
		retryDelay: time.Second,
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// Synthesize generates a capability for the description. When integrate is
// true the accepted handler is registered under its name and becomes
// immediately invocable; otherwise the descriptor is returned without
// touching the registry.
func (g *Gateway) Synthesize(ctx context.Context, description, name string, integrate bool) (*dirigent.HandlerDescriptor, error) {
	if g.generator == nil {
		return nil, dirigent.NewConfigurationError("synthesis gateway has no generator", nil)
	}
	if description == "" {
		return nil, dirigent.NewSynthesisError("synthesis", fmt.Errorf("description is empty"))
	}
	if integrate && g.registry == nil {
		return nil, dirigent.NewConfigurationError("synthesis gateway has no registry to integrate into", nil)
	}

	log.Printf("Starting capability synthesis (name: %q, integrate: %t)", name, integrate)

	generated, err := g.generate(ctx, description, name)
	if err != nil {
		return nil, err
	}
	if err := g.accept(generated, integrate); err != nil {
		return nil, err
	}

	descriptor := &dirigent.HandlerDescriptor{
		Name:   generated.Name,
		Schema: generated.Implementation.Schema(),
	}
	if integrate {
		if err := g.registry.Register(generated.Name, generated.Implementation); err != nil {
			return nil, dirigent.NewSynthesisError("synthesis",
				fmt.Errorf("generated handler %q could not be registered: %w", generated.Name, err))
		}
		descriptor.Registered = true
	}

	log.Printf("Capability synthesized (name: %s, registered: %t)", descriptor.Name, descriptor.Registered)
	return descriptor, nil
}

// generate calls the collaborator with per-attempt timeouts, retrying
// transient failures.
func (g *Gateway) generate(ctx context.Context, description, name string) (*dirigent.GeneratedHandler, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("Retrying capability generation (attempt: %d, max: %d)", attempt+1, g.maxRetries+1)
			select {
			case <-ctx.Done():
				return nil, dirigent.NewCancelledError("synthesis", ctx.Err())
			case <-time.After(g.retryDelay):
			}
		}

		genCtx, cancel := context.WithTimeout(ctx, g.timeout)
		generated, err := g.generator.Generate(genCtx, description, name)
		cancel()
		if err == nil {
			return generated, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, dirigent.NewCancelledError("synthesis", ctx.Err())
		}
	}
	return nil, dirigent.NewSynthesisError("synthesis", lastErr)
}

// accept is the structural gate: the generated handler must carry a name,
// an invocable implementation, and — when integrating — a name not already
// taken.
func (g *Gateway) accept(generated *dirigent.GeneratedHandler, integrate bool) error {
	if generated == nil {
		return dirigent.NewSynthesisError("synthesis", fmt.Errorf("generator returned nothing"))
	}
	if generated.Name == "" {
		return dirigent.NewSynthesisError("synthesis", fmt.Errorf("generated handler has no name"))
	}
	if generated.Implementation == nil {
		return dirigent.NewSynthesisError("synthesis",
			fmt.Errorf("generated handler %q has no implementation", generated.Name))
	}
	if integrate {
		if _, err := g.registry.Lookup(generated.Name); err == nil {
			return dirigent.NewSynthesisError("synthesis",
				fmt.Errorf("handler name %q is already registered", generated.Name))
		}
	}
	return nil
}
