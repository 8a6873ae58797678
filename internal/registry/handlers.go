package registry

import (
	"context"
	"log"
	"sync"

	dirigent "github.com/kestrelworks/dirigent"
)

// HandlerRegistry maps names to locally registered handlers, falling back
// to the service registry for capabilities offered by remote providers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]dirigent.Handler

	services *ServiceRegistry
}

// HandlerRegistryOption configures a HandlerRegistry.
type HandlerRegistryOption func(*HandlerRegistry)

// WithServiceRegistry enables service-backed lookup for names with no local
// handler.
func WithServiceRegistry(sr *ServiceRegistry) HandlerRegistryOption {
	return func(r *HandlerRegistry) { r.services = sr }
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry(options ...HandlerRegistryOption) *HandlerRegistry {
	r := &HandlerRegistry{
		handlers: make(map[string]dirigent.Handler),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Register adds a handler under name. Re-registering an existing name is an
// error; synthesized handlers must pick fresh names.
func (r *HandlerRegistry) Register(name string, h dirigent.Handler) error {
	if name == "" || h == nil {
		return dirigent.NewValidationError("handler_registry", "name/handler", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return dirigent.NewConfigurationError("handler '"+name+"' already registered", nil)
	}
	r.handlers[name] = h
	log.Printf("Handler registered (name: %s)", name)
	return nil
}

// Unregister removes a handler by name. Unknown names are ignored.
func (r *HandlerRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		delete(r.handlers, name)
		log.Printf("Handler unregistered (name: %s)", name)
	}
}

// Lookup returns the local handler registered under name, or a
// HandlerNotFoundError. Service-backed capabilities are reachable through
// Invoke, not Lookup — they have no local Handler value.
func (r *HandlerRegistry) Lookup(name string) (dirigent.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, dirigent.NewHandlerNotFoundError("routing", name)
	}
	return h, nil
}

// Invoke validates and executes the named capability: a local handler when
// one is registered, otherwise a remote provider advertising the name.
func (r *HandlerRegistry) Invoke(ctx context.Context, name string, params map[string]interface{}) (map[string]interface{}, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()

	if ok {
		if err := h.Validate(params); err != nil {
			return nil, dirigent.NewValidationError("routing", "params", err)
		}
		return h.Execute(ctx, params)
	}

	if r.services != nil {
		if _, found := r.services.Select(name); found {
			return r.services.Invoke(ctx, name, params)
		}
	}
	return nil, dirigent.NewHandlerNotFoundError("routing", name)
}

// Catalog returns the schemas of every invocable capability keyed by name.
// Remote capabilities carry a minimal schema built from their descriptor.
func (r *HandlerRegistry) Catalog() map[string]map[string]interface{} {
	r.mu.RLock()
	catalog := make(map[string]map[string]interface{}, len(r.handlers))
	for name, h := range r.handlers {
		catalog[name] = h.Schema()
	}
	r.mu.RUnlock()

	if r.services != nil {
		for _, sd := range r.services.List() {
			if sd.Health == dirigent.HealthUnreachable {
				continue
			}
			for _, capability := range sd.Capabilities {
				if _, exists := catalog[capability]; exists {
					continue
				}
				catalog[capability] = map[string]interface{}{
					"description": "remote capability provided by service " + sd.Name,
					"service":     sd.Name,
				}
			}
		}
	}
	return catalog
}
