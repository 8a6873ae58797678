// Package registry provides the handler and service registries: handler
// lookup with service-backed fallback, and health-tracked selection among
// remote capability providers.
package registry

import (
	"context"
	"log"
	"sync"
	"time"

	dirigent "github.com/kestrelworks/dirigent"
	"github.com/kestrelworks/dirigent/internal/eventbus"
)

// consecutiveFailureLimit is how many failed probes or invocations in a row
// move a service to unreachable.
const consecutiveFailureLimit = 3

type serviceState struct {
	descriptor dirigent.ServiceDescriptor
	failures   int
}

// ServiceRegistry owns the descriptors of remote capability providers. All
// health mutation happens here: active probes from the probe loop and
// passive marking after invocations.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]*serviceState

	client dirigent.ServiceClient
	prober dirigent.Prober
	scorer dirigent.Scorer
	bus    eventbus.Bus

	probeInterval time.Duration
	stopProbe     chan struct{}
	probeWG       sync.WaitGroup
	probeOnce     sync.Once
	stopOnce      sync.Once
}

// ServiceRegistryOption configures a ServiceRegistry.
type ServiceRegistryOption func(*ServiceRegistry)

// WithProber sets the health-probe collaborator.
func WithProber(p dirigent.Prober) ServiceRegistryOption {
	return func(r *ServiceRegistry) { r.prober = p }
}

// WithScorer sets the score source consulted during provider selection.
func WithScorer(s dirigent.Scorer) ServiceRegistryOption {
	return func(r *ServiceRegistry) { r.scorer = s }
}

// WithEventBus makes the registry publish probe and reachability events.
func WithEventBus(bus eventbus.Bus) ServiceRegistryOption {
	return func(r *ServiceRegistry) { r.bus = bus }
}

// WithProbeInterval sets how often registered services are probed.
func WithProbeInterval(d time.Duration) ServiceRegistryOption {
	return func(r *ServiceRegistry) {
		if d > 0 {
			r.probeInterval = d
		}
	}
}

// NewServiceRegistry creates a registry routing remote calls through client.
func NewServiceRegistry(client dirigent.ServiceClient, options ...ServiceRegistryOption) *ServiceRegistry {
	r := &ServiceRegistry{
		services:      make(map[string]*serviceState),
		client:        client,
		probeInterval: 30 * time.Second,
		stopProbe:     make(chan struct{}),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Register adds or replaces a service descriptor. Health starts unknown;
// the first probe or invocation settles it.
func (r *ServiceRegistry) Register(sd dirigent.ServiceDescriptor) error {
	if sd.Name == "" || sd.Endpoint == "" {
		return dirigent.NewValidationError("service_registry", "name/endpoint", nil)
	}
	sd.Health = dirigent.HealthUnknown

	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[sd.Name] = &serviceState{descriptor: sd}
	log.Printf("Service registered (name: %s, endpoint: %s, capabilities: %d)", sd.Name, sd.Endpoint, len(sd.Capabilities))
	return nil
}

// Deregister removes a service by name.
func (r *ServiceRegistry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; ok {
		delete(r.services, name)
		log.Printf("Service deregistered (name: %s)", name)
	}
}

// Get returns a copy of the named service's descriptor.
func (r *ServiceRegistry) Get(name string) (dirigent.ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.services[name]
	if !ok {
		return dirigent.ServiceDescriptor{}, false
	}
	return st.descriptor, true
}

// List returns copies of every registered descriptor.
func (r *ServiceRegistry) List() []dirigent.ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]dirigent.ServiceDescriptor, 0, len(r.services))
	for _, st := range r.services {
		out = append(out, st.descriptor)
	}
	return out
}

// MarkSuccess records a successful probe or invocation: the service becomes
// healthy and its failure streak resets.
func (r *ServiceRegistry) MarkSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.services[name]
	if !ok {
		return
	}
	st.failures = 0
	st.descriptor.Health = dirigent.HealthHealthy
	st.descriptor.LastHealthy = time.Now()
}

// MarkFailure records a failed probe or invocation. After the consecutive
// failure limit the service drops out of selection until a probe readmits it.
func (r *ServiceRegistry) MarkFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.services[name]
	if !ok {
		return
	}
	st.failures++
	if st.failures >= consecutiveFailureLimit && st.descriptor.Health != dirigent.HealthUnreachable {
		st.descriptor.Health = dirigent.HealthUnreachable
		log.Printf("Service marked unreachable (name: %s, consecutive_failures: %d)", name, st.failures)
		r.publish(eventbus.EventServiceUnreachable, name, map[string]interface{}{
			"consecutive_failures": st.failures,
		})
	}
}

func (r *ServiceRegistry) publish(eventType eventbus.EventType, payload interface{}, metadata map[string]interface{}) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(context.Background(), eventbus.NewEvent(eventType, payload, "service_registry", metadata))
}

// Select picks the provider for a capability among non-unreachable services
// advertising it: highest feedback score first, ties broken by most recent
// health. unknown-health services are eligible so new registrations get
// traffic before their first probe.
func (r *ServiceRegistry) Select(capability string) (dirigent.ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *serviceState
	var bestScore float64
	for _, st := range r.services {
		if st.descriptor.Health == dirigent.HealthUnreachable {
			continue
		}
		if !st.descriptor.Offers(capability) {
			continue
		}
		score := 0.0
		if r.scorer != nil {
			score = r.scorer.Score(st.descriptor.Name)
		}
		if best == nil || score > bestScore ||
			(score == bestScore && st.descriptor.LastHealthy.After(best.descriptor.LastHealthy)) {
			best = st
			bestScore = score
		}
	}
	if best == nil {
		return dirigent.ServiceDescriptor{}, false
	}
	return best.descriptor, true
}

// Invoke selects a provider for the capability and calls it, marking the
// outcome. No provider or a failed call yields a ServiceUnavailableError so
// the dispatcher's retry policy can engage.
func (r *ServiceRegistry) Invoke(ctx context.Context, capability string, params map[string]interface{}) (map[string]interface{}, error) {
	if r.client == nil {
		return nil, dirigent.NewConfigurationError("service registry has no client", nil)
	}
	sd, ok := r.Select(capability)
	if !ok {
		return nil, dirigent.NewServiceUnavailableError("routing", capability, nil)
	}

	out, err := r.client.Call(ctx, sd.Endpoint, capability, params)
	if err != nil {
		r.MarkFailure(sd.Name)
		return nil, dirigent.NewServiceUnavailableError("routing", sd.Name, err)
	}
	r.MarkSuccess(sd.Name)
	return out, nil
}

// StartProbing launches the background probe loop. Safe to call once;
// StopProbing shuts it down.
func (r *ServiceRegistry) StartProbing(ctx context.Context) {
	if r.prober == nil {
		return
	}
	r.probeOnce.Do(func() {
		r.probeWG.Add(1)
		go r.probeLoop(ctx)
	})
}

// StopProbing stops the probe loop and waits for it to exit.
func (r *ServiceRegistry) StopProbing() {
	r.stopOnce.Do(func() { close(r.stopProbe) })
	r.probeWG.Wait()
}

func (r *ServiceRegistry) probeLoop(ctx context.Context) {
	defer r.probeWG.Done()
	ticker := time.NewTicker(r.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopProbe:
			return
		case <-ticker.C:
			r.probeAll(ctx)
		}
	}
}

// probeAll probes every service once. A success readmits an unreachable
// service; failures accumulate toward the limit.
func (r *ServiceRegistry) probeAll(ctx context.Context) {
	for _, sd := range r.List() {
		if err := r.prober.Probe(ctx, sd); err != nil {
			log.Printf("Service probe failed (name: %s, error: %v)", sd.Name, err)
			r.MarkFailure(sd.Name)
			r.publish(eventbus.EventServiceProbeFailed, sd.Name, map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		r.MarkSuccess(sd.Name)
		r.publish(eventbus.EventServiceProbeSucceeded, sd.Name, nil)
	}
}
