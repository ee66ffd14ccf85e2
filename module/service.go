package module

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ActionHandler executes one named service action. Params arrive fully
// resolved; the handler decides what shape it accepts (map, slice, or
// primitive) and returns the action's result.
type ActionHandler func(ctx context.Context, params any) (any, error)

// ServiceInstance is the callable surface of a registered service. Workflow
// steps name actions; the instance maps those names to handlers.
type ServiceInstance interface {
	// Action returns the handler for the named action, or false when the
	// service does not implement it.
	Action(name string) (ActionHandler, bool)
}

// ActionMap is the simplest ServiceInstance: a plain map of action names to
// handlers.
type ActionMap map[string]ActionHandler

// Action implements ServiceInstance.
func (m ActionMap) Action(name string) (ActionHandler, bool) {
	h, ok := m[name]
	return h, ok
}

// ServiceDescriptor describes a service registered with the engine.
type ServiceDescriptor struct {
	// Name is the unique registry key.
	Name string

	// Instance exposes the service's callable actions.
	Instance ServiceInstance

	// Capabilities advertises what the service can do. Informational.
	Capabilities []string

	// Dependencies lists service names this service relies on. Informational.
	Dependencies []string

	// HealthCheck probes the service. A nil check means the service is
	// treated as always healthy.
	HealthCheck HealthCheck
}

// ServiceRegistry stores service descriptors keyed by name. Safe for
// concurrent use; reads during execution far outnumber writes.
type ServiceRegistry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	services map[string]ServiceDescriptor
}

// NewServiceRegistry creates an empty ServiceRegistry.
func NewServiceRegistry(logger *slog.Logger) *ServiceRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServiceRegistry{
		logger:   logger,
		services: make(map[string]ServiceDescriptor),
	}
}

// Register validates and stores a descriptor. Re-registering an existing name
// replaces the prior descriptor. The returned bool reports whether a prior
// descriptor was replaced.
func (r *ServiceRegistry) Register(desc ServiceDescriptor) (bool, error) {
	if desc.Name == "" {
		return false, fmt.Errorf("%w: name is required", ErrInvalidService)
	}
	if desc.Instance == nil {
		return false, fmt.Errorf("%w: %q has no instance", ErrInvalidService, desc.Name)
	}

	r.mu.Lock()
	_, replaced := r.services[desc.Name]
	r.services[desc.Name] = desc
	r.mu.Unlock()

	r.logger.Info("Service registered",
		"service", desc.Name,
		"capabilities", len(desc.Capabilities),
		"replaced", replaced,
	)
	return replaced, nil
}

// Get returns the descriptor for name.
func (r *ServiceRegistry) Get(name string) (ServiceDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.services[name]
	if !ok {
		return ServiceDescriptor{}, fmt.Errorf("service %q: %w", name, ErrServiceNotFound)
	}
	return desc, nil
}

// Has reports whether a service is registered under name.
func (r *ServiceRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[name]
	return ok
}

// List returns a snapshot of all descriptors, sorted by name.
func (r *ServiceRegistry) List() []ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceDescriptor, 0, len(r.services))
	for _, desc := range r.services {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered services.
func (r *ServiceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// ResolveAction returns the handler for an action on a registered service.
func (r *ServiceRegistry) ResolveAction(service, action string) (ActionHandler, error) {
	desc, err := r.Get(service)
	if err != nil {
		return nil, err
	}
	h, ok := desc.Instance.Action(action)
	if !ok {
		return nil, fmt.Errorf("service %q action %q: %w", service, action, ErrUnknownAction)
	}
	return h, nil
}
