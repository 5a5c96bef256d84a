package component

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/powerpig99/smart-socks-sub000/errors"
)

// Factory creates a component instance from raw JSON configuration.
// Factories parse their own config and must not perform I/O; all I/O belongs
// in the component's Start method.
type Factory func(rawConfig json.RawMessage, deps Dependencies) (Discoverable, error)

// Registration holds the factory and metadata for a component type
type Registration struct {
	Name        string       `json:"name"`
	Type        string       `json:"type"` // "input", "sync", "processor", "output"
	Protocol    string       `json:"protocol"`
	Description string       `json:"description"`
	Version     string       `json:"version"`
	Schema      ConfigSchema `json:"schema"`
	Factory     Factory      `json:"-"`
}

// Registry manages component factories and running instances.
type Registry struct {
	factories map[string]*Registration
	instances map[string]Discoverable
	mu        sync.RWMutex
}

// NewRegistry creates a new empty component registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]*Registration),
		instances: make(map[string]Discoverable),
	}
}

// RegisterFactory registers a component factory under its name.
// Duplicate names are rejected.
func (r *Registry) RegisterFactory(name string, registration *Registration) error {
	if name == "" || registration == nil || registration.Factory == nil || registration.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "registration validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("factory %q is already registered", name),
			"Registry", "RegisterFactory", "duplicate factory check")
	}

	r.factories[name] = registration
	return nil
}

// CreateComponent builds an instance with the named factory and registers it
// under instanceName.
func (r *Registry) CreateComponent(
	instanceName, factoryName string, rawConfig json.RawMessage, deps Dependencies,
) (Discoverable, error) {
	r.mu.RLock()
	registration, ok := r.factories[factoryName]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no factory registered for %q", factoryName),
			"Registry", "CreateComponent", "factory lookup")
	}

	instance, err := registration.Factory(rawConfig, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent", fmt.Sprintf("factory %q", factoryName))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instances[instanceName]; exists {
		return nil, errors.WrapInvalid(
			fmt.Errorf("instance %q already exists", instanceName),
			"Registry", "CreateComponent", "duplicate instance check")
	}
	r.instances[instanceName] = instance
	return instance, nil
}

// GetInstance returns a registered instance by name
func (r *Registry) GetInstance(name string) (Discoverable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// RemoveInstance removes an instance from the registry
func (r *Registry) RemoveInstance(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, name)
}

// Instances returns a snapshot of all registered instances
func (r *Registry) Instances() map[string]Discoverable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Discoverable, len(r.instances))
	for k, v := range r.instances {
		out[k] = v
	}
	return out
}

// Factories returns the names of all registered factories
func (r *Registry) Factories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
