package eventstore

import (
	"fmt"
	"sync"
)

// Registry maps event names to payload factories. Factories must return a
// pointer so the serializer can decode into it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() any
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() any)}
}

// Register binds name to factory. Registering the same name twice panics.
func (r *Registry) Register(name string, factory func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("eventstore: event %q registered twice", name))
	}
	r.factories[name] = factory
}

// New returns a fresh payload value for name.
func (r *Registry) New(name string) (any, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	return factory(), nil
}

// Len returns the number of registered events.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}
