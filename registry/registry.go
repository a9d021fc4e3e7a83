package registry

import (
	"fmt"
	"sync"
)

// DuplicateSubgraphError is returned when a subgraph name is registered twice.
type DuplicateSubgraphError struct {
	Name string
}

func (e *DuplicateSubgraphError) Error() string {
	return fmt.Sprintf("subgraph %q is already registered", e.Name)
}

// Registry holds the descriptors of every subgraph known to the gateway.
type Registry struct {
	mu          sync.RWMutex
	descriptors []Descriptor
	index       map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// Register adds d to the registry.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[d.Name()]; exists {
		return &DuplicateSubgraphError{Name: d.Name()}
	}

	r.index[d.Name()] = len(r.descriptors)
	r.descriptors = append(r.descriptors, d)
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[i], true
}

// All returns the registered descriptors in registration order.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}
