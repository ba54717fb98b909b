package worker

import (
	"fmt"

	"github.com/concertohq/concerto/pkg/registry"
)

// Registry manages the worker capabilities available to collaborations.
type Registry struct {
	*registry.BaseRegistry[Capability]
}

// NewRegistry creates an empty worker registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Capability]()}
}

// Add registers a capability under its own ID.
func (r *Registry) Add(cap Capability) error {
	if cap == nil {
		return fmt.Errorf("capability cannot be nil")
	}
	return r.Register(cap.ID(), cap)
}

// Resolver returns the lookup function injected into the executor.
func (r *Registry) Resolver() Resolver {
	return func(id string) (Capability, error) {
		cap, ok := r.Get(id)
		if !ok {
			return nil, fmt.Errorf("worker '%s' not found", id)
		}
		return cap, nil
	}
}
