// Package provider holds the Provider Registry (C2) and the Provider Pool
// (C4): the immutable set of compute backends discovered at startup, and
// the mutable bag of currently-idle provider ids the Scheduler draws from.
package provider

import (
	"fmt"

	"github.com/posservice/posd/internal/compute"
	"github.com/posservice/posd/internal/types"
)

// Registry is the immutable, startup-built provider → descriptor map.
// Grounded on the teacher's factory-style construction (internal/provider
// in the source tree built a fixed set of named backends once at process
// start and never mutated it afterward).
type Registry struct {
	providers map[uint32]types.Provider
	order     []uint32
}

// Build enumerates providers via the adapter and filters CPU-class
// providers unless useCPU is true (spec.md §4.3).
func Build(adapter compute.Adapter, useCPU bool) (*Registry, error) {
	all, err := adapter.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("enumerate providers: %w", err)
	}

	r := &Registry{providers: make(map[uint32]types.Provider, len(all))}
	for _, p := range all {
		if p.Class == types.ClassCPU && !useCPU {
			continue
		}
		r.providers[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	return r, nil
}

// All returns every registered provider in registry order.
func (r *Registry) All() []types.Provider {
	out := make([]types.Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}

// Get looks up a provider descriptor by id.
func (r *Registry) Get(id uint32) (types.Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.providers)
}

// IDs returns every registered provider id in registry order, suitable for
// seeding a fresh Pool.
func (r *Registry) IDs() []uint32 {
	out := make([]uint32, len(r.order))
	copy(out, r.order)
	return out
}
