package payment

import (
	"fmt"
	"sync"

	"github.com/givestack/payments/internal/module/payment/provider"
)

// Registry resolves a processor identifier to its Adapter. Closed dispatch
// through an interface; no reflection, no per-processor conditionals at
// call sites.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]provider.Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]provider.Adapter)}
}

// Register registers an adapter under its own name.
func (r *Registry) Register(a provider.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for the given processor.
func (r *Registry) Get(processor string) (provider.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[processor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProcessorNotFound, processor)
	}
	return a, nil
}

// List returns all registered processor names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
