package sentinel

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicateInvariant is a configuration error: ids are registered once.
	ErrDuplicateInvariant = errors.New("invariant already registered")
	// ErrUnknownInvariant is returned when a sentinel checks an unregistered spec.
	ErrUnknownInvariant = errors.New("invariant not registered")
)

// Registry holds declared invariants keyed by id.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// NewSystemRegistry returns a registry preloaded with SystemInvariants.
func NewSystemRegistry() *Registry {
	r := NewRegistry()
	for _, s := range SystemInvariants() {
		r.MustRegister(s)
	}
	return r
}

// Register adds spec. A second registration of the same id fails.
func (r *Registry) Register(spec Spec) error {
	if spec.ID == "" {
		return errors.New("invariant id is required")
	}
	if !spec.Class.Valid() {
		return fmt.Errorf("invariant %s: unknown class %q", spec.ID, spec.Class)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateInvariant, spec.ID)
	}
	r.specs[spec.ID] = spec
	return nil
}

// MustRegister is Register for wiring code; it panics on error.
func (r *Registry) MustRegister(spec Spec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Get looks up an invariant by id.
func (r *Registry) Get(id string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[id]
	return s, ok
}

// ByDomain returns the invariants of one domain, sorted by id.
func (r *Registry) ByDomain(domain string) []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0)
	for _, s := range r.specs {
		if s.Domain == domain {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every invariant sorted by id.
func (r *Registry) All() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered invariants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}
