package cartridge

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/executor"
)

var (
	// ErrUnknownStep is returned when no registered name matches.
	ErrUnknownStep = errors.New("cartridge: unknown step")
	// ErrNoMatchingVersion is returned when a name exists but no version
	// satisfies the constraint.
	ErrNoMatchingVersion = errors.New("cartridge: no matching version")

	errInvalidUTF8 = errors.New("input is not valid utf-8")
)

// Factory builds a step for a resolved version at a pipeline position.
type Factory func(v *semver.Version, position int) executor.Step

// Entry is one registered version of a step.
type Entry struct {
	Name    string
	Version *semver.Version
	factory Factory
}

// Ref names a step in a pipeline. An empty Constraint accepts any version.
type Ref struct {
	Name       string `json:"name" yaml:"name"`
	Constraint string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Registry is closed: only registered steps can be resolved.
type Registry struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string][]Entry)}
}

// Default returns a registry holding the built-in cartridges and utility steps.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister(CognitiveDrift, "1.0.0", fixed(CognitiveDrift, "Cognitive drift stabilised", 0.93))
	r.MustRegister(NeuroDiscordance, "1.0.0", fixed(NeuroDiscordance, "Neuro discordance evaluated", 0.72))
	r.MustRegister(ThresholdAmbiguity, "1.0.0", fixed(ThresholdAmbiguity, "Threshold ambiguity resolved", 0.81))
	r.MustRegister(MemorySeal, "1.0.0", memorySeal)
	r.MustRegister(StepDigest, "1.0.0", digestStep)
	r.MustRegister(StepNFC, "1.0.0", nfcStep)
	return r
}

// Register adds a version of name. Re-registering the same version fails.
func (r *Registry) Register(name, version string, f Factory) error {
	if name == "" {
		return errors.New("cartridge: name is required")
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("cartridge %s: bad version %q: %w", name, version, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries[name] {
		if e.Version.Equal(v) {
			return fmt.Errorf("cartridge %s@%s already registered", name, v)
		}
	}
	r.entries[name] = append(r.entries[name], Entry{Name: name, Version: v, factory: f})
	sort.Slice(r.entries[name], func(i, j int) bool {
		return r.entries[name][i].Version.GreaterThan(r.entries[name][j].Version)
	})
	return nil
}

// MustRegister panics on error.
func (r *Registry) MustRegister(name, version string, f Factory) {
	if err := r.Register(name, version, f); err != nil {
		panic(err)
	}
}

// Resolve picks the highest version of name satisfying constraint and builds
// it for position.
func (r *Registry) Resolve(name, constraint string, position int) (executor.Step, error) {
	r.mu.RLock()
	// Register sorts in place, so iterate a snapshot.
	entries := append([]Entry(nil), r.entries[name]...)
	r.mu.RUnlock()
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
	}

	var c *semver.Constraints
	if constraint != "" {
		parsed, err := semver.NewConstraint(constraint)
		if err != nil {
			return nil, fmt.Errorf("cartridge %s: bad constraint %q: %w", name, constraint, err)
		}
		c = parsed
	}
	for _, e := range entries {
		if c == nil || c.Check(e.Version) {
			return e.factory(e.Version, position), nil
		}
	}
	return nil, fmt.Errorf("%w: %s %s", ErrNoMatchingVersion, name, constraint)
}

// Pipeline resolves refs in order, binding each to its index.
func (r *Registry) Pipeline(refs []Ref) ([]executor.Step, error) {
	steps := make([]executor.Step, 0, len(refs))
	for i, ref := range refs {
		s, err := r.Resolve(ref.Name, ref.Constraint, i)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// List returns every registered entry, sorted by name then descending version.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Entry, 0)
	for _, n := range names {
		out = append(out, r.entries[n]...)
	}
	return out
}
