package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/cartridge"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/intent"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/mandate"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/sentinel"
)

// Profile is the operator's declared pipeline and policy.
type Profile struct {
	Name       string           `yaml:"name" json:"name"`
	Steps      []cartridge.Ref  `yaml:"steps" json:"steps"`
	WASM       []WASMModule     `yaml:"wasm,omitempty" json:"wasm,omitempty"`
	Rules      []mandate.Rule   `yaml:"rules,omitempty" json:"rules,omitempty"`
	Policies   []mandate.Policy `yaml:"policies,omitempty" json:"policies,omitempty"`
	Invariants []sentinel.Spec  `yaml:"invariants,omitempty" json:"invariants,omitempty"`
	Limits     Limits           `yaml:"limits,omitempty" json:"limits,omitempty"`
}

// WASMModule registers a sandboxed step from a file.
type WASMModule struct {
	Name             string `yaml:"name" json:"name"`
	Version          string `yaml:"version" json:"version"`
	Path             string `yaml:"path" json:"path"`
	MemoryLimitBytes uint64 `yaml:"memory_limit_bytes,omitempty" json:"memory_limit_bytes,omitempty"`
	TimeoutMs        int    `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	Guarded          bool   `yaml:"guarded,omitempty" json:"guarded,omitempty"`
}

// Config converts the module entry to a cartridge.WASMConfig.
func (m WASMModule) Config() cartridge.WASMConfig {
	return cartridge.WASMConfig{
		MemoryLimitBytes: m.MemoryLimitBytes,
		Timeout:          time.Duration(m.TimeoutMs) * time.Millisecond,
		Guarded:          m.Guarded,
	}
}

// Limits are ceilings an intent's own constraints may not exceed.
type Limits struct {
	MaxSteps     *uint32 `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`
	MaxRuntimeMs *uint64 `yaml:"max_runtime_ms,omitempty" json:"max_runtime_ms,omitempty"`
}

// ErrLimitExceeded is returned by Limits.Admit.
var ErrLimitExceeded = errors.New("intent constraints exceed profile limits")

// Admit rejects constraints that are unbounded or above a configured ceiling.
func (l Limits) Admit(c intent.Constraints) error {
	if l.MaxSteps != nil {
		if c.MaxSteps == nil || *c.MaxSteps > *l.MaxSteps {
			return fmt.Errorf("%w: max_steps must be <= %d", ErrLimitExceeded, *l.MaxSteps)
		}
	}
	if l.MaxRuntimeMs != nil {
		if c.MaxRuntimeMs == nil || *c.MaxRuntimeMs > *l.MaxRuntimeMs {
			return fmt.Errorf("%w: max_runtime_ms must be <= %d", ErrLimitExceeded, *l.MaxRuntimeMs)
		}
	}
	return nil
}

// DefaultProfile is used when no profile file is configured.
func DefaultProfile() *Profile {
	return &Profile{
		Name: "default",
		Steps: []cartridge.Ref{
			{Name: cartridge.StepNFC},
			{Name: cartridge.StepDigest},
		},
	}
}

// LoadProfile reads and validates a YAML profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates YAML profile bytes.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Name == "" {
		p.Name = "unnamed"
	}
	return &p, nil
}

// Validate checks structural requirements only; step names are resolved later
// against the cartridge registry.
func (p *Profile) Validate() error {
	if len(p.Steps) == 0 {
		return errors.New("profile: at least one step is required")
	}
	for i, s := range p.Steps {
		if s.Name == "" {
			return fmt.Errorf("profile: step %d has no name", i)
		}
	}
	for i, m := range p.WASM {
		if m.Name == "" || m.Path == "" || m.Version == "" {
			return fmt.Errorf("profile: wasm module %d needs name, version and path", i)
		}
	}
	for i, r := range p.Rules {
		if r.SubjectID == "" || r.CartridgeID == "" {
			return fmt.Errorf("profile: rule %d needs subject_id and cartridge_id", i)
		}
	}
	return nil
}
