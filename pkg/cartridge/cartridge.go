// Package cartridge is the closed registry of named, versioned, deterministic
// pipeline steps.
package cartridge

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/executor"
)

// Output is the canonical JSON every cartridge emits.
type Output struct {
	Cartridge  string  `json:"cartridge"`
	Message    string  `json:"message"`
	Confidence float64 `json:"confidence"`
	InputHash  string  `json:"input_hash"`
}

// Cartridge is a guarded step: the engine asks the mandate before running it.
// Its output depends only on its input and its bound position.
type Cartridge struct {
	id         string
	version    *semver.Version
	message    string
	confidence float64
}

func (c *Cartridge) Name() string { return c.id }

// CartridgeID is the action checked against the mandate.
func (c *Cartridge) CartridgeID() string { return c.id }

// Version returns the resolved version.
func (c *Cartridge) Version() *semver.Version { return c.version }

func (c *Cartridge) Transform(input []byte) ([]byte, error) {
	out, err := canonicalize.Encode(Output{
		Cartridge:  c.id,
		Message:    c.message,
		Confidence: c.confidence,
		InputHash:  canonicalize.HashBytes(input),
	})
	if err != nil {
		return nil, fmt.Errorf("cartridge %s: %w", c.id, err)
	}
	return out, nil
}

// Built-in cartridge ids.
const (
	CognitiveDrift     = "cognitive_drift_v1"
	NeuroDiscordance   = "neuro_discordance_v1"
	ThresholdAmbiguity = "threshold_ambiguity_v1"
	MemorySeal         = "memory_seal_v1"
)

func fixed(id, message string, confidence float64) Factory {
	return func(v *semver.Version, _ int) executor.Step {
		return &Cartridge{id: id, version: v, message: message, confidence: confidence}
	}
}

func memorySeal(v *semver.Version, position int) executor.Step {
	return &Cartridge{
		id:         MemorySeal,
		version:    v,
		message:    fmt.Sprintf("Memory sealed at step %d", position),
		confidence: 0.99,
	}
}
