package intent

import (
	"errors"
	"fmt"
)

// Default bounds applied by DefaultConstraints.
const (
	DefaultMaxSteps     uint32 = 10_000
	DefaultMaxRuntimeMs uint64 = 10_000
)

// Error codes for constraint violations.
const (
	CodeStepLimitExceeded    = "PILGRIM/CORE/STEP_LIMIT_EXCEEDED"
	CodeRuntimeLimitExceeded = "PILGRIM/CORE/RUNTIME_LIMIT_EXCEEDED"
)

var (
	// ErrStepLimitExceeded matches *StepLimitExceededError.
	ErrStepLimitExceeded = errors.New("step limit exceeded")
	// ErrRuntimeLimitExceeded matches *RuntimeLimitExceededError.
	ErrRuntimeLimitExceeded = errors.New("runtime limit exceeded")
)

// Constraints bound a run. They are pure data evaluated against counters the
// caller supplies; nothing here reads a clock.
type Constraints struct {
	MaxSteps     *uint32     `json:"max_steps"`
	MaxRuntimeMs *uint64     `json:"max_runtime_ms"`
	RequireLogs  bool        `json:"require_logs"`
	Privacy      PrivacyTier `json:"privacy"`
}

// DefaultConstraints returns 10000 steps, 10000ms, logs required, Protected.
func DefaultConstraints() Constraints {
	steps, runtime := DefaultMaxSteps, DefaultMaxRuntimeMs
	return Constraints{
		MaxSteps:     &steps,
		MaxRuntimeMs: &runtime,
		RequireLogs:  true,
		Privacy:      PrivacyProtected,
	}
}

// Unbounded returns constraints with no step or runtime ceiling.
func Unbounded() Constraints {
	return Constraints{Privacy: PrivacyProtected}
}

// WithMaxSteps returns a copy with the step ceiling set to n.
func (c Constraints) WithMaxSteps(n uint32) Constraints {
	c.MaxSteps = &n
	return c
}

// WithMaxRuntimeMs returns a copy with the runtime ceiling set to ms.
func (c Constraints) WithMaxRuntimeMs(ms uint64) Constraints {
	c.MaxRuntimeMs = &ms
	return c
}

// AssertStepAllowed fails once stepIndex reaches MaxSteps.
func (c Constraints) AssertStepAllowed(stepIndex int) error {
	if c.MaxSteps == nil {
		return nil
	}
	if stepIndex < 0 || uint64(stepIndex) >= uint64(*c.MaxSteps) {
		return &StepLimitExceededError{MaxSteps: *c.MaxSteps, AttemptedStepIndex: stepIndex}
	}
	return nil
}

// AssertRuntimeAllowed fails when elapsedMs is strictly greater than MaxRuntimeMs.
func (c Constraints) AssertRuntimeAllowed(elapsedMs uint64) error {
	if c.MaxRuntimeMs == nil {
		return nil
	}
	if elapsedMs > *c.MaxRuntimeMs {
		return &RuntimeLimitExceededError{MaxRuntimeMs: *c.MaxRuntimeMs, ElapsedMs: elapsedMs}
	}
	return nil
}

// StepLimitExceededError is returned when a run attempts a step past MaxSteps.
type StepLimitExceededError struct {
	MaxSteps           uint32 `json:"max_steps"`
	AttemptedStepIndex int    `json:"attempted_step_index"`
}

func (e *StepLimitExceededError) Error() string {
	return fmt.Sprintf("step limit exceeded: max_steps=%d attempted_step_index=%d", e.MaxSteps, e.AttemptedStepIndex)
}

func (e *StepLimitExceededError) Is(target error) bool { return target == ErrStepLimitExceeded }

func (e *StepLimitExceededError) Code() string { return CodeStepLimitExceeded }

// RuntimeLimitExceededError is returned when the supplied elapsed time is over budget.
type RuntimeLimitExceededError struct {
	MaxRuntimeMs uint64 `json:"max_runtime_ms"`
	ElapsedMs    uint64 `json:"elapsed_ms"`
}

func (e *RuntimeLimitExceededError) Error() string {
	return fmt.Sprintf("runtime limit exceeded: max_runtime_ms=%d elapsed_ms=%d", e.MaxRuntimeMs, e.ElapsedMs)
}

func (e *RuntimeLimitExceededError) Is(target error) bool { return target == ErrRuntimeLimitExceeded }

func (e *RuntimeLimitExceededError) Code() string { return CodeRuntimeLimitExceeded }
