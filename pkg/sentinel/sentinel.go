// Package sentinel guards state transitions: it fingerprints state before an
// operation, compares after, and fails closed on any difference.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
)

// Mode selects what happens after a violation is recorded.
type Mode string

const (
	// ModeEnforce writes a halt record and stops the process.
	ModeEnforce Mode = "enforce"
	// ModeDetect returns the violation to the caller.
	ModeDetect Mode = "detect"
)

// ParseMode accepts "enforce" or "detect".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEnforce, ModeDetect:
		return Mode(s), nil
	}
	return "", fmt.Errorf("sentinel: unknown mode %q", s)
}

// Verdict is the outcome of an After check.
type Verdict string

const (
	Continue Verdict = "continue"
	Halt     Verdict = "halt"
)

var (
	// ErrInvariantViolation matches *InvariantViolation.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrHalted is returned in enforce mode when the Halter returns.
	ErrHalted = errors.New("sentinel halted")
)

// InvariantViolation carries the recorded drift event.
type InvariantViolation struct {
	Event DriftEvent
}

func (v *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %s violated in domain %s: %s -> %s",
		v.Event.InvariantID, v.Event.Domain, v.Event.BeforeFingerprint, v.Event.AfterFingerprint)
}

func (v *InvariantViolation) Is(target error) bool { return target == ErrInvariantViolation }

// Code returns a stable identifier for logs and problem details.
func (v *InvariantViolation) Code() string { return "PILGRIM/SENTINEL/INVARIANT_VIOLATION" }

// Token carries only the pre-state fingerprint. It is never persisted.
type Token struct {
	fingerprint string
	label       string
}

// Fingerprint returns the canonical content hash captured by Before.
func (t Token) Fingerprint() string { return t.fingerprint }

// Label returns the caller's label for the guarded state.
func (t Token) Label() string { return t.label }

// Outcome reports the verdict of an After check.
type Outcome struct {
	Verdict Verdict
	Token   Token
	Event   *DriftEvent
}

// Option configures a Sentinel.
type Option func(*Sentinel)

// WithHalter replaces the enforce-mode halter.
func WithHalter(h Halter) Option {
	return func(s *Sentinel) { s.halter = h }
}

// WithHaltDir sets the directory halt records are written to.
func WithHaltDir(dir string) Option {
	return func(s *Sentinel) { s.haltDir = dir }
}

// WithRegistry makes After reject specs missing from r.
func WithRegistry(r *Registry) Option {
	return func(s *Sentinel) { s.registry = r }
}

// WithClock overrides the halt record timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(s *Sentinel) { s.clock = clock }
}

// Sentinel is fail closed: drift is always recorded before anything else happens.
type Sentinel struct {
	mu       sync.Mutex
	mode     Mode
	drift    *DriftLedger
	halter   Halter
	haltDir  string
	registry *Registry
	clock    func() time.Time
}

// New returns a sentinel recording into drift. The default halter exits the
// process with ExitCodeHalt.
func New(mode Mode, drift *DriftLedger, opts ...Option) *Sentinel {
	if drift == nil {
		drift = NewDriftLedger(nil)
	}
	s := &Sentinel{
		mode:   mode,
		drift:  drift,
		halter: ExitHalter{},
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode returns the configured mode.
func (s *Sentinel) Mode() Mode { return s.mode }

// Drift returns the drift ledger.
func (s *Sentinel) Drift() *DriftLedger { return s.drift }

// Fingerprint is the canonical content hash of state.
func Fingerprint(state any) (string, error) {
	return canonicalize.Hash(state)
}

// Before captures the pre-state fingerprint.
func (s *Sentinel) Before(state any, label string) (Token, error) {
	fp, err := Fingerprint(state)
	if err != nil {
		return Token{}, fmt.Errorf("sentinel before %s: %w", label, err)
	}
	return Token{fingerprint: fp, label: label}, nil
}

// After compares stateAfter against the token. Equal fingerprints continue and
// write nothing. Any difference records exactly one drift event, then either
// returns the violation (detect) or halts (enforce).
func (s *Sentinel) After(ctx context.Context, tok Token, stateAfter any, domain string, spec Spec) (Outcome, error) {
	if s.registry != nil {
		if _, ok := s.registry.Get(spec.ID); !ok {
			return Outcome{Verdict: Halt, Token: tok}, fmt.Errorf("%w: %s", ErrUnknownInvariant, spec.ID)
		}
	}

	var afterFP string
	fp, err := Fingerprint(stateAfter)
	if err != nil {
		// Unencodable after-state cannot be shown equal; treat it as drift.
		afterFP = "unencodable:" + err.Error()
	} else {
		afterFP = fp
	}

	if afterFP == tok.fingerprint {
		return Outcome{Verdict: Continue, Token: Token{fingerprint: afterFP, label: tok.label}}, nil
	}

	ev, recErr := s.drift.Record(ctx, DriftEvent{
		Domain:            domain,
		InvariantID:       spec.ID,
		Class:             spec.Class,
		Label:             tok.label,
		BeforeFingerprint: tok.fingerprint,
		AfterFingerprint:  afterFP,
	})
	violation := &InvariantViolation{Event: ev}
	slog.ErrorContext(ctx, "sentinel: invariant violated",
		"invariant", spec.ID, "domain", domain, "label", tok.label,
		"before", tok.fingerprint, "after", afterFP, "mode", string(s.mode))
	if recErr != nil {
		slog.ErrorContext(ctx, "sentinel: drift record failed", "error", recErr)
	}

	out := Outcome{Verdict: Halt, Token: tok, Event: &ev}
	if s.mode != ModeEnforce {
		if recErr != nil {
			return out, errors.Join(violation, recErr)
		}
		return out, violation
	}

	s.halt(ev, violation)
	return out, fmt.Errorf("%w: %w", ErrHalted, violation)
}

func (s *Sentinel) halt(ev DriftEvent, violation *InvariantViolation) {
	rec := HaltRecord{
		Timestamp:         s.clock().UTC(),
		Domain:            ev.Domain,
		InvariantID:       ev.InvariantID,
		Class:             ev.Class,
		Label:             ev.Label,
		BeforeFingerprint: ev.BeforeFingerprint,
		AfterFingerprint:  ev.AfterFingerprint,
		EventHash:         ev.EventHash,
		Reason:            violation.Error(),
	}
	if s.haltDir != "" {
		if err := WriteHaltRecord(s.haltDir, &rec); err != nil {
			slog.Error("sentinel: halt record write failed", "error", err)
		}
	}
	s.halter.Halt(rec)
}

// Protect runs op between Before and After as one critical section.
// An op error is returned only when the state did not drift.
func (s *Sentinel) Protect(ctx context.Context, state any, label, domain string, spec Spec, op func() error) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.Before(state, label)
	if err != nil {
		return Outcome{Verdict: Halt}, err
	}
	opErr := op()
	out, err := s.After(ctx, tok, state, domain, spec)
	if err != nil {
		return out, err
	}
	if opErr != nil {
		return out, opErr
	}
	return out, nil
}
