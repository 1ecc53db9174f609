// Package executor runs an explicitly ordered pipeline of pure steps over a byte
// payload, folding every step into a hash chain and emitting a Receipt.
//
// The engine never reads the clock, randomness, or process state. Anything
// time-like arrives as an argument, so identical calls yield identical receipts.
package executor

import (
	"errors"
	"fmt"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/intent"
)

// Step is a named pure transform.
type Step interface {
	Name() string
	Transform(input []byte) ([]byte, error)
}

// Guarded is implemented by steps that require authorization before running.
// The returned id is the action passed to the Authorizer.
type Guarded interface {
	CartridgeID() string
}

// StepFunc adapts a plain function to a Step via Named.
type StepFunc func(input []byte) ([]byte, error)

type namedStep struct {
	name string
	fn   StepFunc
}

func (s namedStep) Name() string { return s.name }
func (s namedStep) Transform(in []byte) ([]byte, error) { return s.fn(in) }

// Named wraps fn as a Step called name.
func Named(name string, fn StepFunc) Step {
	return namedStep{name: name, fn: fn}
}

// Authorizer decides whether subject may run a guarded step.
type Authorizer interface {
	Authorize(subject, action string) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuthorizer checks every Guarded step against a before it runs.
func WithAuthorizer(a Authorizer) Option {
	return func(e *Engine) { e.authz = a }
}

// WithSubject sets the subject passed to the Authorizer.
func WithSubject(subject string) Option {
	return func(e *Engine) { e.subject = subject }
}

// Engine is immutable after construction and safe for concurrent Run calls.
type Engine struct {
	steps   []Step
	authz   Authorizer
	subject string
}

// New builds an engine over steps in the given order.
func New(steps []Step, opts ...Option) *Engine {
	e := &Engine{steps: append([]Step(nil), steps...)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewChecked is New, rejecting nil steps and duplicate names.
func NewChecked(steps []Step, opts ...Option) (*Engine, error) {
	seen := make(map[string]struct{}, len(steps))
	for i, s := range steps {
		if s == nil {
			return nil, fmt.Errorf("executor: step %d is nil", i)
		}
		if _, dup := seen[s.Name()]; dup {
			return nil, fmt.Errorf("executor: duplicate step name %q", s.Name())
		}
		seen[s.Name()] = struct{}{}
	}
	return New(steps, opts...), nil
}

// As returns a copy of the engine that authorizes as subject.
func (e *Engine) As(subject string) *Engine {
	c := *e
	c.subject = subject
	return &c
}

// StepNames lists the pipeline in execution order.
func (e *Engine) StepNames() []string {
	out := make([]string, len(e.steps))
	for i, s := range e.steps {
		out[i] = s.Name()
	}
	return out
}

// Run executes the pipeline. Runtime is checked once before step 0, the step
// ceiling before every step. Any failure discards the partial trace.
func (e *Engine) Run(runID, intentDigest string, input []byte, c intent.Constraints, elapsedMs uint64) (*Receipt, error) {
	if err := c.AssertRuntimeAllowed(elapsedMs); err != nil {
		return nil, err
	}

	payload := input
	traceHash := canonicalize.Genesis
	steps := make([]StepReceipt, 0, len(e.steps))

	for i, step := range e.steps {
		if err := c.AssertStepAllowed(i); err != nil {
			return nil, err
		}
		if err := e.authorize(step); err != nil {
			return nil, &StepFailedError{StepName: step.Name(), Reason: err.Error(), Err: err}
		}

		inHash := canonicalize.HashBytes(payload)
		out, err := step.Transform(payload)
		if err != nil {
			return nil, &StepFailedError{StepName: step.Name(), Reason: err.Error(), Err: err}
		}
		outHash := canonicalize.HashBytes(out)

		ev := TraceEvent{
			StepIndex:     i,
			StepName:      step.Name(),
			InputHash:     inHash,
			OutputHash:    outHash,
			PrevTraceHash: traceHash,
		}
		next, err := canonicalize.Fold(traceHash, ev)
		if err != nil {
			return nil, err
		}
		traceHash = next
		steps = append(steps, StepReceipt{
			StepIndex:  i,
			StepName:   step.Name(),
			InputHash:  inHash,
			OutputHash: outHash,
			TraceHash:  traceHash,
		})
		payload = out
	}

	outHash := canonicalize.HashBytes(payload)
	return &Receipt{
		RunID:          runID,
		IntentDigest:   intentDigest,
		FinalTraceHash: traceHash,
		Steps:          steps,
		ElapsedMs:      elapsedMs,
		Output: Output{
			Status:      StatusCompleted,
			OutputHash:  outHash,
			ResultToken: ResultToken(traceHash, outHash),
		},
	}, nil
}

func (e *Engine) authorize(step Step) error {
	g, ok := step.(Guarded)
	if !ok {
		return nil
	}
	if e.authz == nil {
		return errors.New("guarded step with no authorizer configured")
	}
	return e.authz.Authorize(e.subject, g.CartridgeID())
}

// runArgs are the reproducible inputs of an intent-level run.
type runArgs struct {
	runID  string
	digest string
	input  []byte
}

func deriveArgs(in intent.Intent) (runArgs, error) {
	digest, err := intent.Digest(in)
	if err != nil {
		return runArgs{}, err
	}
	input, err := intent.CanonicalBytes(in)
	if err != nil {
		return runArgs{}, err
	}
	return runArgs{runID: intent.RunID(in), digest: digest, input: input}, nil
}

// Execute runs the pipeline over the canonical bytes of in, under in's own
// constraints, with a zero elapsed counter.
func (e *Engine) Execute(in intent.Intent) (*Receipt, error) {
	args, err := deriveArgs(in)
	if err != nil {
		return nil, err
	}
	return e.Run(args.runID, args.digest, args.input, in.Constraints, 0)
}

// ExecuteSealed runs the pipeline over the intent bytes carried by a sealed
// envelope. For the same intent it yields the receipt Execute yields, so
// VerifyReceipt covers both.
func (e *Engine) ExecuteSealed(runID string, input []byte, c intent.Constraints) (*Receipt, error) {
	return e.Run(runID, canonicalize.HashBytes(input), input, c, 0)
}
