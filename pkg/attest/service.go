// Package attest runs sealed intents end to end: envelope verification,
// mandate-gated execution under the sentinel, and ledger commitment of the
// outcome.
package attest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/artifacts"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/cartridge"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/config"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/envelope"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/executor"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/intent"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/ledger"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/mandate"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/observability"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/sentinel"
)

// EnvelopeInvariant guards the envelope across a run.
const EnvelopeInvariant = "TRANS_002"

const defaultVerifyCacheSize = 1024

// Option configures a Service.
type Option func(*Service)

// WithSentinel replaces the default detect-mode sentinel.
func WithSentinel(s *sentinel.Sentinel) Option {
	return func(svc *Service) { svc.sentinel = s }
}

// WithLimits sets the ceilings incoming intents are admitted under.
func WithLimits(l config.Limits) Option {
	return func(svc *Service) { svc.limits = l }
}

// WithArtifacts exports every committed receipt to store.
func WithArtifacts(store artifacts.Store) Option {
	return func(svc *Service) { svc.store = store }
}

// WithTelemetry records spans and counters on p.
func WithTelemetry(p *observability.Provider) Option {
	return func(svc *Service) { svc.telemetry = p }
}

// WithVerifyCacheSize bounds the receipt verification memo.
func WithVerifyCacheSize(n int) Option {
	return func(svc *Service) { svc.cacheSize = n }
}

// Service is safe for concurrent use.
type Service struct {
	engine    *executor.Engine
	ledger    *ledger.Ledger
	sentinel  *sentinel.Sentinel
	guard     sentinel.Spec
	limits    config.Limits
	store     artifacts.Store
	telemetry *observability.Provider
	cacheSize int
	verified  *lru.Cache[string, error]
}

// NewEngine resolves refs against reg and gates guarded steps with m.
func NewEngine(reg *cartridge.Registry, refs []cartridge.Ref, m *mandate.Mandate) (*executor.Engine, error) {
	steps, err := reg.Pipeline(refs)
	if err != nil {
		return nil, err
	}
	var opts []executor.Option
	if m != nil {
		opts = append(opts, executor.WithAuthorizer(m))
	}
	return executor.NewChecked(steps, opts...)
}

// New builds a service over engine and led.
func New(engine *executor.Engine, led *ledger.Ledger, opts ...Option) (*Service, error) {
	if engine == nil || led == nil {
		return nil, errors.New("attest: engine and ledger are required")
	}
	svc := &Service{
		engine:    engine,
		ledger:    led,
		cacheSize: defaultVerifyCacheSize,
	}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.sentinel == nil {
		svc.sentinel = sentinel.New(sentinel.ModeDetect, sentinel.NewDriftLedger(led))
	}
	guard, ok := sentinel.NewSystemRegistry().Get(EnvelopeInvariant)
	if !ok {
		return nil, fmt.Errorf("attest: %w: %s", sentinel.ErrUnknownInvariant, EnvelopeInvariant)
	}
	svc.guard = guard

	if svc.telemetry == nil {
		p, err := observability.New(context.Background(), nil)
		if err != nil {
			return nil, err
		}
		svc.telemetry = p
	}

	cache, err := lru.New[string, error](svc.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("attest: verify cache: %w", err)
	}
	svc.verified = cache
	return svc, nil
}

// Steps returns the pipeline's step names in order.
func (s *Service) Steps() []string { return s.engine.StepNames() }

// Mode returns the sentinel mode.
func (s *Service) Mode() sentinel.Mode { return s.sentinel.Mode() }

// Ledger returns the underlying ledger.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// Seal validates in against the intent schema and seals it.
func (s *Service) Seal(in intent.Intent) (*envelope.Envelope, error) {
	if err := intent.Validate(in); err != nil {
		return nil, err
	}
	return envelope.Seal(in)
}

// SubmitJSON parses a wire envelope and submits it. Unparseable input is
// recorded as a rejection with an empty intent id.
func (s *Service) SubmitJSON(ctx context.Context, subject string, data []byte) (*envelope.Response, error) {
	env, err := envelope.Parse(data)
	if err != nil {
		return s.reject(ctx, subject, "", err)
	}
	return s.Submit(ctx, subject, env)
}

// Submit verifies env, executes it as subject and commits the outcome to the
// ledger. Rejections and engine failures are returned as sealed responses
// with a nil error. A non-nil error means the outcome could not be committed
// or the sentinel observed drift.
func (s *Service) Submit(ctx context.Context, subject string, env *envelope.Envelope) (*envelope.Response, error) {
	if env == nil {
		return s.reject(ctx, subject, "", &envelope.HandshakeError{Kind: envelope.KindBadJSON, Err: errors.New("no envelope")})
	}
	attrs := observability.RunAttributes(env.Intent.IntentID, intent.RunID(env.Intent), subject)
	ctx, done := s.telemetry.TrackOperation(ctx, "attest.submit", attrs...)
	resp, err := s.submit(ctx, subject, env)
	done(err)
	return resp, err
}

func (s *Service) submit(ctx context.Context, subject string, env *envelope.Envelope) (*envelope.Response, error) {
	id := env.Intent.IntentID
	if err := env.Verify(); err != nil {
		return s.reject(ctx, subject, id, err)
	}
	if err := s.limits.Admit(env.Intent.Constraints); err != nil {
		return s.reject(ctx, subject, id, err)
	}
	input, err := env.IntentBytes()
	if err != nil {
		return s.reject(ctx, subject, id, err)
	}

	var (
		receipt *executor.Receipt
		runErr  error
	)
	eng := s.engine.As(subject)
	out, err := s.sentinel.Protect(ctx, env, "submit:"+id, s.guard.Domain, s.guard, func() error {
		receipt, runErr = eng.ExecuteSealed(intent.RunID(env.Intent), input, env.Intent.Constraints)
		return runErr
	})
	if out.Event != nil {
		s.telemetry.RecordDrift(ctx, out.Event.Domain, out.Event.InvariantID)
		s.telemetry.RecordLedgerAppend(ctx, sentinel.LedgerKindDrift)
	}
	if out.Verdict == sentinel.Halt {
		return nil, err
	}

	if runErr != nil {
		if errors.Is(runErr, mandate.ErrDenied) {
			return s.reject(ctx, subject, id, runErr)
		}
		return s.fail(ctx, subject, env.Intent, runErr)
	}
	return s.complete(ctx, subject, env, receipt)
}

func (s *Service) complete(ctx context.Context, subject string, env *envelope.Envelope, receipt *executor.Receipt) (*envelope.Response, error) {
	rec, err := s.append(ctx, KindReceipt, ReceiptRecord{
		IntentID: env.Intent.IntentID,
		Subject:  subject,
		Checksum: env.Checksum.Hex,
		Receipt:  receipt,
	})
	if err != nil {
		return nil, err
	}

	payload, err := canonicalize.Encode(receipt)
	if err != nil {
		return nil, err
	}
	artifact := s.export(ctx, payload)

	opts := []envelope.ResponseOption{envelope.WithPayloadJSON(string(payload))}
	if env.Intent.Constraints.RequireLogs {
		logs, err := canonicalize.EncodeString(Logs{
			LedgerIndex: rec.Index,
			RecordHash:  rec.RecordHash,
			Steps:       s.engine.StepNames(),
			Artifact:    artifact,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, envelope.WithLogsJSON(logs))
	}

	s.telemetry.RecordRun(ctx, string(envelope.StatusCompleted))
	slog.InfoContext(ctx, "attest: run completed",
		"intent_id", env.Intent.IntentID, "run_id", receipt.RunID,
		"final_trace_hash", receipt.FinalTraceHash, "ledger_index", rec.Index)
	return envelope.NewResponse(env.Intent.IntentID, envelope.StatusCompleted, "run completed", opts...)
}

// export stores payload in the artifact store. Failures are logged only: the
// ledger record is the commitment, the export is a copy.
func (s *Service) export(ctx context.Context, payload []byte) string {
	if s.store == nil {
		return ""
	}
	ref, err := s.store.Store(ctx, payload)
	if err != nil {
		slog.WarnContext(ctx, "attest: receipt export failed", "error", err)
		return ""
	}
	return ref
}

func (s *Service) reject(ctx context.Context, subject, intentID string, cause error) (*envelope.Response, error) {
	code := ErrorCode(cause)
	var denied *mandate.DeniedError
	if errors.As(cause, &denied) {
		code = denied.Code()
	}
	if errors.Is(cause, config.ErrLimitExceeded) {
		code = "PILGRIM/ATTEST/LIMIT_EXCEEDED"
	}

	if _, err := s.append(ctx, KindRejection, RejectionRecord{
		IntentID: intentID,
		Subject:  subject,
		Code:     code,
		Reason:   cause.Error(),
	}); err != nil {
		return nil, err
	}
	s.telemetry.RecordRun(ctx, string(envelope.StatusRejected))
	slog.WarnContext(ctx, "attest: run rejected", "intent_id", intentID, "code", code, "error", cause)
	return envelope.NewResponse(intentID, envelope.StatusRejected, cause.Error())
}

func (s *Service) fail(ctx context.Context, subject string, in intent.Intent, cause error) (*envelope.Response, error) {
	code := ErrorCode(cause)
	if _, err := s.append(ctx, KindFailure, FailureRecord{
		IntentID: in.IntentID,
		RunID:    intent.RunID(in),
		Subject:  subject,
		Code:     code,
		Reason:   cause.Error(),
	}); err != nil {
		return nil, err
	}
	s.telemetry.RecordRun(ctx, string(envelope.StatusFailed))
	slog.WarnContext(ctx, "attest: run failed", "intent_id", in.IntentID, "code", code, "error", cause)
	return envelope.NewResponse(in.IntentID, envelope.StatusFailed, cause.Error())
}

func (s *Service) append(ctx context.Context, kind string, payload any) (ledger.Record, error) {
	rec, err := s.ledger.Append(ctx, kind, payload)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("attest: commit %s: %w", kind, err)
	}
	s.telemetry.RecordLedgerAppend(ctx, kind)
	observability.AddSpanEvent(ctx, "ledger.appended",
		observability.AttrLedgerKind.String(kind),
		observability.AttrLedgerIndex.Int64(int64(rec.Index)))
	return rec, nil
}
