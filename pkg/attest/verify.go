package attest

import (
	"context"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/executor"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/intent"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/ledger"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/observability"
)

// VerifyReceipt replays in as subject and compares the result with r.
// Outcomes are memoized per (receipt hash, intent digest, subject).
func (s *Service) VerifyReceipt(ctx context.Context, subject string, r *executor.Receipt, in intent.Intent) error {
	_, done := s.telemetry.TrackOperation(ctx, "attest.verify_receipt",
		observability.RunAttributes(in.IntentID, r.RunID, subject)...)
	err := s.verifyReceipt(subject, r, in)
	done(err)
	return err
}

func (s *Service) verifyReceipt(subject string, r *executor.Receipt, in intent.Intent) error {
	receiptHash, err := r.Hash()
	if err != nil {
		return err
	}
	digest, err := intent.Digest(in)
	if err != nil {
		return err
	}
	key := receiptHash + "|" + digest + "|" + subject
	if cached, ok := s.verified.Get(key); ok {
		return cached
	}

	err = s.engine.As(subject).VerifyReceipt(r, in)
	s.verified.Add(key, err)
	return err
}

// VerifyLedger checks the full hash chain.
func (s *Service) VerifyLedger(ctx context.Context) error {
	ctx, done := s.telemetry.TrackOperation(ctx, "attest.verify_ledger")
	err := s.ledger.Check(ctx)
	done(err)
	return err
}

// Records returns every ledger record in order.
func (s *Service) Records(ctx context.Context) ([]ledger.Record, error) {
	return s.ledger.Records(ctx)
}
