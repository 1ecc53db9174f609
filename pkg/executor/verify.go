package executor

import (
	"errors"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/intent"
)

// VerifyRun replays the run under the receipt's elapsed counter and compares
// every committed field.
func (e *Engine) VerifyRun(r *Receipt, intentDigest string, input []byte, c intent.Constraints) error {
	if r == nil {
		return mismatch(TraceHashMismatch, "nil receipt")
	}
	if r.IntentDigest != intentDigest {
		return mismatch(IntentDigestMismatch, "receipt %s, expected %s", r.IntentDigest, intentDigest)
	}
	want, err := e.Run(r.RunID, intentDigest, input, c, r.ElapsedMs)
	if err != nil {
		if errors.Is(err, intent.ErrRuntimeLimitExceeded) {
			return &VerificationError{Reason: OutputMismatch, Detail: "elapsed counter outside constraints", Err: err}
		}
		return &VerificationError{Reason: TraceHashMismatch, Detail: "replay failed", Err: err}
	}
	return compare(r, want)
}

// VerifyReceipt derives the run inputs from in exactly as Execute does and
// replays them.
func (e *Engine) VerifyReceipt(r *Receipt, in intent.Intent) error {
	if r == nil {
		return mismatch(TraceHashMismatch, "nil receipt")
	}
	args, err := deriveArgs(in)
	if err != nil {
		return &VerificationError{Reason: IntentDigestMismatch, Detail: "intent not encodable", Err: err}
	}
	if r.RunID != args.runID {
		return mismatch(IntentDigestMismatch, "run id %q, expected %q", r.RunID, args.runID)
	}
	if r.ElapsedMs != 0 {
		return mismatch(OutputMismatch, "elapsed_ms %d, expected 0", r.ElapsedMs)
	}
	return e.VerifyRun(r, args.digest, args.input, in.Constraints)
}

func compare(got, want *Receipt) error {
	if got.RunID != want.RunID {
		return mismatch(IntentDigestMismatch, "run id %q, expected %q", got.RunID, want.RunID)
	}
	if len(got.Steps) != len(want.Steps) {
		return mismatch(TraceHashMismatch, "%d steps, expected %d", len(got.Steps), len(want.Steps))
	}
	for i := range want.Steps {
		if got.Steps[i] != want.Steps[i] {
			return mismatch(TraceHashMismatch, "step %d differs", i)
		}
	}
	if got.FinalTraceHash != want.FinalTraceHash {
		return mismatch(TraceHashMismatch, "final trace hash %s, expected %s", got.FinalTraceHash, want.FinalTraceHash)
	}
	if got.Output != want.Output {
		return mismatch(OutputMismatch, "output differs")
	}
	if got.ElapsedMs != want.ElapsedMs {
		return mismatch(OutputMismatch, "elapsed_ms %d, expected %d", got.ElapsedMs, want.ElapsedMs)
	}
	return nil
}
