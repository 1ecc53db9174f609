package replay

import (
	"encoding/json"
	"fmt"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/attest"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/executor"
)

func checkReceiptRecord(payload string) (string, []string) {
	var rec attest.ReceiptRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return "", []string{fmt.Sprintf("receipt payload does not decode: %v", err)}
	}
	if rec.Receipt == nil {
		return "", []string{"receipt payload has no receipt"}
	}
	return rec.Receipt.RunID, CheckReceipt(rec.Receipt)
}

// CheckReceipt re-folds a receipt's step trace and reports every structural
// inconsistency. It does not re-execute anything.
func CheckReceipt(r *executor.Receipt) []string {
	var issues []string
	trace := canonicalize.Genesis
	for i, s := range r.Steps {
		if s.StepIndex != i {
			issues = append(issues, fmt.Sprintf("step %d: index %d is not contiguous", i, s.StepIndex))
		}
		if i > 0 && s.InputHash != r.Steps[i-1].OutputHash {
			issues = append(issues, fmt.Sprintf("step %d (%s): input_hash does not match previous output", i, s.StepName))
		}
		next, err := canonicalize.Fold(trace, executor.TraceEvent{
			StepIndex:     s.StepIndex,
			StepName:      s.StepName,
			InputHash:     s.InputHash,
			OutputHash:    s.OutputHash,
			PrevTraceHash: trace,
		})
		if err != nil {
			issues = append(issues, fmt.Sprintf("step %d: %v", i, err))
			return issues
		}
		if next != s.TraceHash {
			issues = append(issues, fmt.Sprintf("step %d (%s): trace_hash does not fold", i, s.StepName))
		}
		// Continue from the stored hash so a single bad step is reported once.
		trace = s.TraceHash
	}

	if r.FinalTraceHash != trace {
		issues = append(issues, "final_trace_hash is not the last step trace_hash")
	}
	if n := len(r.Steps); n > 0 && r.Output.OutputHash != r.Steps[n-1].OutputHash {
		issues = append(issues, "output_hash is not the last step output_hash")
	}
	if r.Output.Status != executor.StatusCompleted {
		issues = append(issues, fmt.Sprintf("output status %q is not %q", r.Output.Status, executor.StatusCompleted))
	}
	if r.Output.ResultToken != executor.ResultToken(r.FinalTraceHash, r.Output.OutputHash) {
		issues = append(issues, "result_token does not bind final_trace_hash to output_hash")
	}
	if r.ElapsedMs != 0 {
		issues = append(issues, fmt.Sprintf("elapsed_ms is %d, committed receipts carry 0", r.ElapsedMs))
	}
	return issues
}
