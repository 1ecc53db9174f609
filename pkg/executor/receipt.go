package executor

import (
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
)

// StatusCompleted is the only status a Receipt can carry; failed runs have none.
const StatusCompleted = "completed"

// TraceEvent is the unit folded into the trace hash chain.
type TraceEvent struct {
	StepIndex     int    `json:"step_index"`
	StepName      string `json:"step_name"`
	InputHash     string `json:"input_hash"`
	OutputHash    string `json:"output_hash"`
	PrevTraceHash string `json:"prev_trace_hash"`
}

// StepReceipt records one step and the chain head after folding it.
type StepReceipt struct {
	StepIndex  int    `json:"step_index"`
	StepName   string `json:"step_name"`
	InputHash  string `json:"input_hash"`
	OutputHash string `json:"output_hash"`
	TraceHash  string `json:"trace_hash"`
}

// Output summarises the final payload of a completed run.
type Output struct {
	Status     string `json:"status"`
	OutputHash string `json:"output_hash"`
	// ResultToken binds the output to the trace: sha256(final_trace_hash ":" output_hash).
	ResultToken string `json:"result_token"`
}

// Receipt is reproducible byte for byte from the run arguments.
type Receipt struct {
	RunID          string        `json:"run_id"`
	IntentDigest   string        `json:"intent_digest"`
	FinalTraceHash string        `json:"final_trace_hash"`
	Steps          []StepReceipt `json:"steps"`
	// ElapsedMs is the caller-supplied counter the run was admitted under.
	ElapsedMs uint64 `json:"elapsed_ms"`
	Output    Output `json:"output"`
}

// Hash returns the canonical digest of the whole receipt.
func (r *Receipt) Hash() (string, error) {
	return canonicalize.Hash(r)
}

// ResultToken derives Output.ResultToken.
func ResultToken(finalTraceHash, outputHash string) string {
	return canonicalize.HashBytes([]byte(finalTraceHash + ":" + outputHash))
}
