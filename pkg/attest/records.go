package attest

import (
	"errors"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/executor"
)

// Ledger record kinds written by the service.
const (
	KindReceipt   = "receipt"
	KindRejection = "rejection"
	KindFailure   = "failure"
)

// ReceiptRecord is the payload of a receipt ledger record.
type ReceiptRecord struct {
	IntentID string            `json:"intent_id"`
	Subject  string            `json:"subject"`
	Checksum string            `json:"checksum"`
	Receipt  *executor.Receipt `json:"receipt"`
}

// RejectionRecord is written when an envelope or mandate check refuses a run.
type RejectionRecord struct {
	IntentID string `json:"intent_id"`
	Subject  string `json:"subject"`
	Code     string `json:"code"`
	Reason   string `json:"reason"`
}

// FailureRecord is written when the engine aborts a run.
type FailureRecord struct {
	IntentID string `json:"intent_id"`
	RunID    string `json:"run_id"`
	Subject  string `json:"subject"`
	Code     string `json:"code"`
	Reason   string `json:"reason"`
}

// Logs is the logs_json body of a completed response.
type Logs struct {
	LedgerIndex uint64   `json:"ledger_index"`
	RecordHash  string   `json:"record_hash"`
	Steps       []string `json:"steps"`
	Artifact    string   `json:"artifact,omitempty"`
}

// ErrorCode returns the stable code carried by err, or "PILGRIM/CORE/INTERNAL".
func ErrorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return "PILGRIM/CORE/INTERNAL"
}
