package ledger

import (
	"errors"
	"fmt"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
)

// CodeChainBroken is the stable error code for ChainBrokenError.
const CodeChainBroken = "PILGRIM/LEDGER/CHAIN_BROKEN"

// Chain break reasons.
const (
	ReasonIndexMismatch      = "index_mismatch"
	ReasonPrevHashMismatch   = "prev_hash_mismatch"
	ReasonRecordHashMismatch = "record_hash_mismatch"
	ReasonLoadFailed         = "load_failed"
)

// ErrChainBroken matches *ChainBrokenError.
var ErrChainBroken = errors.New("ledger chain broken")

// Record is one committed ledger entry.
type Record struct {
	Index       uint64 `json:"index"`
	Kind        string `json:"kind"`
	PayloadJSON string `json:"payload_json"`
	PrevHash    string `json:"prev_hash"`
	RecordHash  string `json:"record_hash"`
}

// RecordHash computes sha256(prev "|" kind "|" payload).
func RecordHash(prevHash, kind, payloadJSON string) string {
	return canonicalize.HashBytes([]byte(prevHash + "|" + kind + "|" + payloadJSON))
}

// ChainBrokenError locates the first record that fails verification.
type ChainBrokenError struct {
	Index  uint64 `json:"index"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *ChainBrokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger chain broken at %d: %s: %v", e.Index, e.Reason, e.Err)
	}
	return fmt.Sprintf("ledger chain broken at %d: %s", e.Index, e.Reason)
}

func (e *ChainBrokenError) Unwrap() error { return e.Err }

func (e *ChainBrokenError) Is(target error) bool { return target == ErrChainBroken }

func (e *ChainBrokenError) Code() string { return CodeChainBroken }

// CheckChain verifies a loaded record sequence from GENESIS.
func CheckChain(records []Record) error {
	expectedPrev := canonicalize.Genesis
	for i, rec := range records {
		idx := uint64(i)
		if rec.Index != idx {
			return &ChainBrokenError{Index: idx, Reason: ReasonIndexMismatch}
		}
		if rec.PrevHash != expectedPrev {
			return &ChainBrokenError{Index: idx, Reason: ReasonPrevHashMismatch}
		}
		if rec.RecordHash != RecordHash(rec.PrevHash, rec.Kind, rec.PayloadJSON) {
			return &ChainBrokenError{Index: idx, Reason: ReasonRecordHashMismatch}
		}
		expectedPrev = rec.RecordHash
	}
	return nil
}
