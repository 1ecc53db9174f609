// Package replay audits an exported ledger offline. It re-derives every record
// hash, keeps going past the first break, and checks that each receipt's step
// trace folds to the hashes it claims.
package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/attest"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/ledger"
)

// Result holds the outcome of replaying a ledger.
type Result struct {
	TotalRecords    int            `json:"total_records"`
	ValidChain      bool           `json:"valid_chain"`
	ChainBreaks     []string       `json:"chain_breaks,omitempty"`
	HashesVerified  int            `json:"hashes_verified"`
	HashMismatches  []string       `json:"hash_mismatches,omitempty"`
	NonCanonical    []string       `json:"non_canonical,omitempty"`
	ReceiptsChecked int            `json:"receipts_checked"`
	ReceiptIssues   []string       `json:"receipt_issues,omitempty"`
	DuplicateRunIDs []string       `json:"duplicate_run_ids,omitempty"`
	Summary         map[string]int `json:"summary"` // kind -> count
	FirstBreakIndex *uint64        `json:"first_break_index,omitempty"`
	HeadRecordHash  string         `json:"head_record_hash,omitempty"`
}

// OK reports whether nothing at all was flagged.
func (r *Result) OK() bool {
	return r.ValidChain && len(r.HashMismatches) == 0 && len(r.NonCanonical) == 0 &&
		len(r.ReceiptIssues) == 0 && len(r.DuplicateRunIDs) == 0
}

// FromFile reads a JSONL ledger file and replays it.
func FromFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	return FromReader(f)
}

// FromReader replays a JSONL ledger. Lines that parse but are not in the exact
// form the file backend writes are replayed anyway and listed in NonCanonical.
func FromReader(r io.Reader) (*Result, error) {
	var (
		records      []ledger.Record
		nonCanonical []string
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		rec, err := ledger.DecodeLine(raw)
		if err != nil {
			if jerr := json.Unmarshal(raw, &rec); jerr != nil {
				return nil, fmt.Errorf("decode line %d: %w", line, jerr)
			}
			nonCanonical = append(nonCanonical, fmt.Sprintf("line %d: %v", line, err))
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	result := Replay(records)
	result.NonCanonical = nonCanonical
	return result, nil
}

// Replay verifies a record sequence from GENESIS. Each record is checked
// against its stored predecessor hash, so one tampered record yields one
// mismatch and one break rather than invalidating everything after it.
func Replay(records []ledger.Record) *Result {
	result := &Result{
		TotalRecords: len(records),
		ValidChain:   true,
		Summary:      make(map[string]int),
	}

	expectedPrev := canonicalize.Genesis
	runIDs := make(map[string]bool)
	for i, rec := range records {
		result.Summary[rec.Kind]++

		if rec.Index != uint64(i) {
			result.chainBreak(uint64(i), fmt.Sprintf("record[%d]: index %d out of sequence", i, rec.Index))
		}
		if rec.PrevHash != expectedPrev {
			result.chainBreak(uint64(i), fmt.Sprintf("record[%d]: prev_hash mismatch (expected %s, got %s)", i, expectedPrev, rec.PrevHash))
		}
		if want := ledger.RecordHash(rec.PrevHash, rec.Kind, rec.PayloadJSON); rec.RecordHash != want {
			result.HashMismatches = append(result.HashMismatches,
				fmt.Sprintf("record[%d] %s: record_hash mismatch (computed %s, stored %s)", i, rec.Kind, want, rec.RecordHash))
			result.chainBreak(uint64(i), "")
		} else {
			result.HashesVerified++
		}
		expectedPrev = rec.RecordHash

		if rec.Kind == attest.KindReceipt {
			result.ReceiptsChecked++
			runID, issues := checkReceiptRecord(rec.PayloadJSON)
			for _, issue := range issues {
				result.ReceiptIssues = append(result.ReceiptIssues, fmt.Sprintf("record[%d]: %s", i, issue))
			}
			if runID != "" {
				if runIDs[runID] {
					result.DuplicateRunIDs = append(result.DuplicateRunIDs, runID)
				}
				runIDs[runID] = true
			}
		}
	}
	if len(records) > 0 {
		result.HeadRecordHash = records[len(records)-1].RecordHash
	}
	return result
}

func (r *Result) chainBreak(index uint64, msg string) {
	r.ValidChain = false
	if r.FirstBreakIndex == nil {
		r.FirstBreakIndex = &index
	}
	if msg != "" {
		r.ChainBreaks = append(r.ChainBreaks, msg)
	}
}
