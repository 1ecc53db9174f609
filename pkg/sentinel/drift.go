package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/ledger"
)

// LedgerKindDrift is the ledger record kind drift events are mirrored under.
const LedgerKindDrift = "drift"

// DriftEvent is created only when a violation is detected.
type DriftEvent struct {
	Seq               uint64 `json:"seq"`
	Domain            string `json:"domain"`
	InvariantID       string `json:"invariant_id"`
	Class             Class  `json:"class"`
	Label             string `json:"label,omitempty"`
	BeforeFingerprint string `json:"before_fingerprint"`
	AfterFingerprint  string `json:"after_fingerprint"`
	// PrevEventHash is empty for the first event.
	PrevEventHash string `json:"prev_event_hash,omitempty"`
	EventHash     string `json:"event_hash"`
}

// computeHash covers every field except EventHash.
func (e DriftEvent) computeHash() (string, error) {
	type unsealed struct {
		Seq               uint64 `json:"seq"`
		Domain            string `json:"domain"`
		InvariantID       string `json:"invariant_id"`
		Class             Class  `json:"class"`
		Label             string `json:"label,omitempty"`
		BeforeFingerprint string `json:"before_fingerprint"`
		AfterFingerprint  string `json:"after_fingerprint"`
		PrevEventHash     string `json:"prev_event_hash,omitempty"`
	}
	return canonicalize.Hash(unsealed{
		Seq:               e.Seq,
		Domain:            e.Domain,
		InvariantID:       e.InvariantID,
		Class:             e.Class,
		Label:             e.Label,
		BeforeFingerprint: e.BeforeFingerprint,
		AfterFingerprint:  e.AfterFingerprint,
		PrevEventHash:     e.PrevEventHash,
	})
}

// DriftLedger is a hash chain of drift events. With a mirror the durable
// ledger is authoritative: each Record derives the tail from the drift records
// already stored there, so the chain survives restarts.
type DriftLedger struct {
	mu     sync.Mutex
	events []DriftEvent
	mirror *ledger.Ledger
}

// NewDriftLedger returns a drift ledger over mirror, which may be nil. Call
// Load to see events recorded by earlier processes before the next Record.
func NewDriftLedger(mirror *ledger.Ledger) *DriftLedger {
	return &DriftLedger{mirror: mirror}
}

// Load replaces the in-memory chain with the drift records held by the mirror.
func (d *DriftLedger) Load(ctx context.Context) error {
	if d.mirror == nil {
		return nil
	}
	records, err := d.mirror.Records(ctx)
	if err != nil {
		return fmt.Errorf("drift load: %w", err)
	}
	events, err := driftEvents(records)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.events = events
	d.mu.Unlock()
	return nil
}

// Record chains ev after the current tail and stores it. Seq, PrevEventHash
// and EventHash are assigned here.
func (d *DriftLedger) Record(ctx context.Context, ev DriftEvent) (DriftEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mirror == nil {
		sealed, err := chain(d.events, ev)
		if err != nil {
			return DriftEvent{}, err
		}
		d.events = append(d.events, sealed)
		return sealed, nil
	}

	var (
		prior  []DriftEvent
		sealed DriftEvent
	)
	_, err := d.mirror.AppendNext(ctx, LedgerKindDrift, func(records []ledger.Record) (any, error) {
		var err error
		if prior, err = driftEvents(records); err != nil {
			return nil, err
		}
		sealed, err = chain(prior, ev)
		return sealed, err
	})
	if err != nil {
		return sealed, fmt.Errorf("drift mirror: %w", err)
	}
	d.events = append(prior, sealed)
	return sealed, nil
}

func chain(prior []DriftEvent, ev DriftEvent) (DriftEvent, error) {
	ev.Seq = uint64(len(prior))
	ev.PrevEventHash = ""
	if n := len(prior); n > 0 {
		ev.PrevEventHash = prior[n-1].EventHash
	}
	h, err := ev.computeHash()
	if err != nil {
		return DriftEvent{}, fmt.Errorf("drift event hash: %w", err)
	}
	ev.EventHash = h
	return ev, nil
}

// driftEvents decodes every drift record in ledger order.
func driftEvents(records []ledger.Record) ([]DriftEvent, error) {
	var events []DriftEvent
	for _, rec := range records {
		if rec.Kind != LedgerKindDrift {
			continue
		}
		var ev DriftEvent
		if err := json.Unmarshal([]byte(rec.PayloadJSON), &ev); err != nil {
			return nil, fmt.Errorf("drift record %d: %w", rec.Index, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Events returns a copy of the chain.
func (d *DriftLedger) Events() []DriftEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DriftEvent, len(d.events))
	copy(out, d.events)
	return out
}

// Len returns the number of recorded events.
func (d *DriftLedger) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

// Verify recomputes the chain.
func (d *DriftLedger) Verify() error {
	return VerifyDriftChain(d.Events())
}

// VerifyDriftChain checks seq, linkage and hashes of an exported chain.
func VerifyDriftChain(events []DriftEvent) error {
	prev := ""
	for i, ev := range events {
		if ev.Seq != uint64(i) {
			return fmt.Errorf("drift event %d: seq %d", i, ev.Seq)
		}
		if ev.PrevEventHash != prev {
			return fmt.Errorf("drift event %d: prev_event_hash mismatch", i)
		}
		h, err := ev.computeHash()
		if err != nil {
			return err
		}
		if h != ev.EventHash {
			return fmt.Errorf("drift event %d: event_hash mismatch", i)
		}
		prev = ev.EventHash
	}
	return nil
}
