// Package ledger is an append-only, hash-chained record store.
//
// Each record commits to its predecessor:
//
//	record_hash = sha256(prev_hash "|" kind "|" payload_json)
//
// with prev_hash of record 0 equal to GENESIS. Records are never rewritten.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
)

// Ledger appends canonical payloads through a Backend under a Locker.
type Ledger struct {
	backend Backend
	locker  Locker
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLocker adds a cross-process lock taken after the in-process one.
func WithLocker(l Locker) Option {
	return func(led *Ledger) {
		led.locker = chainLocker{led.locker, l}
	}
}

// New returns a ledger over backend.
func New(backend Backend, opts ...Option) *Ledger {
	led := &Ledger{backend: backend, locker: &LocalLocker{}}
	for _, opt := range opts {
		opt(led)
	}
	return led
}

// NewMemory is shorthand for New(NewMemoryBackend()).
func NewMemory() *Ledger {
	return New(NewMemoryBackend())
}

// Append canonicalizes payload and commits it under kind.
func (l *Ledger) Append(ctx context.Context, kind string, payload any) (Record, error) {
	b, err := canonicalize.Encode(payload)
	if err != nil {
		return Record{}, fmt.Errorf("ledger: payload: %w", err)
	}
	return l.commit(ctx, kind, func([]Record) (string, error) { return string(b), nil })
}

// AppendNext commits the payload next derives from the stored records. next
// runs under the ledger lock, so the records it sees are exactly the ones the
// new record follows.
func (l *Ledger) AppendNext(ctx context.Context, kind string, next func(records []Record) (any, error)) (Record, error) {
	return l.commit(ctx, kind, func(records []Record) (string, error) {
		payload, err := next(records)
		if err != nil {
			return "", err
		}
		b, err := canonicalize.Encode(payload)
		if err != nil {
			return "", fmt.Errorf("ledger: payload: %w", err)
		}
		return string(b), nil
	})
}

// AppendRaw commits JSON bytes. They are re-canonicalized, so bytes already in
// canonical form are stored unchanged.
func (l *Ledger) AppendRaw(ctx context.Context, kind string, payload []byte) (Record, error) {
	if !json.Valid(payload) {
		return Record{}, errors.New("ledger: payload is not valid JSON")
	}
	return l.Append(ctx, kind, json.RawMessage(payload))
}

func (l *Ledger) commit(ctx context.Context, kind string, build func([]Record) (string, error)) (Record, error) {
	if kind == "" {
		return Record{}, errors.New("ledger: kind is required")
	}
	unlock, err := l.locker.Lock(ctx)
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	records, err := l.backend.Load(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("ledger: load tail: %w", err)
	}
	payload, err := build(records)
	if err != nil {
		return Record{}, err
	}
	prev := canonicalize.Genesis
	if n := len(records); n > 0 {
		prev = records[n-1].RecordHash
	}
	rec := Record{
		Index:       uint64(len(records)),
		Kind:        kind,
		PayloadJSON: payload,
		PrevHash:    prev,
		RecordHash:  RecordHash(prev, kind, payload),
	}
	if err := l.backend.Write(ctx, rec); err != nil {
		return Record{}, err
	}
	slog.DebugContext(ctx, "ledger: appended", "index", rec.Index, "kind", kind, "record_hash", rec.RecordHash)
	return rec, nil
}

// Check returns nil for an intact chain, or a *ChainBrokenError. A backend
// that cannot load counts as broken.
func (l *Ledger) Check(ctx context.Context) error {
	records, err := l.backend.Load(ctx)
	if err != nil {
		return &ChainBrokenError{Index: uint64(len(records)), Reason: ReasonLoadFailed, Err: err}
	}
	return CheckChain(records)
}

// Verify reports whether the whole chain checks out. An empty ledger verifies.
func (l *Ledger) Verify(ctx context.Context) bool {
	err := l.Check(ctx)
	if err != nil {
		slog.WarnContext(ctx, "ledger: verification failed", "error", err)
	}
	return err == nil
}

// Records returns a copy of every record.
func (l *Ledger) Records(ctx context.Context) ([]Record, error) {
	return l.backend.Load(ctx)
}

// Head returns the tail record hash, or GENESIS when empty.
func (l *Ledger) Head(ctx context.Context) (string, error) {
	records, err := l.backend.Load(ctx)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return canonicalize.Genesis, nil
	}
	return records[len(records)-1].RecordHash, nil
}
