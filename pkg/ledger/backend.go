package ledger

import (
	"context"
	"sync"
)

// Backend persists records. Implementations only ever append.
type Backend interface {
	// Load returns every record in commit order.
	Load(ctx context.Context) ([]Record, error)
	// Write appends rec after the current tail.
	Write(ctx context.Context, rec Record) error
}

// MemoryBackend keeps records in process. Used by tests and dry runs.
type MemoryBackend struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make([]Record, 0)}
}

func (m *MemoryBackend) Load(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *MemoryBackend) Write(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}
