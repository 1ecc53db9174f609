package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects placeholder syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS ledger_records (
	idx BIGINT PRIMARY KEY,
	kind TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	record_hash TEXT NOT NULL
);
`

// SQLBackend stores records in the ledger_records table. It issues INSERT and
// SELECT only; rows are never updated or deleted.
//
// Use modernc.org/sqlite ("sqlite") for lite mode and github.com/lib/pq
// ("postgres") for shared deployments.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLBackend wraps an open handle.
func NewSQLBackend(db *sql.DB, dialect Dialect) *SQLBackend {
	return &SQLBackend{db: db, dialect: dialect}
}

// Init creates the table if needed.
func (s *SQLBackend) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqlSchema); err != nil {
		return fmt.Errorf("ledger: init schema: %w", err)
	}
	return nil
}

func (s *SQLBackend) insertQuery() string {
	if s.dialect == DialectPostgres {
		return `INSERT INTO ledger_records (idx, kind, payload_json, prev_hash, record_hash) VALUES ($1, $2, $3, $4, $5)`
	}
	return `INSERT INTO ledger_records (idx, kind, payload_json, prev_hash, record_hash) VALUES (?, ?, ?, ?, ?)`
}

func (s *SQLBackend) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT idx, kind, payload_json, prev_hash, record_hash FROM ledger_records ORDER BY idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("ledger: query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Record, 0)
	for rows.Next() {
		var (
			idx int64
			rec Record
		)
		if err := rows.Scan(&idx, &rec.Kind, &rec.PayloadJSON, &rec.PrevHash, &rec.RecordHash); err != nil {
			return nil, fmt.Errorf("ledger: scan record: %w", err)
		}
		if idx < 0 {
			return nil, fmt.Errorf("ledger: negative index %d", idx)
		}
		rec.Index = uint64(idx)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLBackend) Write(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, s.insertQuery(),
		int64(rec.Index), rec.Kind, rec.PayloadJSON, rec.PrevHash, rec.RecordHash,
	)
	if err != nil {
		return fmt.Errorf("ledger: insert record %d: %w", rec.Index, err)
	}
	return nil
}
