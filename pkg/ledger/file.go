package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackend stores one JSON record per line. Lines are only ever appended.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend over path. The file is created on first write.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the JSONL file location.
func (f *FileBackend) Path() string { return f.path }

// Load reads the whole file. A line that does not decode, or that is not the
// exact encoding this backend would have written, is a load error.
func (f *FileBackend) Load(_ context.Context) ([]Record, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("ledger: open %s: %w", f.path, err)
	}
	defer func() { _ = file.Close() }()

	records := make([]Record, 0)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		rec, err := DecodeLine(raw)
		if err != nil {
			return records, fmt.Errorf("ledger: %s line %d: %w", f.path, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("ledger: read %s: %w", f.path, err)
	}
	return records, nil
}

func (f *FileBackend) Write(_ context.Context, rec Record) error {
	line, err := EncodeLine(rec)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("ledger: mkdir: %w", err)
		}
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("ledger: open for append: %w", err)
	}
	if _, err := file.Write(line); err != nil {
		_ = file.Close()
		return fmt.Errorf("ledger: append: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("ledger: sync: %w", err)
	}
	return file.Close()
}

// EncodeLine renders rec as a single newline-terminated JSON line with HTML
// escaping disabled.
func EncodeLine(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("ledger: encode record: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeLine parses one JSONL line strictly.
func DecodeLine(raw []byte) (Record, error) {
	var rec Record
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return Record{}, err
	}
	again, err := EncodeLine(rec)
	if err != nil {
		return Record{}, err
	}
	if !bytes.Equal(bytes.TrimRight(again, "\n"), bytes.TrimRight(raw, "\r\n")) {
		return Record{}, errors.New("line is not in canonical record form")
	}
	return rec, nil
}
