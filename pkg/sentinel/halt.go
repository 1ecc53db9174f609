package sentinel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ExitCodeHalt is the process exit status after an enforced halt.
const ExitCodeHalt = 70

// HaltRecord is written to a local sink before an enforced halt.
type HaltRecord struct {
	Timestamp         time.Time `json:"timestamp"`
	Domain            string    `json:"domain"`
	InvariantID       string    `json:"invariant_id"`
	Class             Class     `json:"class"`
	Label             string    `json:"label,omitempty"`
	BeforeFingerprint string    `json:"before_fingerprint"`
	AfterFingerprint  string    `json:"after_fingerprint"`
	EventHash         string    `json:"event_hash"`
	Reason            string    `json:"reason"`
}

// HaltSinkPath returns the halt record location inside dir.
func HaltSinkPath(dir string) string {
	return filepath.Join(dir, "halt_record.json")
}

// WriteHaltRecord writes rec atomically: temp file, then rename.
func WriteHaltRecord(dir string, rec *HaltRecord) error {
	sinkPath := HaltSinkPath(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("halt sink dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal halt record: %w", err)
	}

	tmpPath := sinkPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		// Last resort: write directly
		return os.WriteFile(sinkPath, data, 0o600)
	}
	return os.Rename(tmpPath, sinkPath)
}

// ReadHaltRecord returns the halt record in dir, or nil if none exists.
func ReadHaltRecord(dir string) (*HaltRecord, error) {
	data, err := os.ReadFile(HaltSinkPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var rec HaltRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt halt record: %w", err)
	}
	return &rec, nil
}

// Halter stops the process. It should not return.
type Halter interface {
	Halt(rec HaltRecord)
}

// HalterFunc adapts a function to Halter.
type HalterFunc func(rec HaltRecord)

func (f HalterFunc) Halt(rec HaltRecord) { f(rec) }

// ExitHalter terminates the process with ExitCodeHalt.
type ExitHalter struct{}

func (ExitHalter) Halt(HaltRecord) { os.Exit(ExitCodeHalt) }
