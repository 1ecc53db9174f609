// Package artifacts is a content-addressed store for exported receipts.
//
// Every blob is addressed by "sha256:<hex>" of its bytes. Reads re-hash the
// returned bytes, so a backend that serves altered content fails with
// ErrCorrupt instead of handing back an unverifiable receipt.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
)

const refPrefix = canonicalize.Algo + ":"

var (
	// ErrNotFound is returned by Get for an absent blob.
	ErrNotFound = errors.New("artifact not found")
	// ErrCorrupt is returned when stored bytes no longer match their address.
	ErrCorrupt = errors.New("artifact content does not match its address")
	// ErrInvalidRef is returned for addresses that are not "sha256:<hex>".
	ErrInvalidRef = errors.New("invalid artifact reference")
)

// Store defines the contract for content-addressed storage.
type Store interface {
	// Store persists data and returns its address. Storing the same bytes
	// twice is a no-op.
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by address.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Exists reports whether an address is present.
	Exists(ctx context.Context, ref string) (bool, error)
}

// Ref returns the address data would be stored under.
func Ref(data []byte) string {
	return refPrefix + canonicalize.HashBytes(data)
}

// parseRef returns the hex digest of a "sha256:<hex>" address.
func parseRef(ref string) (string, error) {
	raw, ok := strings.CutPrefix(ref, refPrefix)
	if !ok || !canonicalize.ValidHex(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return raw, nil
}

// verify checks data against its address.
func verify(ref string, data []byte) ([]byte, error) {
	if Ref(data) != ref {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, ref)
	}
	return data, nil
}

// FileStore is a filesystem-backed implementation of Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a new store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Dir returns the root directory.
func (s *FileStore) Dir() string { return s.baseDir }

func (s *FileStore) path(raw string) string {
	return filepath.Join(s.baseDir, raw+".blob")
}

func (s *FileStore) Store(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := Ref(data)
	path := s.path(strings.TrimPrefix(ref, refPrefix))
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	// Write to temp, then rename
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return ref, nil
}

func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	raw, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(raw))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("read artifact %s: %w", ref, err)
	}
	return verify(ref, data)
}

func (s *FileStore) Exists(_ context.Context, ref string) (bool, error) {
	raw, err := parseRef(ref)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(s.path(raw))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat artifact %s: %w", ref, err)
}
