// Package intent defines the caller's declared request and its execution bounds.
//
// An Intent never contains map fields, so its canonical encoding has exactly one
// form regardless of construction order.
package intent

import (
	"fmt"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
)

// PrivacyTier is part of the contract; it is declared, never inferred.
type PrivacyTier string

const (
	PrivacyPublic       PrivacyTier = "Public"
	PrivacyProtected    PrivacyTier = "Protected"
	PrivacyConfidential PrivacyTier = "Confidential"
	PrivacySealed       PrivacyTier = "Sealed"
)

// Valid reports whether t is one of the four declared tiers.
func (t PrivacyTier) Valid() bool {
	switch t {
	case PrivacyPublic, PrivacyProtected, PrivacyConfidential, PrivacySealed:
		return true
	}
	return false
}

// Datum is a single explicit input. Inputs are an ordered list, not a map.
type Datum struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Intent is the operator's ask that becomes a deterministic run.
type Intent struct {
	// IntentID is client generated (UUID, ULID, ...).
	IntentID string `json:"intent_id"`
	// CreatedUnixMs is the client clock. Recorded, never trusted.
	CreatedUnixMs uint64 `json:"created_unix_ms"`
	// Operator optionally labels the team, device or station.
	Operator    *string     `json:"operator"`
	Statement   string      `json:"statement"`
	Inputs      []Datum     `json:"inputs"`
	Constraints Constraints `json:"constraints"`
	// Nonce separates runs that reuse an IntentID.
	Nonce uint64 `json:"nonce"`
}

// Digest returns the canonical SHA-256 digest of the intent.
func Digest(in Intent) (string, error) {
	h, err := canonicalize.Hash(Normalize(in))
	if err != nil {
		return "", fmt.Errorf("intent digest: %w", err)
	}
	return h, nil
}

// CanonicalBytes returns the canonical encoding of the intent.
func CanonicalBytes(in Intent) ([]byte, error) {
	b, err := canonicalize.Encode(Normalize(in))
	if err != nil {
		return nil, fmt.Errorf("intent encode: %w", err)
	}
	return b, nil
}

// RunID derives the deterministic run identifier for an intent.
func RunID(in Intent) string {
	return fmt.Sprintf("%s#%d", in.IntentID, in.Nonce)
}

// Operator is a convenience for building the optional operator label.
func Operator(label string) *string {
	return &label
}

// Normalize maps a nil Inputs slice to an empty one so that both encode as [].
func Normalize(in Intent) Intent {
	if in.Inputs == nil {
		in.Inputs = []Datum{}
	}
	return in
}
