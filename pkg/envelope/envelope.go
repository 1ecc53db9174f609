// Package envelope seals an Intent under a protocol tag and a checksum over its
// canonical bytes, and verifies that nothing changed since.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/intent"
)

// ProtocolVersion is embedded into every envelope this build produces.
const ProtocolVersion = "amethyst-pilgrim-handshake/1"

// Checksum binds an envelope to its canonical bytes.
type Checksum struct {
	Algo string `json:"algo"`
	Hex  string `json:"hex"`
}

// Envelope is a versioned, self-checking request.
//
// There is no mutator: any field change after Seal invalidates the checksum and
// is only detectable by calling Verify.
type Envelope struct {
	Protocol string        `json:"protocol"`
	Intent   intent.Intent `json:"intent"`
	Checksum Checksum      `json:"checksum"`
}

// sealedFields is exactly what the checksum covers.
type sealedFields struct {
	Protocol string        `json:"protocol"`
	Intent   intent.Intent `json:"intent"`
}

// Seal stamps the current protocol version and computes the checksum. Intents
// carrying non-NFC strings are refused.
func Seal(in intent.Intent) (*Envelope, error) {
	if err := intent.CheckNormalized(in); err != nil {
		return nil, err
	}
	env := &Envelope{
		Protocol: ProtocolVersion,
		Intent:   intent.Normalize(in),
		Checksum: Checksum{Algo: canonicalize.Algo},
	}
	sum, err := env.computeChecksum()
	if err != nil {
		return nil, err
	}
	env.Checksum.Hex = sum
	return env, nil
}

// CanonicalBytes returns the exact bytes the checksum is computed over.
// Downstream hashing must reuse these bytes instead of re-encoding the intent.
func (e *Envelope) CanonicalBytes() ([]byte, error) {
	b, err := canonicalize.Encode(sealedFields{Protocol: e.Protocol, Intent: intent.Normalize(e.Intent)})
	if err != nil {
		return nil, fmt.Errorf("envelope canonical bytes: %w", err)
	}
	return b, nil
}

// IntentBytes returns the intent member of CanonicalBytes, byte for byte.
// Sealed runs execute over these bytes.
func (e *Envelope) IntentBytes() ([]byte, error) {
	b, err := e.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	var sealed struct {
		Intent json.RawMessage `json:"intent"`
	}
	if err := json.Unmarshal(b, &sealed); err != nil {
		return nil, fmt.Errorf("envelope intent bytes: %w", err)
	}
	return sealed.Intent, nil
}

func (e *Envelope) computeChecksum() (string, error) {
	b, err := e.CanonicalBytes()
	if err != nil {
		return "", err
	}
	return canonicalize.HashBytes(b), nil
}

// Verify checks the envelope against ProtocolVersion.
func (e *Envelope) Verify() error {
	return e.VerifyVersion(ProtocolVersion)
}

// VerifyVersion checks the protocol tag against expected, then the checksum
// format, then the checksum itself. A non-NFC string is a checksum mismatch:
// the checksum covers the NFC form, not the bytes carried.
func (e *Envelope) VerifyVersion(expected string) error {
	if e.Protocol != expected {
		return &HandshakeError{Kind: KindProtocolMismatch, Expected: expected, Got: e.Protocol}
	}
	if err := checkFormat(e.Checksum); err != nil {
		return err
	}
	if err := intent.CheckNormalized(e.Intent); err != nil {
		return &HandshakeError{Kind: KindChecksumMismatch, Err: err}
	}
	sum, err := e.computeChecksum()
	if err != nil {
		return badJSON(err)
	}
	if sum != e.Checksum.Hex {
		return &HandshakeError{Kind: KindChecksumMismatch}
	}
	return nil
}

func checkFormat(c Checksum) error {
	if c.Algo != canonicalize.Algo {
		return &HandshakeError{Kind: KindBadChecksumFormat, Got: fmt.Sprintf("algo %q", c.Algo)}
	}
	if !canonicalize.ValidHex(c.Hex) {
		return &HandshakeError{Kind: KindBadChecksumFormat, Got: "hex must be 64 lowercase hex characters"}
	}
	return nil
}
