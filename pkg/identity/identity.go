// Package identity provides deterministic identity fingerprints and proofs.
//
// Proofs are hash commitments, not signatures: anyone holding the fingerprint
// can produce one. The API is shaped so a signature scheme can replace the
// hash without changing callers.
package identity

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
)

var (
	ErrInvalidSubject    = errors.New("identity: invalid subject id")
	ErrInvalidPublicKey  = errors.New("identity: invalid public key bytes")
	ErrProofVerification = errors.New("identity: proof verification failed")
)

// Identity binds a subject id to a key fingerprint.
type Identity struct {
	SubjectID         string `json:"subject_id"`
	PubkeyFingerprint string `json:"pubkey_fingerprint"`
}

// Proof asserts that an identity authorized a message hash.
type Proof struct {
	SubjectID         string `json:"subject_id"`
	PubkeyFingerprint string `json:"pubkey_fingerprint"`
	MessageHash       string `json:"message_hash"`
	ProofHash         string `json:"proof_hash"`
}

// Fingerprint returns sha256hex(pubkey).
func Fingerprint(pubkey []byte) string {
	return canonicalize.HashBytes(pubkey)
}

// ProofHash returns sha256hex(fingerprint ":" messageHash).
func ProofHash(fingerprint, messageHash string) string {
	return canonicalize.HashBytes([]byte(fingerprint + ":" + messageHash))
}

// New trims subjectID and fingerprints pubkey.
func New(subjectID string, pubkey []byte) (Identity, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Identity{}, ErrInvalidSubject
	}
	if len(pubkey) == 0 {
		return Identity{}, ErrInvalidPublicKey
	}
	return Identity{SubjectID: subjectID, PubkeyFingerprint: Fingerprint(pubkey)}, nil
}

// Prove produces the proof for messageHash.
func (id Identity) Prove(messageHash string) Proof {
	return Proof{
		SubjectID:         id.SubjectID,
		PubkeyFingerprint: id.PubkeyFingerprint,
		MessageHash:       messageHash,
		ProofHash:         ProofHash(id.PubkeyFingerprint, messageHash),
	}
}

// Verify checks p against this identity in constant time.
func (id Identity) Verify(p Proof) error {
	if p.SubjectID != id.SubjectID || p.PubkeyFingerprint != id.PubkeyFingerprint {
		return ErrProofVerification
	}
	if !VerifyProof(id.PubkeyFingerprint, p.MessageHash, p.ProofHash) {
		return ErrProofVerification
	}
	return nil
}

// VerifyProof recomputes the proof hash and compares in constant time.
func VerifyProof(fingerprint, messageHash, proofHash string) bool {
	expected := ProofHash(fingerprint, messageHash)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(proofHash)) == 1
}
