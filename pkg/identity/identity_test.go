package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
)

func TestIdentity_FingerprintStable(t *testing.T) {
	a, err := New("ernesto_lopez", []byte("demo-pubkey-bytes"))
	require.NoError(t, err)
	b, err := New("  ernesto_lopez ", []byte("demo-pubkey-bytes"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, canonicalize.HashBytes([]byte("demo-pubkey-bytes")), a.PubkeyFingerprint)
}

func TestIdentity_InvalidInputs(t *testing.T) {
	_, err := New("  ", []byte("k"))
	assert.ErrorIs(t, err, ErrInvalidSubject)
	_, err = New("s", nil)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestProof_VerifiesAndDetectsTamper(t *testing.T) {
	id, err := New("ernesto_lopez", []byte("demo-pubkey-bytes"))
	require.NoError(t, err)
	msg := canonicalize.HashBytes([]byte("hello-world"))

	proof := id.Prove(msg)
	require.NoError(t, id.Verify(proof))
	assert.Equal(t, canonicalize.HashBytes([]byte(id.PubkeyFingerprint+":"+msg)), proof.ProofHash)

	tampered := proof
	tampered.ProofHash = "deadbeef"
	assert.ErrorIs(t, id.Verify(tampered), ErrProofVerification)

	otherMsg := proof
	otherMsg.MessageHash = canonicalize.HashBytes([]byte("other"))
	assert.ErrorIs(t, id.Verify(otherMsg), ErrProofVerification)

	otherSubject := proof
	otherSubject.SubjectID = "someone"
	assert.ErrorIs(t, id.Verify(otherSubject), ErrProofVerification)
}

func TestParsePrincipal(t *testing.T) {
	p, err := ParsePrincipal([]byte("id:acme-user-01;role:Operator"))
	require.NoError(t, err)
	assert.Equal(t, Principal{ID: "acme-user-01", Role: RoleOperator}, p)

	p, err = ParsePrincipal([]byte(" id: cartridge-x "))
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, p.Role)

	_, err = ParsePrincipal(nil)
	assert.ErrorIs(t, err, ErrEmptyBlob)
	_, err = ParsePrincipal([]byte{0xff, 0xfe})
	assert.ErrorIs(t, err, ErrInvalidUTF8)
	_, err = ParsePrincipal([]byte("role:Root"))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ParsePrincipal([]byte("id:x;role:King"))
	assert.ErrorIs(t, err, ErrMalformed)
}
