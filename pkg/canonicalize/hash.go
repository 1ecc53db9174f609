package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Genesis seeds every hash chain (trace folds, ledger records).
const Genesis = "GENESIS"

// Algo is the only hash algorithm tag PILGRIM emits.
const Algo = "sha256"

// CodeEncodingFailed is the stable error code for EncodingError.
const CodeEncodingFailed = "PILGRIM/CORE/ENCODING_FAILED"

// ErrEncodingFailed matches any *EncodingError via errors.Is.
var ErrEncodingFailed = errors.New("encoding failed")

// EncodingError reports a value that has no canonical form.
type EncodingError struct {
	Op  string
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("canonicalize: %s: %v", e.Op, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrEncodingFailed) hold for every EncodingError.
func (e *EncodingError) Is(target error) bool { return target == ErrEncodingFailed }

// Code returns CodeEncodingFailed.
func (e *EncodingError) Code() string { return CodeEncodingFailed }

// HashBytes returns the lowercase hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hash returns HashBytes(Encode(v)).
func Hash(v any) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// Fold extends a hash chain: hash(prevHex bytes || Encode(event)).
func Fold(prevHex string, event any) (string, error) {
	b, err := Encode(event)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 0, len(prevHex)+len(b))
	buf = append(buf, prevHex...)
	buf = append(buf, b...)
	return HashBytes(buf), nil
}

// ValidHex reports whether s is a 64-character lowercase hex SHA-256 digest.
func ValidHex(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
