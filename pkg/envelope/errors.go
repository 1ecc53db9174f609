package envelope

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the handshake failure classes.
type ErrorKind string

const (
	KindProtocolMismatch  ErrorKind = "ProtocolMismatch"
	KindChecksumMismatch  ErrorKind = "ChecksumMismatch"
	KindBadChecksumFormat ErrorKind = "BadChecksumFormat"
	KindBadJSON           ErrorKind = "BadJson"
)

var (
	ErrProtocolMismatch  = errors.New("protocol mismatch")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrBadChecksumFormat = errors.New("bad checksum format")
	ErrBadJSON           = errors.New("bad json")
)

// HandshakeError is the single error type returned by envelope verification
// and parsing. Match on Kind, or use errors.Is with the package sentinels.
type HandshakeError struct {
	Kind     ErrorKind `json:"kind"`
	Expected string    `json:"expected,omitempty"`
	Got      string    `json:"got,omitempty"`
	Err      error     `json:"-"`
}

func (e *HandshakeError) Error() string {
	switch e.Kind {
	case KindProtocolMismatch:
		return fmt.Sprintf("handshake: protocol mismatch: expected %q, got %q", e.Expected, e.Got)
	case KindBadJSON:
		if e.Err != nil {
			return fmt.Sprintf("handshake: bad json: %v", e.Err)
		}
		return "handshake: bad json"
	case KindBadChecksumFormat:
		if e.Got != "" {
			return fmt.Sprintf("handshake: bad checksum format: %s", e.Got)
		}
		return "handshake: bad checksum format"
	default:
		return "handshake: checksum mismatch"
	}
}

func (e *HandshakeError) Unwrap() error { return e.Err }

func (e *HandshakeError) Is(target error) bool {
	switch e.Kind {
	case KindProtocolMismatch:
		return target == ErrProtocolMismatch
	case KindChecksumMismatch:
		return target == ErrChecksumMismatch
	case KindBadChecksumFormat:
		return target == ErrBadChecksumFormat
	case KindBadJSON:
		return target == ErrBadJSON
	}
	return false
}

// Code returns a stable identifier for logs and problem details.
func (e *HandshakeError) Code() string {
	switch e.Kind {
	case KindProtocolMismatch:
		return "PILGRIM/HANDSHAKE/PROTOCOL_MISMATCH"
	case KindBadChecksumFormat:
		return "PILGRIM/HANDSHAKE/BAD_CHECKSUM_FORMAT"
	case KindBadJSON:
		return "PILGRIM/HANDSHAKE/BAD_JSON"
	default:
		return "PILGRIM/HANDSHAKE/CHECKSUM_MISMATCH"
	}
}

func badJSON(err error) *HandshakeError {
	return &HandshakeError{Kind: KindBadJSON, Err: err}
}
