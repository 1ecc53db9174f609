package identity

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Role is the coarse class of a principal.
type Role string

const (
	RoleRoot      Role = "Root"
	RoleOperator  Role = "Operator"
	RoleCartridge Role = "Cartridge"
	RoleGuest     Role = "Guest"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleRoot, RoleOperator, RoleCartridge, RoleGuest:
		return true
	}
	return false
}

var (
	ErrEmptyBlob   = errors.New("identity: empty identity blob")
	ErrInvalidUTF8 = errors.New("identity: identity blob is not utf-8")
	ErrMalformed   = errors.New("identity: malformed identity blob")
)

// Principal is the parsed form of an identity blob.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// ParsePrincipal accepts "id:<ID>;role:<Root|Operator|Cartridge|Guest>".
// Role defaults to Guest; an unknown role is malformed.
func ParsePrincipal(blob []byte) (Principal, error) {
	if len(blob) == 0 {
		return Principal{}, ErrEmptyBlob
	}
	if !utf8.Valid(blob) {
		return Principal{}, ErrInvalidUTF8
	}

	p := Principal{Role: RoleGuest}
	for _, part := range strings.Split(string(blob), ";") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "id:"):
			if v := strings.TrimSpace(strings.TrimPrefix(part, "id:")); v != "" {
				p.ID = v
			}
		case strings.HasPrefix(part, "role:"):
			r := Role(strings.TrimSpace(strings.TrimPrefix(part, "role:")))
			if !r.Valid() {
				return Principal{}, ErrMalformed
			}
			p.Role = r
		}
	}
	if p.ID == "" {
		return Principal{}, ErrMalformed
	}
	return p, nil
}
