// Package auth authenticates bridge callers. A bearer JWT's subject becomes
// the mandate subject a run executes as.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/identity"
)

// MinSecretBytes is the shortest HS256 secret the validator accepts.
const MinSecretBytes = 32

// ErrWeakSecret is returned for secrets shorter than MinSecretBytes.
var ErrWeakSecret = errors.New("auth: HS256 secret is too short")

// Claims are the JWT claims the bridge reads.
type Claims struct {
	jwt.RegisteredClaims
	Role identity.Role `json:"role,omitempty"`
}

// Validator checks HS256 tokens.
type Validator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewHS256Validator returns a validator for tokens signed with secret. A
// non-empty issuer is enforced on every token.
func NewHS256Validator(secret []byte, issuer string) (*Validator, error) {
	if len(secret) < MinSecretBytes {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrWeakSecret, len(secret), MinSecretBytes)
	}
	return &Validator{secret: secret, issuer: issuer, now: time.Now}, nil
}

func (v *Validator) keyFunc(*jwt.Token) (any, error) {
	return v.secret, nil
}

// Validate parses and validates a token string. Expiry is mandatory.
func (v *Validator) Validate(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.keyFunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Issue signs a token for subject valid for ttl.
func (v *Validator) Issue(subject string, role identity.Role, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
