package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/api"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/identity"
)

// Rejection reasons, surfaced as the 401 detail.
var (
	errNoHeader     = errors.New("missing Authorization header")
	errNotBearer    = errors.New("expected 'Authorization: Bearer <token>'")
	errUnconfigured = errors.New("authentication not configured")
	errBadToken     = errors.New("invalid or expired token")
	errNoSubject    = errors.New("token has no subject")
	errBadRole      = errors.New("token role is not recognised")
)

// NewMiddleware admits requests carrying a valid bearer token and stores the
// resulting principal in the request context. A nil validator rejects
// everything.
func NewMiddleware(validator *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authenticate(validator, r)
			if err != nil {
				api.WriteUnauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func authenticate(validator *Validator, r *http.Request) (identity.Principal, error) {
	token, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return identity.Principal{}, err
	}
	if validator == nil {
		return identity.Principal{}, errUnconfigured
	}

	claims, err := validator.Validate(token)
	if err != nil {
		slog.DebugContext(r.Context(), "auth: token rejected", "error", err, "request_id", GetRequestID(r.Context()))
		return identity.Principal{}, errBadToken
	}
	if claims.Subject == "" {
		return identity.Principal{}, errNoSubject
	}

	role := claims.Role
	if role == "" {
		role = identity.RoleGuest
	}
	if !role.Valid() {
		return identity.Principal{}, errBadRole
	}
	return identity.Principal{ID: claims.Subject, Role: role}, nil
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errNoHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || strings.TrimSpace(token) == "" {
		return "", errNotBearer
	}
	return token, nil
}
