package auth

import (
	"context"
	"errors"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/identity"
)

// ErrNoPrincipal means the request did not pass through NewMiddleware.
var ErrNoPrincipal = errors.New("auth: no principal in context")

type principalKey struct{}

func WithPrincipal(ctx context.Context, p identity.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func GetPrincipal(ctx context.Context) (identity.Principal, error) {
	if p, ok := ctx.Value(principalKey{}).(identity.Principal); ok {
		return p, nil
	}
	return identity.Principal{}, ErrNoPrincipal
}

// Subject is the api.SubjectFunc for authenticated routes: the principal id
// becomes the mandate subject.
func Subject(ctx context.Context) (string, bool) {
	p, err := GetPrincipal(ctx)
	return p.ID, err == nil
}
