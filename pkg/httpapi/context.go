// Package httpapi wires the spec §6 HTTP surface: JWT authentication,
// request-id/CORS/rate-limit middleware, and handlers that translate
// requests into calls against the catalog, importer, payments, wallet,
// and access packages.
package httpapi

import (
	"context"
	"errors"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID     string
	SuperAdmin bool
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return Principal{}, errors.New("no principal in context")
	}
	return p, nil
}
