package auth

import (
	"context"

	"github.com/haasonsaas/conduit/pkg/models"
)

type identityContextKey struct{}

// WithIdentity attaches the caller identity to the context.
func WithIdentity(ctx context.Context, identity *models.Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the caller identity. ok is false for
// unauthenticated requests.
func IdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*models.Identity)
	return identity, ok && identity != nil
}
