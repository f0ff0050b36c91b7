package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/auth"
)

type contextKey string

// ContextKeyIdentity holds the auth.Identity stored by Auth.
const ContextKeyIdentity contextKey = "identity"

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, id)
}

func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(ContextKeyIdentity).(auth.Identity)
	return id, ok
}

// UserIDFromContext returns the caller's user. Role keys carry none.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok || !id.IsUser() {
		return uuid.Nil, false
	}
	return id.UserID, true
}

func RoleFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return "", false
	}
	return id.Role, true
}
