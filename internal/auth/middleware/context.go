package auth

import (
	"context"

	"github.com/frankdogbe328/signals-sub000/internal/exam"
	"github.com/frankdogbe328/signals-sub000/internal/rbac"
)

type ctxKey string

const ctxKeyIdentity ctxKey = "identity"

// WithIdentity stores the caller and its role for rbac.
func WithIdentity(ctx context.Context, id exam.Identity) context.Context {
	ctx = rbac.WithRole(ctx, string(id.Role))
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// IdentityFromContext returns the authenticated caller.
func IdentityFromContext(ctx context.Context) (exam.Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(exam.Identity)
	return id, ok
}

func SubjectFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.ID
}
