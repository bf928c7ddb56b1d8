package rbac

import (
	"context"
	"strings"
)

// Policy maps a role to the permissions it grants. A grant ending in "*"
// covers every permission with that prefix.
type Policy map[string][]string

// Allows reports whether role holds at least one of perms.
func (p Policy) Allows(role string, perms ...string) bool {
	for _, grant := range p[role] {
		for _, perm := range perms {
			if covers(grant, perm) {
				return true
			}
		}
	}
	return false
}

func covers(grant, perm string) bool {
	if prefix, ok := strings.CutSuffix(grant, "*"); ok {
		return strings.HasPrefix(perm, prefix)
	}
	return grant == perm
}

// Can reports whether the caller's role holds any of perms under
// RolePermissions.
func Can(ctx context.Context, perms ...string) bool {
	return RolePermissions.Allows(RoleFromContext(ctx), perms...)
}

type roleKey struct{}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey{}).(string)
	return role
}
