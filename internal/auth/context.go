package auth

import "context"

type identityKey struct{}

// Identity is the authenticated caller as seen by handlers downstream of the
// middleware.
type Identity struct {
	Role    Role
	Subject string
}

// WithIdentity stores the caller identity in the context.
func WithIdentity(ctx context.Context, role Role, subject string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{Role: role, Subject: subject})
}

// IdentityFromContext returns the caller identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// RoleFromContext returns the caller role, or the empty role when the
// request never passed the middleware.
func RoleFromContext(ctx context.Context) Role {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

// SubjectFromContext returns the token subject, if any.
func SubjectFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Subject
}
