package middleware

import "context"

// Identity is the authenticated sync client behind a request.
type Identity struct {
	ClientID   string
	ClientName string
	Role       string
	TokenID    string
}

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the request identity; ok is false for
// unauthenticated requests.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func ClientIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.ClientID
}

func RoleFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

// TokenIDFromContext returns the jti of the token that authenticated the request.
func TokenIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.TokenID
}

// WithClient injects a client identity, used by tests and internal callers.
func WithClient(ctx context.Context, clientID, role string) context.Context {
	return WithIdentity(ctx, Identity{ClientID: clientID, Role: role})
}
