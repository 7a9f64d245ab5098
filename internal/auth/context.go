package auth

import "context"

// principalKey is unexported so other packages cannot collide with it.
type principalKey struct{}

// ContextWithPrincipal returns a context carrying the authenticated
// principal for the rest of the request.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, &principal)
}

// PrincipalFromContext reads the principal stored by the authentication
// middleware. The second return is false on unauthenticated requests.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(*Principal)
	if !ok || p == nil {
		return Principal{}, false
	}
	return *p, true
}
