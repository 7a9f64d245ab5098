package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"slotwise.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Endpoints reachable without a bearer token. Everything else under /v1
// requires authentication.
var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/register",
	"/v1/auth/refresh",
	"/v1/auth/verify-email",
	"/v1/auth/resend-verification",
	"/v1/auth/password-reset/request",
	"/v1/auth/password-reset/confirm",
	"/v1/invitations/accept",
	"/v1/invitations/decline",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.auth.AuthenticateToken(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var errForbidden = errors.New("permission denied")

// requirePermission distinguishes a missing principal (401) from a
// principal that lacks the permission (403).
func requirePermission(ctx context.Context, perm string) error {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return auth.ErrUnauthorized
	}
	if !principal.HasPermission(perm) {
		return errForbidden
	}
	return nil
}

// ensurePermission writes the failure response and reports whether the
// caller may proceed.
func ensurePermission(w http.ResponseWriter, r *http.Request, perm string) bool {
	switch err := requirePermission(r.Context(), perm); {
	case err == nil:
		return true
	case errors.Is(err, errForbidden):
		writeError(w, r, http.StatusForbidden, "access_denied")
		return false
	default:
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return false
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
