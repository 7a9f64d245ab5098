// Package httpapi exposes the identity and admin directory over REST plus a
// server-sent event feed for directory changes.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"slotwise.org/internal/audit"
	"slotwise.org/internal/auth"
	"slotwise.org/internal/config"
	"slotwise.org/internal/obs"
	"slotwise.org/internal/stream"
)

// ReadyProbe reports whether downstream dependencies are reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the auth service and directory.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	dir        *auth.Directory
	stream     *stream.Stream
	readyProbe ReadyProbe
	version    string
	features   config.Features
}

// Option configures the API.
type Option func(*API)

// WithReadyProbe wires the readiness check.
func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.readyProbe = rp }
}

// WithVersion sets the version reported by /healthz and /v1/info.
func WithVersion(v string) Option {
	return func(a *API) {
		if v != "" {
			a.version = v
		}
	}
}

// WithStream attaches the SSE change feed.
func WithStream(s *stream.Stream) Option {
	return func(a *API) { a.stream = s }
}

// WithFeatures exposes feature flags through /v1/info.
func WithFeatures(f config.Features) Option {
	return func(a *API) { a.features = f }
}

// New wires all routes.
func New(authSvc *auth.Service, dir *auth.Directory, opts ...Option) *API {
	a := &API{
		mux:     http.NewServeMux(),
		auth:    authSvc,
		dir:     dir,
		version: "dev",
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/verify-email", a.handleVerifyEmail)
	a.mux.HandleFunc("/v1/auth/resend-verification", a.handleResendVerification)
	a.mux.HandleFunc("/v1/auth/password-reset/request", a.handlePasswordResetRequest)
	a.mux.HandleFunc("/v1/auth/password-reset/confirm", a.handlePasswordResetConfirm)
	a.mux.HandleFunc("/v1/auth/change-password", a.handleChangePassword)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)

	// admin directory
	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/v1/roles", a.handleRolesCollection)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)
	a.mux.HandleFunc("/v1/invitations", a.handleInvitationsCollection)
	a.mux.HandleFunc("/v1/invitations/", a.handleInvitationResource)

	// change feed
	a.mux.HandleFunc("/v1/events", a.Events)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "slotwise-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "slotwise-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"features": map[string]bool{
			"sso_google":    a.features.SSOGoogle,
			"sso_microsoft": a.features.SSOMicrosoft,
		},
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeFieldErrors reports validation problems keyed by input field so
// clients can render them inline.
func writeFieldErrors(w http.ResponseWriter, r *http.Request, fields map[string]string) {
	payload := map[string]any{
		"error":  "validation failed",
		"fields": fields,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusBadRequest, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps service errors onto HTTP codes.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusBadRequest, "token is invalid or expired")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
