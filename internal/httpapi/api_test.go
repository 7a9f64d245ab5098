package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"slotwise.org/internal/auth"
)

const testPassword = "Sup3r-secret!"

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	store  *auth.InMemory
	dir    *auth.Directory
	mailer *recordingMailer
}

// recordingMailer captures outbound mail so tests can fish tokens out of it.
type recordingMailer struct {
	mu    sync.Mutex
	sends []recordedMail
}

type recordedMail struct {
	To       string
	Template string
	Vars     map[string]string
}

func (m *recordingMailer) Send(_ context.Context, to, template string, vars map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, recordedMail{To: to, Template: template, Vars: vars})
	return nil
}

func (m *recordingMailer) last() (recordedMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sends) == 0 {
		return recordedMail{}, false
	}
	return m.sends[len(m.sends)-1], true
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := auth.NewInMemory()
	mailer := &recordingMailer{}

	signer, err := auth.NewTokenSigner("test-secret", "slotwise-test", 15*time.Minute)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	svc, err := auth.NewService(store, store, signer, auth.WithMailer(mailer))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	dir, err := auth.NewDirectory(store, auth.WithDirectoryMailer(mailer))
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("ensure builtins: %v", err)
	}

	api := New(svc, dir)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
		dir:     dir,
		mailer:  mailer,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

// seedAdmin creates an active user holding every builtin permission and
// returns an Authorization header for it.
func (c *apiClient) seedAdmin(email string) map[string]string {
	c.t.Helper()
	ctx := context.Background()

	role, err := c.dir.CreateRole(ctx, auth.NewRole{Name: "Administrator", Codename: "administrator"})
	if err != nil {
		c.t.Fatalf("create admin role: %v", err)
	}
	all := make([]string, 0, len(auth.BuiltinPermissions))
	for _, p := range auth.BuiltinPermissions {
		all = append(all, p.Codename)
	}
	if _, err := c.dir.SetRolePermissions(ctx, role.ID, all); err != nil {
		c.t.Fatalf("grant permissions: %v", err)
	}
	if _, err := c.dir.CreateUser(ctx, auth.CreateUserInput{
		Email:         email,
		Password:      testPassword,
		AccountStatus: auth.StatusActive,
		RoleIDs:       []string{role.ID},
	}); err != nil {
		c.t.Fatalf("create admin user: %v", err)
	}
	return c.obtainSession(email, testPassword)
}

// obtainSession logs in and returns an Authorization header.
func (c *apiClient) obtainSession(email, password string) map[string]string {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	session := decode[map[string]any](c.t, resp)
	token, _ := session["access_token"].(string)
	if token == "" {
		c.t.Fatalf("empty access token issued")
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestRegisterVerifyLoginFlow(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/register", map[string]any{
		"email":      "nora@example.com",
		"password":   testPassword,
		"first_name": "Nora",
		"last_name":  "Ives",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected register status: %d", resp.StatusCode)
	}
	user := decode[map[string]any](t, resp)
	if user["account_status"] != auth.StatusPending {
		t.Fatalf("expected pending account, got %v", user["account_status"])
	}

	// Login is refused until the email is verified.
	resp = api.post("/v1/auth/login", map[string]any{
		"email":    "nora@example.com",
		"password": testPassword,
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before verification, got %d", resp.StatusCode)
	}

	mail, ok := api.mailer.last()
	if !ok || mail.Template != "verify_email" {
		t.Fatalf("expected verification mail, got %+v", mail)
	}
	resp = api.post("/v1/auth/verify-email", map[string]any{"token": mail.Vars["token"]}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected verify status: %d", resp.StatusCode)
	}

	header := api.obtainSession("nora@example.com", testPassword)

	resp = api.get("/v1/auth/me", nil, header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected me status: %d", resp.StatusCode)
	}
	me := decode[map[string]any](t, resp)
	u, _ := me["user"].(map[string]any)
	if u["email"] != "nora@example.com" {
		t.Fatalf("unexpected identity: %v", me["user"])
	}
	if _, ok := me["permissions"]; !ok {
		t.Fatalf("expected permissions list in response")
	}
}

func TestRefreshRotation(t *testing.T) {
	api := newTestAPI(t)
	api.seedAdmin("root@example.com")

	resp := api.post("/v1/auth/login", map[string]any{
		"email":    "root@example.com",
		"password": testPassword,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	session := decode[map[string]any](t, resp)
	refresh, _ := session["refresh_token"].(string)
	if refresh == "" {
		t.Fatalf("no refresh token issued")
	}

	resp = api.post("/v1/auth/refresh", map[string]any{"refresh_token": refresh}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected refresh status: %d", resp.StatusCode)
	}
	rotated := decode[map[string]any](t, resp)
	if rotated["refresh_token"] == refresh {
		t.Fatalf("refresh token was not rotated")
	}

	// The spent token must be rejected and the replay kills the chain.
	resp = api.post("/v1/auth/refresh", map[string]any{"refresh_token": refresh}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for reused refresh token, got %d", resp.StatusCode)
	}
	resp = api.post("/v1/auth/refresh", map[string]any{"refresh_token": rotated["refresh_token"]}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected rotated token to be revoked after replay, got %d", resp.StatusCode)
	}
}

func TestRegisterValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/register", map[string]any{
		"email":    "not-an-email",
		"password": "weak",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	fields, _ := body["fields"].(map[string]any)
	if fields["email"] == nil || fields["password"] == nil {
		t.Fatalf("expected field errors for email and password, got %v", body)
	}
}

func TestPasswordResetInvalidToken(t *testing.T) {
	api := newTestAPI(t)

	// Requests never reveal whether the address exists.
	resp := api.post("/v1/auth/password-reset/request", map[string]any{
		"email": "nobody@example.com",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/password-reset/confirm", map[string]any{
		"token":        "garbage.token",
		"new_password": "An0ther-secret!",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["error"] != "token is invalid or expired" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/users", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodDelete, "/v1/auth/login", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("unexpected Allow header: %q", resp.Header.Get("Allow"))
	}
}

func TestHealthAndInfo(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected healthz status: %d", resp.StatusCode)
	}
	health := decode[map[string]any](t, resp)
	if health["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", health)
	}

	resp = api.get("/v1/info", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected info status: %d", resp.StatusCode)
	}
	info := decode[map[string]any](t, resp)
	if info["name"] != "slotwise-api" {
		t.Fatalf("unexpected info body: %v", info)
	}
	if _, ok := info["features"].(map[string]any); !ok {
		t.Fatalf("expected feature flags in info body")
	}
}
