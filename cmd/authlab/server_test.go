package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/MrEthical07/authlab"
	"github.com/MrEthical07/authlab/middleware"
	"github.com/MrEthical07/authlab/oauthclient"
	"go.uber.org/zap"
)

type testServer struct {
	*httptest.Server
	engine *authlab.Engine
	http   *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	var h http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := authlab.DefaultConfig()
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.BcryptCost = 4
	cfg.TOTP.BackupCodeCost = 4
	cfg.Audit.Enabled = false
	cfg.OAuth.RedirectURI = srv.URL + "/oauth/callback"

	engine, err := authlab.New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	client, err := oauthclient.New(oauthclient.Config{
		BaseURL:      srv.URL + "/oauth",
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURI,
		Scopes:       strings.Fields(cfg.OAuth.Scope),
		HTTPClient:   srv.Client(),
	})
	if err != nil {
		t.Fatalf("oauth client: %v", err)
	}
	h = newServer(engine, client, zap.NewNop()).routes()

	noRedirect := srv.Client()
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &testServer{Server: srv, engine: engine, http: noRedirect}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, mutate func(*http.Request)) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	target := path
	if strings.HasPrefix(path, "/") {
		target = s.URL + path
	}
	req, err := http.NewRequest(method, target, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	t.Fatal("expected session cookie")
	return nil
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}

func withBearer(tok string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+tok)
	}
}

func TestSessionLoginOverHTTP(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/login", loginBody{Identifier: "admin", Password: "admin123"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	cookie := sessionCookie(t, resp)
	if !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteStrictMode || cookie.MaxAge != 86400 {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}

	me := s.do(t, http.MethodGet, "/api/me", nil, withCookie(cookie))
	if me.StatusCode != http.StatusOK {
		t.Fatalf("expected /me 200, got %d", me.StatusCode)
	}
	var who map[string]interface{}
	decodeInto(t, me, &who)
	if who["role"] != "admin" {
		t.Fatalf("expected admin, got %v", who)
	}
	if resp := s.do(t, http.MethodGet, "/api/admin", nil, withCookie(cookie)); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected admin route 200, got %d", resp.StatusCode)
	}

	if resp := s.do(t, http.MethodPost, "/api/logout", nil, withCookie(cookie)); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected logout 204, got %d", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodGet, "/api/me", nil, withCookie(cookie)); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestBadLoginOverHTTP(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/login", loginBody{Identifier: "admin", Password: "nope"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeInto(t, resp, &body)
	if body["error"] != authlab.ErrInvalidCredentials.Error() {
		t.Fatalf("unexpected error body: %v", body)
	}

	bad := s.do(t, http.MethodPost, "/api/login", nil, func(r *http.Request) {
		r.Body = http.NoBody
	})
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", bad.StatusCode)
	}
}

func TestTokenFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/login", loginBody{Identifier: "user", Password: "user123", Flow: authlab.FlowToken}, nil)
	var login loginResponse
	decodeInto(t, resp, &login)
	if login.Tokens == nil || login.Tokens.TokenType != "Bearer" {
		t.Fatalf("expected tokens, got %+v", login)
	}

	if resp := s.do(t, http.MethodGet, "/api/me", nil, withBearer(login.Tokens.AccessToken)); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected /me 200, got %d", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodGet, "/api/admin", nil, withBearer(login.Tokens.AccessToken)); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for user role, got %d", resp.StatusCode)
	}

	refreshed := s.do(t, http.MethodPost, "/api/refresh", map[string]string{"refresh_token": login.Tokens.RefreshToken}, nil)
	if refreshed.StatusCode != http.StatusOK {
		t.Fatalf("expected refresh 200, got %d", refreshed.StatusCode)
	}
	reuse := s.do(t, http.MethodPost, "/api/refresh", map[string]string{"refresh_token": login.Tokens.RefreshToken}, nil)
	if reuse.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected reuse 401, got %d", reuse.StatusCode)
	}
	var body map[string]string
	decodeInto(t, reuse, &body)
	if body["error"] != authlab.ErrTokenRevoked.Error() {
		t.Fatalf("expected revoked message, got %v", body)
	}
}

func TestMFAOverHTTP(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/login", loginBody{Identifier: "user", Password: "user123"}, nil)
	cookie := sessionCookie(t, resp)

	setupResp := s.do(t, http.MethodPost, "/api/mfa/setup", nil, withCookie(cookie))
	if setupResp.StatusCode != http.StatusOK {
		t.Fatalf("expected setup 200, got %d", setupResp.StatusCode)
	}
	var setup struct {
		Secret      string   `json:"secret"`
		BackupCodes []string `json:"backupCodes"`
	}
	decodeInto(t, setupResp, &setup)
	if setup.Secret == "" || len(setup.BackupCodes) != 10 {
		t.Fatalf("unexpected setup: %+v", setup)
	}

	verify := s.do(t, http.MethodPost, "/api/mfa/verify", map[string]interface{}{"code": setup.BackupCodes[0], "backup": true}, withCookie(cookie))
	if verify.StatusCode != http.StatusOK {
		t.Fatalf("expected verify 200, got %d", verify.StatusCode)
	}

	login := s.do(t, http.MethodPost, "/api/login", loginBody{Identifier: "user", Password: "user123"}, nil)
	var pending loginResponse
	decodeInto(t, login, &pending)
	if !pending.MFARequired || pending.MFAChallenge == "" {
		t.Fatalf("expected mfa challenge, got %+v", pending)
	}
	for _, c := range login.Cookies() {
		if c.Name == middleware.SessionCookieName {
			t.Fatal("no session cookie may be set before the second factor")
		}
	}

	done := s.do(t, http.MethodPost, "/api/login/mfa", map[string]interface{}{
		"challenge": pending.MFAChallenge,
		"code":      setup.BackupCodes[1],
		"backup":    true,
	}, nil)
	if done.StatusCode != http.StatusOK {
		t.Fatalf("expected mfa login 200, got %d", done.StatusCode)
	}
	sessionCookie(t, done)

	again := s.do(t, http.MethodPost, "/api/mfa/setup", nil, withCookie(cookie))
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 once enabled, got %d", again.StatusCode)
	}
}

func TestOAuthBrowserFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	login := s.do(t, http.MethodPost, "/api/login", loginBody{Identifier: "admin", Password: "admin123"}, nil)
	cookie := sessionCookie(t, login)

	start := s.do(t, http.MethodGet, "/oauth/start", nil, nil)
	if start.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect to authorize, got %d", start.StatusCode)
	}
	authz := s.do(t, http.MethodGet, start.Header.Get("Location"), nil, withCookie(cookie))
	if authz.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect to callback, got %d", authz.StatusCode)
	}
	loc, err := url.Parse(authz.Header.Get("Location"))
	if err != nil || loc.Query().Get("code") == "" {
		t.Fatalf("expected code in callback url, got %q", authz.Header.Get("Location"))
	}

	cb := s.do(t, http.MethodGet, loc.String(), nil, nil)
	if cb.StatusCode != http.StatusOK {
		t.Fatalf("expected callback 200, got %d", cb.StatusCode)
	}
	var out struct {
		Profile struct {
			Subject string `json:"sub"`
			Email   string `json:"email"`
		} `json:"profile"`
	}
	decodeInto(t, cb, &out)
	if out.Profile.Subject != "1" || out.Profile.Email != "admin@authlab.local" {
		t.Fatalf("unexpected profile: %+v", out.Profile)
	}

	replay := s.do(t, http.MethodGet, loc.String(), nil, nil)
	if replay.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected replayed callback rejected, got %d", replay.StatusCode)
	}
}

func TestOAuthLoginRequiresCaller(t *testing.T) {
	s := newTestServer(t)

	anon := s.do(t, http.MethodPost, "/api/oauth/login", map[string]interface{}{"provider_user_id": 1}, nil)
	if anon.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous oauth login, got %d", anon.StatusCode)
	}

	resp := s.do(t, http.MethodPost, "/api/login", loginBody{Identifier: "user", Password: "user123", Flow: authlab.FlowToken}, nil)
	var login loginResponse
	decodeInto(t, resp, &login)

	got := s.do(t, http.MethodPost, "/api/oauth/login", map[string]interface{}{"provider_user_id": 1}, withBearer(login.Tokens.AccessToken))
	if got.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", got.StatusCode)
	}
	var out struct {
		UserID int64              `json:"user_id"`
		Tokens *authlab.TokenPair `json:"tokens"`
	}
	decodeInto(t, got, &out)
	if out.UserID != 2 || out.Tokens == nil {
		t.Fatalf("expected tokens for the caller only, got %+v", out)
	}
	if resp := s.do(t, http.MethodGet, "/api/admin", nil, withBearer(out.Tokens.AccessToken)); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on admin route, got %d", resp.StatusCode)
	}
}

func TestAuthorizeRequiresLabSession(t *testing.T) {
	s := newTestServer(t)

	start := s.do(t, http.MethodGet, "/oauth/start", nil, nil)
	authz := s.do(t, http.MethodGet, start.Header.Get("Location"), nil, nil)
	if authz.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a lab session, got %d", authz.StatusCode)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	s := newTestServer(t)

	if resp := s.do(t, http.MethodGet, "/healthz", nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected health 200, got %d", resp.StatusCode)
	}
	s.do(t, http.MethodPost, "/api/login", loginBody{Identifier: "admin", Password: "admin123"}, nil)

	resp := s.do(t, http.MethodGet, "/metrics", nil, nil)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "authlab_login_success_total 1") {
		t.Fatalf("expected login counter, got:\n%s", buf.String())
	}
}
