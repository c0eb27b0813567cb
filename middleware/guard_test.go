package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authlab"
	"github.com/MrEthical07/authlab/credential"
)

type fakeValidator struct {
	sessions map[string]*authlab.AuthResult
	tokens   map[string]*authlab.AuthResult
	expired  map[string]bool
}

func (f *fakeValidator) ValidateSession(_ context.Context, id string) (*authlab.AuthResult, error) {
	if f.expired[id] {
		return nil, authlab.ErrSessionExpired
	}
	if res, ok := f.sessions[id]; ok {
		return res, nil
	}
	return nil, authlab.ErrSessionNotFound
}

func (f *fakeValidator) ValidateAccess(_ context.Context, tok string) (*authlab.AuthResult, error) {
	if res, ok := f.tokens[tok]; ok {
		return res, nil
	}
	return nil, authlab.ErrTokenInvalid
}

func newFakeValidator() *fakeValidator {
	return &fakeValidator{
		sessions: map[string]*authlab.AuthResult{
			"sid-admin": {UserID: 1, Role: credential.RoleAdmin, SessionID: "sid-admin"},
		},
		tokens: map[string]*authlab.AuthResult{
			"tok-user": {UserID: 2, Role: credential.RoleUser, TokenID: "j1"},
		},
		expired: map[string]bool{"sid-old": true},
	}
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := AuthResultFromContext(r.Context())
		if !ok {
			http.Error(w, "missing result", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(string(res.Role)))
	})
}

func serve(h http.Handler, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func withCookie(v string) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: v})
	}
}

func withBearer(v string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+v)
	}
}

func TestRequireSession(t *testing.T) {
	h := RequireSession(newFakeValidator())(echoUser())

	if rec := serve(h, withCookie("sid-admin")); rec.Code != http.StatusOK || rec.Body.String() != "admin" {
		t.Fatalf("expected admin, got %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(h, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cookie, got %d", rec.Code)
	}
	if rec := serve(h, withBearer("tok-user")); rec.Code != http.StatusUnauthorized {
		t.Fatalf("session guard must ignore bearer tokens, got %d", rec.Code)
	}
}

func TestRequireSessionExpiredClearsCookie(t *testing.T) {
	h := RequireSession(newFakeValidator())(echoUser())
	rec := serve(h, withCookie("sid-old"))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), authlab.ErrLoginRequired.Error()) {
		t.Fatalf("expected login required message, got %q", rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Fatalf("expected cookie cleared, got %q", rec.Header().Get("Set-Cookie"))
	}
}

func TestRequireBearer(t *testing.T) {
	h := RequireBearer(newFakeValidator())(echoUser())

	if rec := serve(h, withBearer("tok-user")); rec.Code != http.StatusOK || rec.Body.String() != "user" {
		t.Fatalf("expected user, got %d %q", rec.Code, rec.Body.String())
	}
	rec := serve(h, nil)
	if rec.Code != http.StatusUnauthorized || rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected 401 with challenge, got %d %q", rec.Code, rec.Header().Get("WWW-Authenticate"))
	}
	if rec := serve(h, withBearer("forged")); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
}

func TestGuardAcceptsEither(t *testing.T) {
	h := Guard(newFakeValidator())(echoUser())

	if rec := serve(h, withCookie("sid-admin")); rec.Code != http.StatusOK {
		t.Fatalf("expected cookie accepted, got %d", rec.Code)
	}
	if rec := serve(h, withBearer("tok-user")); rec.Code != http.StatusOK {
		t.Fatalf("expected bearer accepted, got %d", rec.Code)
	}
	both := func(r *http.Request) {
		withCookie("sid-missing")(r)
		withBearer("tok-user")(r)
	}
	if rec := serve(h, both); rec.Code != http.StatusOK || rec.Body.String() != "user" {
		t.Fatalf("expected bearer fallback, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRequireRole(t *testing.T) {
	v := newFakeValidator()
	h := Guard(v)(RequireRole(credential.RoleAdmin)(echoUser()))

	if rec := serve(h, withCookie("sid-admin")); rec.Code != http.StatusOK {
		t.Fatalf("expected admin admitted, got %d", rec.Code)
	}
	if rec := serve(h, withBearer("tok-user")); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user, got %d", rec.Code)
	}
}

func TestSetSessionCookieAttributes(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSessionCookie(rec, "abc")

	got := rec.Header().Get("Set-Cookie")
	for _, want := range []string{"authlab_session=abc", "Path=/", "Max-Age=86400", "HttpOnly", "Secure", "SameSite=Strict"} {
		if !strings.Contains(got, want) {
			t.Fatalf("cookie %q missing %q", got, want)
		}
	}
}

func TestNilValidator(t *testing.T) {
	h := Guard(nil)(echoUser())
	if rec := serve(h, withBearer("tok-user")); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
