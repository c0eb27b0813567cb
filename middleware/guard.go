package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/authlab"
	"github.com/MrEthical07/authlab/credential"
)

// Validator resolves credentials to an authenticated user. *authlab.Engine
// implements it.
type Validator interface {
	ValidateSession(ctx context.Context, sessionID string) (*authlab.AuthResult, error)
	ValidateAccess(ctx context.Context, accessToken string) (*authlab.AuthResult, error)
}

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by a guard.
func AuthResultFromContext(ctx context.Context) (*authlab.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authlab.AuthResult)
	return res, ok
}

// WithAuthResult stores res for downstream handlers.
func WithAuthResult(ctx context.Context, res *authlab.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// RequireSession admits requests carrying a live session cookie.
func RequireSession(v Validator) func(http.Handler) http.Handler {
	return guard(v, true, false)
}

// RequireBearer admits requests carrying a valid access token.
func RequireBearer(v Validator) func(http.Handler) http.Handler {
	return guard(v, false, true)
}

// Guard admits either credential. The session cookie is checked first.
func Guard(v Validator) func(http.Handler) http.Handler {
	return guard(v, true, true)
}

func guard(v Validator, cookie, bearer bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				Unauthorized(w, authlab.ErrEngineNotReady)
				return
			}

			var (
				res *authlab.AuthResult
				err = authlab.ErrLoginRequired
			)
			if cookie {
				if sid, ok := SessionID(r); ok {
					res, err = v.ValidateSession(r.Context(), sid)
				}
			}
			if res == nil && bearer {
				if tok, ok := bearerToken(r.Header.Get("Authorization")); ok {
					res, err = v.ValidateAccess(r.Context(), tok)
				} else if !cookie {
					w.Header().Set("WWW-Authenticate", `Bearer realm="authlab"`)
				}
			}
			if res == nil {
				if errors.Is(err, authlab.ErrSessionExpired) || errors.Is(err, authlab.ErrSessionNotFound) {
					ClearSessionCookie(w)
				}
				Unauthorized(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthResult(r.Context(), res)))
		})
	}
}

// RequireRole rejects authenticated users without role. It must run after a
// guard.
func RequireRole(role credential.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok {
				Unauthorized(w, authlab.ErrLoginRequired)
				return
			}
			if res.Role != role {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Unauthorized writes a 401 carrying the public form of err.
func Unauthorized(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": authlab.Public(err).Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
