package middleware

import (
	"net/http"
	"time"
)

// SessionCookieName is the cookie carrying the session id.
const SessionCookieName = "authlab_session"

// SessionCookieMaxAge matches the absolute session lifetime.
const SessionCookieMaxAge = 24 * time.Hour

// SetSessionCookie writes the session id as an HttpOnly, Secure,
// SameSite=Strict cookie scoped to the whole site.
func SetSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(SessionCookieMaxAge / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie expires the session cookie in the browser.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// SessionID reads the session cookie.
func SessionID(r *http.Request) (string, bool) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
