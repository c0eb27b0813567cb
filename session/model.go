package session

import "time"

// Session is a server-side login binding an opaque id to a user.
type Session struct {
	SessionID    string
	UserID       int64
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
}

// Expired reports whether now is strictly after ExpiresAt.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func (s *Session) clone() *Session {
	c := *s
	return &c
}
