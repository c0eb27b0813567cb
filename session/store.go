package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for ids that were never issued or were destroyed.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned, once, for a session found past its expiry; the
	// session is removed as part of the same operation.
	ErrExpired = errors.New("session expired")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("session store unavailable")
)

// Store persists sessions. Implementations must make Touch atomic: the
// expiry check, purge and lastActivity update happen as one step.
type Store interface {
	Save(ctx context.Context, s *Session) error
	// Touch validates sessionID at now. A live session gets LastActivity=now
	// and is returned; an expired one is deleted and ErrExpired returned.
	Touch(ctx context.Context, sessionID string, now time.Time) (*Session, error)
	// Get is a read-only lookup that still purges an expired session.
	Get(ctx context.Context, sessionID string, now time.Time) (*Session, error)
	// Delete is idempotent.
	Delete(ctx context.Context, sessionID string) error
	DeleteAllForUser(ctx context.Context, userID int64) (int, error)
	ListForUser(ctx context.Context, userID int64) ([]string, error)
}
