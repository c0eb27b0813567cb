package token

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authlab/jwt"
)

var (
	// ErrRecordNotFound is returned when no record exists for a jti.
	ErrRecordNotFound = errors.New("token record not found")
	// ErrAlreadyRevoked is returned by Rotate when the predecessor is revoked.
	ErrAlreadyRevoked = errors.New("token record already revoked")
	// ErrBackend wraps store failures.
	ErrBackend = errors.New("token store unavailable")
)

// Record is the revocation bookkeeping for one issued token. Records are
// marked revoked, never removed, while the token could still verify.
type Record struct {
	ID        string
	TokenHash string
	UserID    int64
	Type      jwt.TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Revoked reports whether RevokedAt is set.
func (r Record) Revoked() bool {
	return r.RevokedAt != nil
}

// RecordStore persists token records.
type RecordStore interface {
	Put(ctx context.Context, records ...Record) error
	Get(ctx context.Context, id string) (Record, error)
	// Rotate atomically revokes oldID at now and inserts next. It fails with
	// ErrAlreadyRevoked, leaving the store unchanged, if oldID is revoked.
	Rotate(ctx context.Context, oldID string, now time.Time, next ...Record) error
	// Revoke marks id revoked and reports whether this call changed it.
	Revoke(ctx context.Context, id string, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID int64, now time.Time) (int, error)
}
