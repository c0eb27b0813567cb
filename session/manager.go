package session

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authlab/internal"
)

// DefaultLifetime is the absolute session lifetime.
const DefaultLifetime = 24 * time.Hour

// Manager issues and validates sessions over a Store.
type Manager struct {
	store    Store
	lifetime time.Duration
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLifetime overrides DefaultLifetime.
func WithLifetime(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lifetime = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager returns a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		lifetime: DefaultLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lifetime returns the configured absolute lifetime.
func (m *Manager) Lifetime() time.Duration {
	return m.lifetime
}

// Create starts a session for userID under a fresh 256-bit id.
func (m *Manager) Create(ctx context.Context, userID int64) (*Session, error) {
	if userID <= 0 {
		return nil, errors.New("session: invalid user id")
	}
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	s := &Session{
		SessionID:    sid.String(),
		UserID:       userID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.lifetime),
		LastActivity: now,
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate resolves sessionID and records activity. It returns ErrNotFound
// for unknown or malformed ids and ErrExpired for a session past its expiry,
// which is purged.
func (m *Manager) Validate(ctx context.Context, sessionID string) (*Session, error) {
	if _, err := internal.ParseSessionID(sessionID); err != nil {
		return nil, ErrNotFound
	}
	return m.store.Touch(ctx, sessionID, m.now().UTC())
}

// Touch updates lastActivity without returning the session.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	_, err := m.Validate(ctx, sessionID)
	return err
}

// Peek looks a session up without recording activity.
func (m *Manager) Peek(ctx context.Context, sessionID string) (*Session, error) {
	if _, err := internal.ParseSessionID(sessionID); err != nil {
		return nil, ErrNotFound
	}
	return m.store.Get(ctx, sessionID, m.now().UTC())
}

// Destroy removes sessionID. Unknown ids are not an error.
func (m *Manager) Destroy(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return m.store.Delete(ctx, sessionID)
}

// Regenerate issues a new session for userID and destroys priorID, if any.
// The returned id never equals priorID.
func (m *Manager) Regenerate(ctx context.Context, priorID string, userID int64) (*Session, error) {
	var (
		s   *Session
		err error
	)
	for {
		s, err = m.Create(ctx, userID)
		if err != nil {
			return nil, err
		}
		if s.SessionID != priorID {
			break
		}
	}
	if priorID != "" {
		if err := m.store.Delete(ctx, priorID); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// DestroyAllForUser ends every session of userID.
func (m *Manager) DestroyAllForUser(ctx context.Context, userID int64) (int, error) {
	return m.store.DeleteAllForUser(ctx, userID)
}

// ListForUser returns the ids of userID's sessions.
func (m *Manager) ListForUser(ctx context.Context, userID int64) ([]string, error) {
	return m.store.ListForUser(ctx, userID)
}
