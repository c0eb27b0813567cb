package oauth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	errCodeNotFound     = errors.New("authorization code not found")
	errCodeExpired      = errors.New("authorization code expired")
	errCodeConsumed     = errors.New("authorization code consumed")
	errClientMismatch   = errors.New("authorization code client mismatch")
	errRedirectMismatch = errors.New("authorization code redirect mismatch")
	// ErrBackend wraps store failures.
	ErrBackend = errors.New("oauth store unavailable")
)

// AuthorizationCode is a single-use grant bound to one client, redirect
// URI, scope and user. Stores key it by the hash of Code.
type AuthorizationCode struct {
	Hash        string
	ClientID    string
	RedirectURI string
	Scope       string
	UserID      int64
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Consumed    bool
}

// CodeStore persists authorization codes.
type CodeStore interface {
	Save(ctx context.Context, c AuthorizationCode) error
	// Consume checks, in order, that the code exists, is unexpired, is
	// unconsumed, belongs to clientID and, when redirectURI is not empty,
	// was issued for it. Only when every check passes is the code marked
	// consumed; the check and the mark are one atomic step.
	Consume(ctx context.Context, hash, clientID, redirectURI string, now time.Time) (AuthorizationCode, error)
}

// MemoryCodeStore is a mutex-guarded CodeStore.
type MemoryCodeStore struct {
	mu    sync.Mutex
	codes map[string]AuthorizationCode
}

// NewMemoryCodeStore returns an empty store.
func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{codes: make(map[string]AuthorizationCode)}
}

// Save stores c under its hash.
func (m *MemoryCodeStore) Save(_ context.Context, c AuthorizationCode) error {
	m.mu.Lock()
	m.codes[c.Hash] = c
	m.mu.Unlock()
	return nil
}

// Consume implements CodeStore.
func (m *MemoryCodeStore) Consume(_ context.Context, hash, clientID, redirectURI string, now time.Time) (AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.codes[hash]
	switch {
	case !ok:
		return AuthorizationCode{}, errCodeNotFound
	case now.After(c.ExpiresAt):
		return c, errCodeExpired
	case c.Consumed:
		return c, errCodeConsumed
	case c.ClientID != clientID:
		return c, errClientMismatch
	case redirectURI != "" && c.RedirectURI != redirectURI:
		return c, errRedirectMismatch
	}
	c.Consumed = true
	m.codes[hash] = c
	return c, nil
}
