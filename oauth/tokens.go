package oauth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errTokenNotFound = errors.New("provider token not found")

// TokenKind separates provider access tokens from refresh tokens.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// IssuedToken is an opaque provider token, stored by the hash of its value.
// CodeHash links it to the authorization code that produced it.
type IssuedToken struct {
	Hash      string
	Kind      TokenKind
	ClientID  string
	UserID    int64
	Scope     string
	CodeHash  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// TokenStore persists provider tokens.
type TokenStore interface {
	Put(ctx context.Context, tokens ...IssuedToken) error
	Get(ctx context.Context, hash string) (IssuedToken, error)
	// RevokeByCode revokes every token derived from codeHash.
	RevokeByCode(ctx context.Context, codeHash string) (int, error)
}

// MemoryTokenStore is a mutex-guarded TokenStore.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]IssuedToken
	byCode map[string][]string
}

// NewMemoryTokenStore returns an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		tokens: make(map[string]IssuedToken),
		byCode: make(map[string][]string),
	}
}

func (m *MemoryTokenStore) Put(_ context.Context, tokens ...IssuedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tokens {
		m.tokens[t.Hash] = t
		if t.CodeHash != "" {
			m.byCode[t.CodeHash] = append(m.byCode[t.CodeHash], t.Hash)
		}
	}
	return nil
}

func (m *MemoryTokenStore) Get(_ context.Context, hash string) (IssuedToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok {
		return IssuedToken{}, errTokenNotFound
	}
	return t, nil
}

func (m *MemoryTokenStore) RevokeByCode(_ context.Context, codeHash string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.byCode[codeHash] {
		t := m.tokens[h]
		if !t.Revoked {
			t.Revoked = true
			m.tokens[h] = t
			n++
		}
	}
	return n, nil
}
