package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Session
	byUser map[int64]map[string]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Session),
		byUser: make(map[int64]map[string]struct{}),
	}
}

// Save stores s and indexes it under its user.
func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID[s.SessionID] = s.clone()
	ids := m.byUser[s.UserID]
	if ids == nil {
		ids = make(map[string]struct{})
		m.byUser[s.UserID] = ids
	}
	ids[s.SessionID] = struct{}{}
	return nil
}

// Touch returns the live session after moving LastActivity to now.
func (m *MemoryStore) Touch(_ context.Context, sessionID string, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.liveLocked(sessionID, now)
	if err != nil {
		return nil, err
	}
	s.LastActivity = now
	return s.clone(), nil
}

// Get returns the live session without touching it.
func (m *MemoryStore) Get(_ context.Context, sessionID string, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.liveLocked(sessionID, now)
	if err != nil {
		return nil, err
	}
	return s.clone(), nil
}

func (m *MemoryStore) liveLocked(sessionID string, now time.Time) (*Session, error) {
	s, ok := m.byID[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Expired(now) {
		m.deleteLocked(s)
		return nil, ErrExpired
	}
	return s, nil
}

// Delete removes one session. Unknown ids are not an error.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.byID[sessionID]; ok {
		m.deleteLocked(s)
	}
	return nil
}

// DeleteAllForUser removes every session of userID and returns the count.
func (m *MemoryStore) DeleteAllForUser(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byUser[userID]
	for id := range ids {
		delete(m.byID, id)
	}
	delete(m.byUser, userID)
	return len(ids), nil
}

// ListForUser returns the sorted session ids of userID.
func (m *MemoryStore) ListForUser(_ context.Context, userID int64) ([]string, error) {
	m.mu.Lock()
	out := make([]string, 0, len(m.byUser[userID]))
	for id := range m.byUser[userID] {
		out = append(out, id)
	}
	m.mu.Unlock()

	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) deleteLocked(s *Session) {
	delete(m.byID, s.SessionID)
	if ids := m.byUser[s.UserID]; ids != nil {
		delete(ids, s.SessionID)
		if len(ids) == 0 {
			delete(m.byUser, s.UserID)
		}
	}
}
