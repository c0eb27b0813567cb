package token

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded RecordStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	byUser  map[int64][]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		byUser:  make(map[int64][]string),
	}
}

// Put stores records, replacing any with the same id.
func (m *MemoryStore) Put(_ context.Context, records ...Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.putLocked(r)
	}
	return nil
}

func (m *MemoryStore) putLocked(r Record) {
	if _, exists := m.records[r.ID]; !exists {
		m.byUser[r.UserID] = append(m.byUser[r.UserID], r.ID)
	}
	m.records[r.ID] = r
}

// Get returns the record for id or ErrRecordNotFound.
func (m *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return r, nil
}

// Rotate revokes oldID and stores next in one step.
func (m *MemoryStore) Rotate(_ context.Context, oldID string, now time.Time, next ...Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.records[oldID]
	if !ok {
		return ErrRecordNotFound
	}
	if old.Revoked() {
		return ErrAlreadyRevoked
	}
	at := now
	old.RevokedAt = &at
	m.records[oldID] = old
	for _, r := range next {
		m.putLocked(r)
	}
	return nil
}

// Revoke marks id revoked and reports whether it was live.
func (m *MemoryStore) Revoke(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return false, ErrRecordNotFound
	}
	if r.Revoked() {
		return false, nil
	}
	at := now
	r.RevokedAt = &at
	m.records[id] = r
	return true, nil
}

// RevokeAllForUser revokes every live record of userID.
func (m *MemoryStore) RevokeAllForUser(_ context.Context, userID int64, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, id := range m.byUser[userID] {
		r := m.records[id]
		if r.Revoked() {
			continue
		}
		at := now
		r.RevokedAt = &at
		m.records[id] = r
		n++
	}
	return n, nil
}
