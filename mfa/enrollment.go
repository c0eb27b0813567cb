package mfa

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Enrollment errors. ErrBackend wraps store failures.
var (
	ErrNotEnrolled      = errors.New("mfa not enrolled")
	ErrAlreadyEnabled   = errors.New("mfa already enabled")
	ErrCodeInvalid      = errors.New("mfa code invalid")
	ErrBackupCodeReused = errors.New("backup code already used")
	ErrBackend          = errors.New("mfa store unavailable")
)

// State is the enrollment lifecycle position.
type State uint8

// Enrollment states, in lifecycle order.
const (
	StateUnenrolled State = iota
	StatePendingVerification
	StateEnabled
)

// String returns the state name used in API responses.
func (s State) String() string {
	switch s {
	case StatePendingVerification:
		return "pending_verification"
	case StateEnabled:
		return "enabled"
	default:
		return "unenrolled"
	}
}

// Enrollment is a user's MFA secret material. UsedCodes holds normalized
// backup codes already spent and only grows.
type Enrollment struct {
	UserID       int64     `json:"uid"`
	Secret       string    `json:"secret"`
	State        State     `json:"state"`
	BackupHashes []string  `json:"backup"`
	UsedCodes    []string  `json:"used"`
	LastUsedStep int64     `json:"last_step"`
	CreatedAt    time.Time `json:"created_at"`
	EnabledAt    time.Time `json:"enabled_at,omitzero"`
}

// Enabled reports whether activation has happened.
func (e *Enrollment) Enabled() bool {
	return e.State == StateEnabled
}

func (e *Enrollment) clone() *Enrollment {
	c := *e
	c.BackupHashes = append([]string(nil), e.BackupHashes...)
	c.UsedCodes = append([]string(nil), e.UsedCodes...)
	return &c
}

// EnrollmentStore persists enrollments. Update runs fn as one atomic
// read-modify-write: fn receives the current record (nil when absent) and
// returns the record to store, nil to delete, or an error to abort.
type EnrollmentStore interface {
	Get(ctx context.Context, userID int64) (*Enrollment, error)
	Update(ctx context.Context, userID int64, fn func(cur *Enrollment) (*Enrollment, error)) error
}

// MemoryEnrollmentStore is a mutex-guarded EnrollmentStore.
type MemoryEnrollmentStore struct {
	mu   sync.Mutex
	recs map[int64]*Enrollment
}

// NewMemoryEnrollmentStore returns an empty store.
func NewMemoryEnrollmentStore() *MemoryEnrollmentStore {
	return &MemoryEnrollmentStore{recs: make(map[int64]*Enrollment)}
}

func (m *MemoryEnrollmentStore) Get(_ context.Context, userID int64) (*Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.recs[userID]
	if !ok {
		return nil, ErrNotEnrolled
	}
	return e.clone(), nil
}

func (m *MemoryEnrollmentStore) Update(_ context.Context, userID int64, fn func(*Enrollment) (*Enrollment, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cur *Enrollment
	if e, ok := m.recs[userID]; ok {
		cur = e.clone()
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.recs, userID)
		return nil
	}
	m.recs[userID] = next.clone()
	return nil
}
