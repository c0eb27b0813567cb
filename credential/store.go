package credential

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateUser is returned by Add when the id, username or email is taken.
	ErrDuplicateUser = errors.New("duplicate user")
	// ErrInvalidUser is returned by Add for records missing required fields.
	ErrInvalidUser = errors.New("invalid user record")
)

// Role is the coarse authorization level of a user.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User is a registered account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	MFAEnabled   bool
	CreatedAt    time.Time
}

// Subject is the stringified id carried in token "sub" claims.
func (u User) Subject() string {
	return strconv.FormatInt(u.ID, 10)
}

// ParseSubject converts a "sub" claim back into a user id.
func ParseSubject(sub string) (int64, error) {
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrUserNotFound
	}
	return id, nil
}

// Store is the user registry contract consumed by the Engine.
type Store interface {
	FindUserByLogin(ctx context.Context, identifier string) (User, error)
	FindUserByID(ctx context.Context, id int64) (User, error)
	SetMFAEnabled(ctx context.Context, id int64, enabled bool) error
}

// MemoryStore is a mutex-guarded map of users. The zero value is not usable;
// construct with NewMemoryStore.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[int64]User
	byName  map[string]int64
	byEmail map[string]int64
}

// NewMemoryStore returns a store seeded with users.
func NewMemoryStore(users ...User) (*MemoryStore, error) {
	s := &MemoryStore{
		byID:    make(map[int64]User, len(users)),
		byName:  make(map[string]int64, len(users)),
		byEmail: make(map[string]int64, len(users)),
	}
	for _, u := range users {
		if err := s.Add(u); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers u. Username and email must be unique across the store.
func (s *MemoryStore) Add(u User) error {
	if u.ID <= 0 || strings.TrimSpace(u.Username) == "" || u.PasswordHash == "" {
		return ErrInvalidUser
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if !u.Role.Valid() {
		return ErrInvalidUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	name := normalizeUsername(u.Username)
	email := normalizeEmail(u.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[u.ID]; ok {
		return ErrDuplicateUser
	}
	if _, ok := s.byName[name]; ok {
		return ErrDuplicateUser
	}
	if email != "" {
		if _, ok := s.byEmail[email]; ok {
			return ErrDuplicateUser
		}
	}

	s.byID[u.ID] = u
	s.byName[name] = u.ID
	if email != "" {
		s.byEmail[email] = u.ID
	}
	return nil
}

// FindUserByLogin matches identifier against usernames first, then emails.
func (s *MemoryStore) FindUserByLogin(_ context.Context, identifier string) (User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return User{}, ErrUserNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.byName[normalizeUsername(identifier)]; ok {
		return s.byID[id], nil
	}
	if id, ok := s.byEmail[normalizeEmail(identifier)]; ok {
		return s.byID[id], nil
	}
	return User{}, ErrUserNotFound
}

// FindUserByID returns the user with the given id.
func (s *MemoryStore) FindUserByID(_ context.Context, id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// SetMFAEnabled flips the user's MFA flag.
func (s *MemoryStore) SetMFAEnabled(_ context.Context, id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.MFAEnabled = enabled
	s.byID[id] = u
	return nil
}

// Users returns a snapshot of all users ordered by id.
func (s *MemoryStore) Users() []User {
	s.mu.RLock()
	out := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, u)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func normalizeUsername(v string) string {
	return strings.TrimSpace(v)
}

func normalizeEmail(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
