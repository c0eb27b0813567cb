package password

import (
	"errors"
	"sync"
)

var (
	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword = errors.New("password must not be empty")
	// ErrPasswordTooLong is returned when the input exceeds the configured byte bound.
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("invalid password hash format")
	// ErrUnsupportedHash is returned when no configured hasher recognizes a stored hash.
	ErrUnsupportedHash = errors.New("unsupported password hash")
)

// Hasher is a one-way adaptive password hash with constant-time verification.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// Scheme is a Hasher that can recognize its own encoded hashes.
type Scheme interface {
	Hasher
	Handles(encodedHash string) bool
}

// Multi hashes with its primary scheme and verifies with whichever scheme
// recognizes the stored hash, so seeded bcrypt hashes keep working under an
// argon2id default.
type Multi struct {
	primary Scheme
	others  []Scheme

	dummyOnce sync.Once
	dummy     string
	dummyErr  error
}

// NewMulti returns a hasher that hashes with primary and verifies with any of
// primary and others.
func NewMulti(primary Scheme, others ...Scheme) *Multi {
	return &Multi{primary: primary, others: others}
}

// Hash delegates to the primary scheme.
func (m *Multi) Hash(password string) (string, error) {
	return m.primary.Hash(password)
}

// Verify picks the scheme from the hash prefix.
func (m *Multi) Verify(password, encodedHash string) (bool, error) {
	if m.primary.Handles(encodedHash) {
		return m.primary.Verify(password, encodedHash)
	}
	for _, s := range m.others {
		if s.Handles(encodedHash) {
			return s.Verify(password, encodedHash)
		}
	}
	return false, ErrUnsupportedHash
}

// VerifyDummy spends one full primary verification against a throwaway hash.
// Callers use it on the unknown-user path so that path costs the same as a
// wrong password.
func (m *Multi) VerifyDummy(password string) {
	m.dummyOnce.Do(func() {
		m.dummy, m.dummyErr = m.primary.Hash("authlab-dummy-credential")
	})
	if m.dummyErr != nil {
		return
	}
	if password == "" {
		password = "x"
	}
	_, _ = m.primary.Verify(password, m.dummy)
}
