package mfa

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/authlab/internal/stores"
	"github.com/redis/go-redis/v9"
)

// Challenge defaults seeded into the engine configuration.
const (
	DefaultChallengeTTL         = 5 * time.Minute
	DefaultChallengeMaxAttempts = 5
)

// Challenge store errors.
var (
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	ErrChallengeExpired  = errors.New("mfa challenge expired")
	ErrChallengeExceeded = errors.New("mfa challenge attempts exceeded")
)

// Challenge is a login that passed the password check and awaits its second
// factor.
type Challenge struct {
	ID             string
	UserID         int64
	Flow           string
	PriorSessionID string
	ExpiresAt      time.Time
	Attempts       int
}

// ChallengeStore holds pending challenges.
type ChallengeStore interface {
	Save(ctx context.Context, c Challenge) error
	Get(ctx context.Context, id string, now time.Time) (Challenge, error)
	// Consume deletes and returns the challenge; only one caller succeeds.
	Consume(ctx context.Context, id string, now time.Time) (Challenge, error)
	// RecordFailure counts a wrong code; at maxAttempts the challenge is
	// deleted and ErrChallengeExceeded returned.
	RecordFailure(ctx context.Context, id string, maxAttempts int, now time.Time) error
}

// MemoryChallengeStore is a mutex-guarded ChallengeStore.
type MemoryChallengeStore struct {
	mu   sync.Mutex
	recs map[string]Challenge
}

// NewMemoryChallengeStore returns an empty store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{recs: make(map[string]Challenge)}
}

// Save stores c, replacing any challenge with the same id.
func (m *MemoryChallengeStore) Save(_ context.Context, c Challenge) error {
	m.mu.Lock()
	m.recs[c.ID] = c
	m.mu.Unlock()
	return nil
}

func (m *MemoryChallengeStore) liveLocked(id string, now time.Time) (Challenge, error) {
	c, ok := m.recs[id]
	if !ok {
		return Challenge{}, ErrChallengeNotFound
	}
	if now.After(c.ExpiresAt) {
		delete(m.recs, id)
		return Challenge{}, ErrChallengeExpired
	}
	return c, nil
}

// Get returns the live challenge for id.
func (m *MemoryChallengeStore) Get(_ context.Context, id string, now time.Time) (Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(id, now)
}

// Consume removes and returns the live challenge for id.
func (m *MemoryChallengeStore) Consume(_ context.Context, id string, now time.Time) (Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.liveLocked(id, now)
	if err != nil {
		return Challenge{}, err
	}
	delete(m.recs, id)
	return c, nil
}

// RecordFailure counts a wrong code and drops the challenge at maxAttempts.
func (m *MemoryChallengeStore) RecordFailure(_ context.Context, id string, maxAttempts int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.liveLocked(id, now)
	if err != nil {
		return err
	}
	c.Attempts++
	if c.Attempts >= maxAttempts {
		delete(m.recs, id)
		return ErrChallengeExceeded
	}
	m.recs[id] = c
	return nil
}

// RedisChallengeStore adapts the internal Redis challenge store.
type RedisChallengeStore struct {
	inner *stores.MFALoginChallengeStore
}

// NewRedisChallengeStore returns a store namespacing keys under prefix.
func NewRedisChallengeStore(rdb redis.UniversalClient, prefix string) *RedisChallengeStore {
	return &RedisChallengeStore{inner: stores.NewMFALoginChallengeStore(rdb, prefix)}
}

// Save stores c with a TTL matching its expiry.
func (r *RedisChallengeStore) Save(ctx context.Context, c Challenge) error {
	ttl := time.Until(c.ExpiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	return mapChallengeErr(r.inner.Save(ctx, c.ID, &stores.MFALoginChallenge{
		UserID:         c.UserID,
		Flow:           c.Flow,
		PriorSessionID: c.PriorSessionID,
		ExpiresAt:      c.ExpiresAt.UnixMilli(),
		Attempts:       uint16(c.Attempts),
	}, ttl))
}

// Get returns the live challenge for id.
func (r *RedisChallengeStore) Get(ctx context.Context, id string, now time.Time) (Challenge, error) {
	rec, err := r.inner.Get(ctx, id, now)
	if err != nil {
		return Challenge{}, mapChallengeErr(err)
	}
	return fromRecord(id, rec), nil
}

// Consume atomically deletes and returns the live challenge for id.
func (r *RedisChallengeStore) Consume(ctx context.Context, id string, now time.Time) (Challenge, error) {
	rec, err := r.inner.Consume(ctx, id, now)
	if err != nil {
		return Challenge{}, mapChallengeErr(err)
	}
	return fromRecord(id, rec), nil
}

// RecordFailure counts a wrong code and drops the challenge at maxAttempts.
func (r *RedisChallengeStore) RecordFailure(ctx context.Context, id string, maxAttempts int, now time.Time) error {
	exceeded, err := r.inner.RecordFailure(ctx, id, maxAttempts, now)
	if err != nil {
		return mapChallengeErr(err)
	}
	if exceeded {
		return ErrChallengeExceeded
	}
	return nil
}

func fromRecord(id string, rec *stores.MFALoginChallenge) Challenge {
	return Challenge{
		ID:             id,
		UserID:         rec.UserID,
		Flow:           rec.Flow,
		PriorSessionID: rec.PriorSessionID,
		ExpiresAt:      time.UnixMilli(rec.ExpiresAt).UTC(),
		Attempts:       int(rec.Attempts),
	}
}

func mapChallengeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrMFALoginChallengeNotFound):
		return ErrChallengeNotFound
	case errors.Is(err, stores.ErrMFALoginChallengeExpired):
		return ErrChallengeExpired
	default:
		return errors.Join(ErrBackend, err)
	}
}
