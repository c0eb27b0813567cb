package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRedisStoreTest(t *testing.T) (*RedisStore, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "as"), rdb
}

// forEachStore runs fn against both store implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("redis", func(t *testing.T) {
		store, _ := newRedisStoreTest(t)
		fn(t, store)
	})
}

func TestCreateAssignsLifetimeAndEntropy(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		clock := newFakeClock()
		m := NewManager(store, WithClock(clock.Now))

		s, err := m.Create(context.Background(), 1)
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}
		if !s.ExpiresAt.Equal(s.CreatedAt.Add(24 * time.Hour)) {
			t.Fatalf("expiresAt = %v, want createdAt+24h (%v)", s.ExpiresAt, s.CreatedAt)
		}
		if len(s.SessionID) != 43 {
			t.Fatalf("session id length = %d, want 43 (32 bytes base64url)", len(s.SessionID))
		}

		other, err := m.Create(context.Background(), 1)
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}
		if other.SessionID == s.SessionID {
			t.Fatal("two sessions share an id")
		}
	})
}

func TestValidateTouchesLastActivity(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newFakeClock()
		m := NewManager(store, WithClock(clock.Now))

		s, err := m.Create(ctx, 7)
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}
		clock.Advance(time.Hour)

		got, err := m.Validate(ctx, s.SessionID)
		if err != nil {
			t.Fatalf("Validate error: %v", err)
		}
		if got.UserID != 7 {
			t.Fatalf("user = %d, want 7", got.UserID)
		}
		if !got.LastActivity.Equal(clock.Now()) {
			t.Fatalf("lastActivity = %v, want %v", got.LastActivity, clock.Now())
		}

		peek, err := m.Peek(ctx, s.SessionID)
		if err != nil {
			t.Fatalf("Peek error: %v", err)
		}
		if !peek.LastActivity.Equal(got.LastActivity) {
			t.Fatalf("touch not persisted: %v vs %v", peek.LastActivity, got.LastActivity)
		}
	})
}

func TestValidateExpiredPurgesLazily(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newFakeClock()
		m := NewManager(store, WithClock(clock.Now))

		s, err := m.Create(ctx, 1)
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}

		clock.Advance(24 * time.Hour)
		if _, err := m.Validate(ctx, s.SessionID); err != nil {
			t.Fatalf("session at exactly expiresAt must still validate: %v", err)
		}

		clock.Advance(time.Millisecond)
		if _, err := m.Validate(ctx, s.SessionID); !errors.Is(err, ErrExpired) {
			t.Fatalf("expected ErrExpired, got %v", err)
		}
		if _, err := m.Validate(ctx, s.SessionID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expired session must be purged, got %v", err)
		}
		ids, err := m.ListForUser(ctx, 1)
		if err != nil {
			t.Fatalf("ListForUser error: %v", err)
		}
		if len(ids) != 0 {
			t.Fatalf("user index still lists %v", ids)
		}
	})
}

func TestValidateUnknownAndMalformed(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		m := NewManager(store)
		for _, id := range []string{"", "not-a-session", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"} {
			if _, err := m.Validate(context.Background(), id); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Validate(%q) = %v, want ErrNotFound", id, err)
			}
		}
	})
}

func TestDestroyIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		m := NewManager(store)
		s, err := m.Create(ctx, 3)
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}
		if err := m.Destroy(ctx, s.SessionID); err != nil {
			t.Fatalf("first destroy: %v", err)
		}
		if err := m.Destroy(ctx, s.SessionID); err != nil {
			t.Fatalf("second destroy: %v", err)
		}
		if _, err := m.Validate(ctx, s.SessionID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after destroy, got %v", err)
		}
	})
}

func TestRegenerateNeverReusesPriorID(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		m := NewManager(store)

		prior, err := m.Create(ctx, 1)
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}
		for i := 0; i < 20; i++ {
			next, err := m.Regenerate(ctx, prior.SessionID, 1)
			if err != nil {
				t.Fatalf("Regenerate error: %v", err)
			}
			if next.SessionID == prior.SessionID {
				t.Fatal("regenerated session reused the prior id")
			}
			if _, err := m.Validate(ctx, prior.SessionID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("prior session still valid: %v", err)
			}
			prior = next
		}

		// A client-chosen id that was never issued is simply ignored.
		next, err := m.Regenerate(ctx, "attacker-chosen", 1)
		if err != nil {
			t.Fatalf("Regenerate error: %v", err)
		}
		if next.SessionID == "attacker-chosen" {
			t.Fatal("client supplied id adopted")
		}
	})
}

func TestDestroyAllForUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		m := NewManager(store)

		var ids []string
		for i := 0; i < 3; i++ {
			s, err := m.Create(ctx, 9)
			if err != nil {
				t.Fatalf("Create error: %v", err)
			}
			ids = append(ids, s.SessionID)
		}
		keep, err := m.Create(ctx, 10)
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}

		n, err := m.DestroyAllForUser(ctx, 9)
		if err != nil {
			t.Fatalf("DestroyAllForUser error: %v", err)
		}
		if n != 3 {
			t.Fatalf("destroyed %d, want 3", n)
		}
		for _, id := range ids {
			if _, err := m.Validate(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Fatalf("session %s survived: %v", id, err)
			}
		}
		if _, err := m.Validate(ctx, keep.SessionID); err != nil {
			t.Fatalf("other user's session destroyed: %v", err)
		}
	})
}

func TestConcurrentValidateAndDestroy(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		m := NewManager(store)
		s, err := m.Create(ctx, 1)
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.Validate(ctx, s.SessionID)
				if err != nil && !errors.Is(err, ErrNotFound) {
					t.Errorf("unexpected validate error: %v", err)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Destroy(ctx, s.SessionID); err != nil {
				t.Errorf("destroy error: %v", err)
			}
		}()
		wg.Wait()

		if _, err := m.Validate(ctx, s.SessionID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after destroy, got %v", err)
		}
	})
}

func TestRedisCorruptBlob(t *testing.T) {
	store, rdb := newRedisStoreTest(t)
	ctx := context.Background()
	id := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	if err := rdb.Set(ctx, store.key(id), []byte("bad"), time.Hour).Err(); err != nil {
		t.Fatalf("seed corrupt blob: %v", err)
	}
	if _, err := store.Touch(ctx, id, time.Now()); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestRedisSaveSetsTTL(t *testing.T) {
	store, rdb := newRedisStoreTest(t)
	ctx := context.Background()
	m := NewManager(store, WithLifetime(time.Hour))
	s, err := m.Create(ctx, 1)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	ttl, err := rdb.PTTL(ctx, store.key(s.SessionID)).Result()
	if err != nil {
		t.Fatalf("pttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Fatalf("ttl = %v, want (0, 1h]", ttl)
	}
	if _, err := m.Validate(ctx, s.SessionID); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	after, err := rdb.PTTL(ctx, store.key(s.SessionID)).Result()
	if err != nil {
		t.Fatalf("pttl: %v", err)
	}
	if after <= 0 {
		t.Fatalf("touch dropped ttl: %v", after)
	}
}
