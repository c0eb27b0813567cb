package mfa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func forEachChallengeStore(t *testing.T, fn func(t *testing.T, store ChallengeStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryChallengeStore()) })
	t.Run("redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis start: %v", err)
		}
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() {
			rdb.Close()
			mr.Close()
		})
		fn(t, NewRedisChallengeStore(rdb, ""))
	})
}

func TestChallengeLifecycle(t *testing.T) {
	forEachChallengeStore(t, func(t *testing.T, store ChallengeStore) {
		ctx := context.Background()
		now := time.Now().Truncate(time.Millisecond)
		c := Challenge{ID: "c1", UserID: 1, Flow: "session", PriorSessionID: "old", ExpiresAt: now.Add(DefaultChallengeTTL)}
		if err := store.Save(ctx, c); err != nil {
			t.Fatalf("Save error: %v", err)
		}

		got, err := store.Get(ctx, "c1", now)
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if got.UserID != 1 || got.Flow != "session" || got.PriorSessionID != "old" {
			t.Fatalf("unexpected challenge %+v", got)
		}

		for i := 1; i < DefaultChallengeMaxAttempts; i++ {
			if err := store.RecordFailure(ctx, "c1", DefaultChallengeMaxAttempts, now); err != nil {
				t.Fatalf("failure %d: %v", i, err)
			}
		}
		if err := store.RecordFailure(ctx, "c1", DefaultChallengeMaxAttempts, now); !errors.Is(err, ErrChallengeExceeded) {
			t.Fatalf("final failure = %v, want ErrChallengeExceeded", err)
		}
		if _, err := store.Consume(ctx, "c1", now); !errors.Is(err, ErrChallengeNotFound) {
			t.Fatalf("consume after exceed = %v", err)
		}
	})
}

func TestChallengeConsumeOnceAndExpiry(t *testing.T) {
	forEachChallengeStore(t, func(t *testing.T, store ChallengeStore) {
		ctx := context.Background()
		now := time.Now()
		if err := store.Save(ctx, Challenge{ID: "c2", UserID: 2, ExpiresAt: now.Add(time.Minute)}); err != nil {
			t.Fatalf("Save error: %v", err)
		}
		if _, err := store.Consume(ctx, "c2", now); err != nil {
			t.Fatalf("Consume error: %v", err)
		}
		if _, err := store.Consume(ctx, "c2", now); !errors.Is(err, ErrChallengeNotFound) {
			t.Fatalf("second consume = %v", err)
		}

		if err := store.Save(ctx, Challenge{ID: "c3", UserID: 2, ExpiresAt: now.Add(time.Minute)}); err != nil {
			t.Fatalf("Save error: %v", err)
		}
		if _, err := store.Get(ctx, "c3", now.Add(2*time.Minute)); !errors.Is(err, ErrChallengeExpired) {
			t.Fatalf("late get = %v, want ErrChallengeExpired", err)
		}
	})
}
