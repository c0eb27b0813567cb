package stores

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newChallengeStoreTest(t *testing.T) *MFALoginChallengeStore {
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
	return NewMFALoginChallengeStore(rdb, "")
}

func TestChallengeEncodeDecode(t *testing.T) {
	in := &MFALoginChallenge{UserID: 42, Flow: "token", PriorSessionID: "prior", ExpiresAt: 1700000000123, Attempts: 3}
	data, err := encodeMFALoginChallenge(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeMFALoginChallenge(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *out != *in {
		t.Fatalf("decoded %+v, want %+v", out, in)
	}
	if _, err := decodeMFALoginChallenge(data[:5]); err == nil {
		t.Fatal("expected truncated record to fail")
	}
}

func TestChallengeConsumeIsSingleUse(t *testing.T) {
	store := newChallengeStoreTest(t)
	ctx := context.Background()
	now := time.Now()
	rec := &MFALoginChallenge{UserID: 1, Flow: "session", ExpiresAt: now.Add(time.Minute).UnixMilli()}
	if err := store.Save(ctx, "c1", rec, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, "c1", now); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("consumed %d times, want 1", wins.Load())
	}
}

func TestChallengeExpiryUsesInjectedClock(t *testing.T) {
	store := newChallengeStoreTest(t)
	ctx := context.Background()
	now := time.Now()
	rec := &MFALoginChallenge{UserID: 1, ExpiresAt: now.Add(time.Minute).UnixMilli()}
	if err := store.Save(ctx, "c1", rec, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Get(ctx, "c1", now.Add(2*time.Minute)); !errors.Is(err, ErrMFALoginChallengeExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if _, err := store.Get(ctx, "c1", now); !errors.Is(err, ErrMFALoginChallengeNotFound) {
		t.Fatalf("expired challenge must be purged, got %v", err)
	}
}

func TestChallengeRecordFailureExceeds(t *testing.T) {
	store := newChallengeStoreTest(t)
	ctx := context.Background()
	now := time.Now()
	rec := &MFALoginChallenge{UserID: 1, ExpiresAt: now.Add(time.Minute).UnixMilli()}
	if err := store.Save(ctx, "c1", rec, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}

	for i := 1; i < 3; i++ {
		exceeded, err := store.RecordFailure(ctx, "c1", 3, now)
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if exceeded {
			t.Fatalf("exceeded after %d failures", i)
		}
	}
	exceeded, err := store.RecordFailure(ctx, "c1", 3, now)
	if err != nil || !exceeded {
		t.Fatalf("third failure = %v, %v; want exceeded", exceeded, err)
	}
	if _, err := store.Get(ctx, "c1", now); !errors.Is(err, ErrMFALoginChallengeNotFound) {
		t.Fatalf("exceeded challenge must be deleted, got %v", err)
	}
	if _, err := store.RecordFailure(ctx, "missing", 3, now); !errors.Is(err, ErrMFALoginChallengeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
