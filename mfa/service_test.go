package mfa

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type activationRecorder struct {
	mu        sync.Mutex
	activated []int64
	disabled  []int64
}

func (a *activationRecorder) onActivate(_ context.Context, uid int64) error {
	a.mu.Lock()
	a.activated = append(a.activated, uid)
	a.mu.Unlock()
	return nil
}

func (a *activationRecorder) onDisable(_ context.Context, uid int64) error {
	a.mu.Lock()
	a.disabled = append(a.disabled, uid)
	a.mu.Unlock()
	return nil
}

func forEachEnrollmentStore(t *testing.T, fn func(t *testing.T, store EnrollmentStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryEnrollmentStore()) })
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
		fn(t, NewRedisEnrollmentStore(rdb, ""))
	})
}

func newTestService(t *testing.T, store EnrollmentStore) (*Service, *stepClock, *activationRecorder) {
	t.Helper()
	clock := &stepClock{now: time.Unix(1_800_000_000, 0)}
	rec := &activationRecorder{}
	svc, err := NewService(store, Config{
		Issuer:       "authlab",
		Skew:         1,
		BackupHasher: fastBcrypt(t),
		OnActivate:   rec.onActivate,
		OnDisable:    rec.onDisable,
		Now:          clock.Now,
	})
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	return svc, clock, rec
}

func currentCode(t *testing.T, svc *Service, secret string, at time.Time) string {
	t.Helper()
	code, err := svc.Generator().Code(secret, at)
	if err != nil {
		t.Fatalf("Code error: %v", err)
	}
	return code
}

func TestEnrollmentStateMachine(t *testing.T) {
	forEachEnrollmentStore(t, func(t *testing.T, store EnrollmentStore) {
		ctx := context.Background()
		svc, clock, rec := newTestService(t, store)

		if st, err := svc.Status(ctx, 1); err != nil || st != StateUnenrolled {
			t.Fatalf("initial status = %v, %v", st, err)
		}
		if _, err := svc.Verify(ctx, 1, "123456", false); !errors.Is(err, ErrNotEnrolled) {
			t.Fatalf("verify before setup = %v, want ErrNotEnrolled", err)
		}

		setup, err := svc.BeginSetup(ctx, 1, "admin")
		if err != nil {
			t.Fatalf("BeginSetup error: %v", err)
		}
		if len(setup.BackupCodes) != BackupCodeCount || setup.Secret.Secret == "" || setup.QRPayload == "" {
			t.Fatalf("incomplete setup %+v", setup)
		}
		if st, _ := svc.Status(ctx, 1); st != StatePendingVerification {
			t.Fatalf("status after setup = %v", st)
		}

		// Setup may be restarted while pending; the old secret stops working.
		again, err := svc.BeginSetup(ctx, 1, "admin")
		if err != nil {
			t.Fatalf("second BeginSetup error: %v", err)
		}
		stale := currentCode(t, svc, setup.Secret.Secret, clock.Now())
		fresh := currentCode(t, svc, again.Secret.Secret, clock.Now())
		if stale != fresh {
			if _, err := svc.Verify(ctx, 1, stale, false); !errors.Is(err, ErrCodeInvalid) {
				t.Fatalf("stale secret = %v, want ErrCodeInvalid", err)
			}
		}

		out, err := svc.Verify(ctx, 1, fresh, false)
		if err != nil {
			t.Fatalf("Verify error: %v", err)
		}
		if !out.Activated {
			t.Fatal("first verification did not activate")
		}
		if st, _ := svc.Status(ctx, 1); st != StateEnabled {
			t.Fatalf("status after verify = %v", st)
		}

		clock.Advance(Period * time.Second)
		out, err = svc.Verify(ctx, 1, currentCode(t, svc, again.Secret.Secret, clock.Now()), false)
		if err != nil {
			t.Fatalf("second Verify error: %v", err)
		}
		if out.Activated {
			t.Fatal("later verification re-ran activation")
		}
		if len(rec.activated) != 1 || rec.activated[0] != 1 {
			t.Fatalf("OnActivate calls = %v, want [1]", rec.activated)
		}

		if _, err := svc.BeginSetup(ctx, 1, "admin"); !errors.Is(err, ErrAlreadyEnabled) {
			t.Fatalf("BeginSetup on enabled = %v, want ErrAlreadyEnabled", err)
		}

		if err := svc.Disable(ctx, 1); err != nil {
			t.Fatalf("Disable error: %v", err)
		}
		if st, _ := svc.Status(ctx, 1); st != StateUnenrolled {
			t.Fatalf("status after disable = %v", st)
		}
		if len(rec.disabled) != 1 {
			t.Fatalf("OnDisable calls = %v", rec.disabled)
		}
		if err := svc.Disable(ctx, 1); !errors.Is(err, ErrNotEnrolled) {
			t.Fatalf("second Disable = %v, want ErrNotEnrolled", err)
		}
	})
}

func TestBackupCodeActivatesAndBurns(t *testing.T) {
	forEachEnrollmentStore(t, func(t *testing.T, store EnrollmentStore) {
		ctx := context.Background()
		svc, _, rec := newTestService(t, store)

		setup, err := svc.BeginSetup(ctx, 2, "user")
		if err != nil {
			t.Fatalf("BeginSetup error: %v", err)
		}
		out, err := svc.Verify(ctx, 2, setup.BackupCodes[0], true)
		if err != nil {
			t.Fatalf("backup verify error: %v", err)
		}
		if !out.Activated || !out.UsedBackupCode || out.BackupCodesRemaining != 9 {
			t.Fatalf("unexpected outcome %+v", out)
		}
		if _, err := svc.Verify(ctx, 2, setup.BackupCodes[0], true); !errors.Is(err, ErrBackupCodeReused) {
			t.Fatalf("reuse = %v, want ErrBackupCodeReused", err)
		}
		out, err = svc.Verify(ctx, 2, setup.BackupCodes[1], true)
		if err != nil {
			t.Fatalf("second code rejected: %v", err)
		}
		if out.Activated || out.BackupCodesRemaining != 8 {
			t.Fatalf("unexpected outcome %+v", out)
		}
		if len(rec.activated) != 1 {
			t.Fatalf("OnActivate calls = %v", rec.activated)
		}
	})
}

func TestTOTPReplayWithinWindowRejected(t *testing.T) {
	forEachEnrollmentStore(t, func(t *testing.T, store EnrollmentStore) {
		ctx := context.Background()
		svc, clock, _ := newTestService(t, store)

		setup, err := svc.BeginSetup(ctx, 3, "u3")
		if err != nil {
			t.Fatalf("BeginSetup error: %v", err)
		}
		code := currentCode(t, svc, setup.Secret.Secret, clock.Now())
		if _, err := svc.Verify(ctx, 3, code, false); err != nil {
			t.Fatalf("Verify error: %v", err)
		}
		if _, err := svc.Verify(ctx, 3, code, false); !errors.Is(err, ErrCodeInvalid) {
			t.Fatalf("replay = %v, want ErrCodeInvalid", err)
		}
		prev := currentCode(t, svc, setup.Secret.Secret, clock.Now().Add(-Period*time.Second))
		if prev != code {
			if _, err := svc.Verify(ctx, 3, prev, false); !errors.Is(err, ErrCodeInvalid) {
				t.Fatalf("older step = %v, want ErrCodeInvalid", err)
			}
		}
	})
}

func TestConcurrentActivationRunsHookOnce(t *testing.T) {
	forEachEnrollmentStore(t, func(t *testing.T, store EnrollmentStore) {
		ctx := context.Background()
		svc, _, rec := newTestService(t, store)
		setup, err := svc.BeginSetup(ctx, 4, "u4")
		if err != nil {
			t.Fatalf("BeginSetup error: %v", err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(code string) {
				defer wg.Done()
				_, _ = svc.Verify(ctx, 4, code, true)
			}(setup.BackupCodes[i])
		}
		wg.Wait()

		if len(rec.activated) != 1 {
			t.Fatalf("OnActivate calls = %v, want exactly one", rec.activated)
		}
	})
}

// conflictOnceStore runs fn against a stale read, lets another writer enable
// the enrollment, then retries the way the Redis store does after a WATCH
// conflict.
type conflictOnceStore struct {
	*MemoryEnrollmentStore
	armed bool
}

func (s *conflictOnceStore) Update(ctx context.Context, userID int64, fn func(cur *Enrollment) (*Enrollment, error)) error {
	if s.armed {
		s.armed = false
		cur, err := s.Get(ctx, userID)
		if err != nil {
			return err
		}
		_, _ = fn(cur)
		err = s.MemoryEnrollmentStore.Update(ctx, userID, func(e *Enrollment) (*Enrollment, error) {
			next := e.clone()
			next.State = StateEnabled
			return next, nil
		})
		if err != nil {
			return err
		}
	}
	return s.MemoryEnrollmentStore.Update(ctx, userID, fn)
}

func TestVerifyRetryDoesNotReactivate(t *testing.T) {
	store := &conflictOnceStore{MemoryEnrollmentStore: NewMemoryEnrollmentStore()}
	svc, _, rec := newTestService(t, store)
	ctx := context.Background()

	setup, err := svc.BeginSetup(ctx, 7, "user@authlab.local")
	if err != nil {
		t.Fatalf("BeginSetup error: %v", err)
	}

	store.armed = true
	out, err := svc.Verify(ctx, 7, setup.BackupCodes[0], true)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if out.Activated {
		t.Fatal("retry against an enabled enrollment must not report activation")
	}
	if !out.UsedBackupCode {
		t.Fatal("expected the retried run to spend the backup code")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.activated) != 0 {
		t.Fatalf("expected no activation hook, got %v", rec.activated)
	}
}
