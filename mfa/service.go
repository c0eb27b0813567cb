package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authlab/password"
)

// Setup is returned once by BeginSetup. The backup codes are not retrievable
// afterwards.
type Setup struct {
	Secret
	BackupCodes []string
}

// Outcome describes a successful Verify.
type Outcome struct {
	// Activated is true only for the verification that enabled the enrollment.
	Activated            bool
	UsedBackupCode       bool
	BackupCodesRemaining int
}

// Config wires a Service.
type Config struct {
	Issuer string
	Skew   int
	// BackupHasher hashes backup codes; password.Bcrypt is the usual choice.
	BackupHasher password.Hasher
	// OnActivate mirrors a PendingVerification to Enabled transition onto the
	// user record. OnDisable mirrors Disable.
	OnActivate func(ctx context.Context, userID int64) error
	OnDisable  func(ctx context.Context, userID int64) error
	Now        func() time.Time
}

// Service runs the enrollment state machine
// Unenrolled -> PendingVerification -> Enabled.
type Service struct {
	gen    *Generator
	store  EnrollmentStore
	hasher password.Hasher
	cfg    Config
}

// NewService returns a Service over store.
func NewService(store EnrollmentStore, cfg Config) (*Service, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BackupHasher == nil {
		h, err := password.NewBcrypt(0)
		if err != nil {
			return nil, err
		}
		cfg.BackupHasher = h
	}
	return &Service{
		gen:    NewGenerator(cfg.Issuer, cfg.Skew),
		store:  store,
		hasher: cfg.BackupHasher,
		cfg:    cfg,
	}, nil
}

// Generator exposes the TOTP generator.
func (s *Service) Generator() *Generator {
	return s.gen
}

func (s *Service) GenerateSecret(accountLabel string) (Secret, error) {
	return s.gen.GenerateSecret(accountLabel)
}

func (s *Service) GenerateBackupCodes(n int) ([]string, error) {
	return GenerateBackupCodes(n)
}

// VerifyTOTP checks code against secret at the current time.
func (s *Service) VerifyTOTP(secret, code string) bool {
	ok, _ := s.gen.Verify(secret, code, s.cfg.Now())
	return ok
}

// VerifyBackupCode is the stateless backup check; see the package function.
func (s *Service) VerifyBackupCode(hashed, used []string, candidate string) (bool, error) {
	if _, err := VerifyBackupCode(s.hasher, hashed, used, candidate); err != nil {
		return false, err
	}
	return true, nil
}

// BeginSetup moves userID to PendingVerification with a fresh secret and
// backup codes, replacing any earlier pending material.
func (s *Service) BeginSetup(ctx context.Context, userID int64, accountLabel string) (Setup, error) {
	secret, err := s.gen.GenerateSecret(accountLabel)
	if err != nil {
		return Setup{}, err
	}
	codes, err := GenerateBackupCodes(BackupCodeCount)
	if err != nil {
		return Setup{}, err
	}
	hashed, err := HashBackupCodes(s.hasher, codes)
	if err != nil {
		return Setup{}, err
	}

	err = s.store.Update(ctx, userID, func(cur *Enrollment) (*Enrollment, error) {
		if cur != nil && cur.Enabled() {
			return nil, ErrAlreadyEnabled
		}
		return &Enrollment{
			UserID:       userID,
			Secret:       secret.Secret,
			State:        StatePendingVerification,
			BackupHashes: hashed,
			CreatedAt:    s.cfg.Now().UTC(),
		}, nil
	})
	if err != nil {
		return Setup{}, err
	}
	return Setup{Secret: secret, BackupCodes: codes}, nil
}

// Verify checks a TOTP or backup code for userID. The first success while
// pending enables the enrollment and calls OnActivate; later successes do
// not. A TOTP step at or before the last accepted one is rejected.
func (s *Service) Verify(ctx context.Context, userID int64, code string, useBackup bool) (Outcome, error) {
	var out Outcome
	now := s.cfg.Now()

	err := s.store.Update(ctx, userID, func(cur *Enrollment) (*Enrollment, error) {
		// Update may run fn again after a conflicting write.
		out = Outcome{}
		if cur == nil || cur.State == StateUnenrolled {
			return nil, ErrNotEnrolled
		}
		next := cur.clone()

		if useBackup {
			norm, err := VerifyBackupCode(s.hasher, next.BackupHashes, next.UsedCodes, code)
			if err != nil {
				return nil, err
			}
			next.UsedCodes = append(next.UsedCodes, norm)
			out.UsedBackupCode = true
		} else {
			ok, step := s.gen.Verify(next.Secret, code, now)
			if !ok || step <= next.LastUsedStep {
				return nil, ErrCodeInvalid
			}
			next.LastUsedStep = step
		}

		if next.State == StatePendingVerification {
			next.State = StateEnabled
			next.EnabledAt = now.UTC()
			out.Activated = true
		}
		out.BackupCodesRemaining = len(next.BackupHashes) - len(next.UsedCodes)
		return next, nil
	})
	if err != nil {
		return Outcome{}, err
	}

	if out.Activated && s.cfg.OnActivate != nil {
		if err := s.cfg.OnActivate(ctx, userID); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Status returns the enrollment state of userID.
func (s *Service) Status(ctx context.Context, userID int64) (State, error) {
	e, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrNotEnrolled) {
		return StateUnenrolled, nil
	}
	if err != nil {
		return StateUnenrolled, err
	}
	return e.State, nil
}

// Disable removes userID's enrollment, returning it to Unenrolled.
func (s *Service) Disable(ctx context.Context, userID int64) error {
	err := s.store.Update(ctx, userID, func(cur *Enrollment) (*Enrollment, error) {
		if cur == nil {
			return nil, ErrNotEnrolled
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	if s.cfg.OnDisable != nil {
		return s.cfg.OnDisable(ctx, userID)
	}
	return nil
}
