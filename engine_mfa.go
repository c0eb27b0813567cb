package authlab

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authlab/credential"
	"github.com/MrEthical07/authlab/internal"
	"github.com/MrEthical07/authlab/mfa"
	"go.uber.org/zap"
)

// BeginMFASetup issues a new TOTP secret and backup codes for userID. The
// enrollment stays pending until VerifyMFA accepts a code.
func (e *Engine) BeginMFASetup(ctx context.Context, userID int64) (*MFASetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	user, err := e.users.FindUserByID(ctx, userID)
	if errors.Is(err, credential.ErrUserNotFound) {
		return nil, ErrLoginRequired
	}
	if err != nil {
		return nil, e.internalError("find user", err, zap.Int64("user_id", userID))
	}

	label := user.Email
	if label == "" {
		label = user.Username
	}
	setup, err := e.mfa.BeginSetup(ctx, userID, label)
	if err != nil {
		return nil, e.mapMFAError("begin mfa setup", userID, err)
	}

	e.metricInc(MetricMFASetupStarted)
	e.emitAudit(ctx, auditEventMFASetupRequested, true, userID, "", nil, nil)
	return &MFASetup{
		Secret:      setup.Secret.Secret,
		QRPayload:   setup.Secret.QRPayload,
		ManualEntry: setup.Secret.ManualEntry,
		BackupCodes: setup.BackupCodes,
	}, nil
}

// VerifyMFA checks a code for an enrolled user. The first accepted code of a
// pending enrollment enables MFA.
func (e *Engine) VerifyMFA(ctx context.Context, userID int64, code string, useBackup bool) (*MFAResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	out, err := e.mfa.Verify(ctx, userID, code, useBackup)
	if err != nil {
		e.recordMFAFailure(ctx, userID, useBackup, err)
		return nil, e.mapMFAError("verify mfa", userID, err)
	}
	e.recordMFASuccess(ctx, userID, out)
	return &MFAResult{
		Activated:            out.Activated,
		UsedBackupCode:       out.UsedBackupCode,
		BackupCodesRemaining: out.BackupCodesRemaining,
	}, nil
}

// MFAStatus reports where userID is in the enrollment lifecycle.
func (e *Engine) MFAStatus(ctx context.Context, userID int64) (*MFAStatus, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	state, err := e.mfa.Status(ctx, userID)
	if err != nil {
		return nil, e.internalError("mfa status", err, zap.Int64("user_id", userID))
	}
	return &MFAStatus{State: state, Enabled: state == mfa.StateEnabled}, nil
}

// DisableMFA removes userID's enrollment.
func (e *Engine) DisableMFA(ctx context.Context, userID int64) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.mfa.Disable(ctx, userID); err != nil {
		return e.mapMFAError("disable mfa", userID, err)
	}
	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, auditEventMFADisabled, true, userID, "", nil, nil)
	return nil
}

func (e *Engine) beginMFALogin(ctx context.Context, user credential.User, req LoginRequest) (*LoginResult, error) {
	id, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, e.internalError("mfa challenge id", err)
	}
	c := mfa.Challenge{
		ID:             id,
		UserID:         user.ID,
		Flow:           string(req.Flow),
		PriorSessionID: req.PriorSessionID,
		ExpiresAt:      e.config.now().Add(e.config.TOTP.ChallengeTTL),
	}
	if err := e.challenges.Save(ctx, c); err != nil {
		return nil, e.internalError("save mfa challenge", err, zap.Int64("user_id", user.ID))
	}

	e.metricInc(MetricMFALoginRequired)
	e.emitAudit(ctx, auditEventMFARequired, true, user.ID, "", nil, nil)
	return &LoginResult{
		UserID:       user.ID,
		Flow:         req.Flow,
		MFARequired:  true,
		MFAChallenge: c.ID,
		MFAExpiresAt: c.ExpiresAt,
	}, nil
}

// CompleteMFALogin finishes a login that returned MFARequired. The challenge
// is claimed before the code is checked, so a backup code is only spent by
// the request that owns the challenge. A wrong code puts the challenge back
// and counts against it; once the attempt limit is reached the login must
// restart.
func (e *Engine) CompleteMFALogin(ctx context.Context, challengeID, code string, useBackup bool) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	now := e.config.now()

	c, err := e.challenges.Consume(ctx, challengeID, now)
	if err != nil {
		return nil, e.mapChallengeError(ctx, 0, err)
	}

	out, err := e.mfa.Verify(ctx, c.UserID, code, useBackup)
	if err != nil {
		e.recordMFAFailure(ctx, c.UserID, useBackup, err)
		e.metricInc(MetricMFALoginFailure)
		if serr := e.challenges.Save(ctx, c); serr != nil {
			return nil, e.internalError("restore mfa challenge", serr, zap.Int64("user_id", c.UserID))
		}
		if errors.Is(err, mfa.ErrCodeInvalid) || errors.Is(err, mfa.ErrBackupCodeReused) {
			if rerr := e.challenges.RecordFailure(ctx, c.ID, e.config.TOTP.ChallengeMaxAttempts, now); rerr != nil {
				return nil, e.mapChallengeError(ctx, c.UserID, rerr)
			}
		}
		return nil, e.mapMFAError("verify mfa", c.UserID, err)
	}
	e.recordMFASuccess(ctx, c.UserID, out)

	user, err := e.users.FindUserByID(ctx, c.UserID)
	if errors.Is(err, credential.ErrUserNotFound) {
		return nil, ErrMFAChallengeInvalid
	}
	if err != nil {
		return nil, e.internalError("find user", err, zap.Int64("user_id", c.UserID))
	}

	e.metricInc(MetricMFALoginSuccess)
	return e.finishLogin(ctx, user, Flow(c.Flow), c.PriorSessionID)
}

func (e *Engine) recordMFASuccess(ctx context.Context, userID int64, out mfa.Outcome) {
	if out.UsedBackupCode {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, userID, "", nil, func() map[string]string {
			return map[string]string{"remaining": fmt.Sprint(out.BackupCodesRemaining)}
		})
	}
	if out.Activated {
		e.metricInc(MetricMFAActivated)
		e.emitAudit(ctx, auditEventMFAEnabled, true, userID, "", nil, nil)
		return
	}
	e.emitAudit(ctx, auditEventMFASuccess, true, userID, "", nil, nil)
}

func (e *Engine) recordMFAFailure(ctx context.Context, userID int64, useBackup bool, err error) {
	if errors.Is(err, mfa.ErrBackend) {
		return
	}
	if useBackup {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, userID, "", e.mapMFAError("", userID, err), nil)
		return
	}
	e.emitAudit(ctx, auditEventMFAFailure, false, userID, "", e.mapMFAError("", userID, err), nil)
}

// mapMFAError converts mfa sentinels; anything else is a backend failure.
func (e *Engine) mapMFAError(op string, userID int64, err error) error {
	switch {
	case errors.Is(err, mfa.ErrCodeInvalid):
		return ErrMFACodeInvalid
	case errors.Is(err, mfa.ErrBackupCodeReused):
		return ErrBackupCodeReused
	case errors.Is(err, mfa.ErrNotEnrolled):
		return ErrMFANotEnrolled
	case errors.Is(err, mfa.ErrAlreadyEnabled):
		return ErrMFAAlreadyEnabled
	case op == "":
		return ErrInternal
	default:
		return e.internalError(op, err, zap.Int64("user_id", userID))
	}
}

func (e *Engine) mapChallengeError(ctx context.Context, userID int64, err error) error {
	switch {
	case errors.Is(err, mfa.ErrChallengeExceeded):
		e.metricInc(MetricMFAChallengeExhausted)
		e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, userID, "", ErrMFAChallengeInvalid, nil)
		return ErrMFAChallengeInvalid
	case errors.Is(err, mfa.ErrChallengeNotFound), errors.Is(err, mfa.ErrChallengeExpired):
		return ErrMFAChallengeInvalid
	default:
		return e.internalError("mfa challenge", err, zap.Int64("user_id", userID))
	}
}
