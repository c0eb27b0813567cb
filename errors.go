package authlab

import (
	"errors"

	"github.com/MrEthical07/authlab/oauth"
)

var (
	// ErrInvalidCredentials covers both an unknown login and a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionNotFound is returned for unknown or destroyed session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned once for a session found past its expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrLoginRequired is the outward form of both session errors.
	ErrLoginRequired = errors.New("please log in again")
	// ErrTokenInvalid covers malformed tokens, bad signatures and wrong algorithms.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is recoverable through the refresh flow.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked means a rotation or logout superseded the token.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrRefreshReuse is returned when a rotated refresh token is presented
	// again; the user's remaining tokens are revoked. It matches ErrTokenRevoked.
	ErrRefreshReuse = refreshReuseError{}
	// ErrMFARequired is reported through LoginResult, never returned by Login.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFACodeInvalid is recoverable; the user may retry.
	ErrMFACodeInvalid = errors.New("invalid mfa code")
	// ErrBackupCodeReused is fatal for that code only.
	ErrBackupCodeReused = errors.New("backup code already used")
	// ErrMFANotEnrolled is returned for MFA operations on users without an enrollment.
	ErrMFANotEnrolled = errors.New("mfa not enrolled")
	// ErrMFAAlreadyEnabled is returned by BeginMFASetup once MFA is active.
	ErrMFAAlreadyEnabled = errors.New("mfa already enabled")
	// ErrMFAChallengeInvalid covers unknown, expired, consumed and exhausted challenges.
	ErrMFAChallengeInvalid = errors.New("mfa challenge invalid")
	// ErrInternal is the outward form of every backend failure.
	ErrInternal = errors.New("internal error")
	// ErrEngineNotReady is returned by methods on a nil Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

type refreshReuseError struct{}

func (refreshReuseError) Error() string { return "refresh token reuse detected" }

func (refreshReuseError) Is(target error) bool { return target == ErrTokenRevoked }

// Public collapses err into what may be shown to a caller. Session errors
// become ErrLoginRequired, token errors keep only their class, OAuth errors
// keep their protocol code and everything unrecognized becomes ErrInternal.
func Public(err error) error {
	var oe *oauth.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &oe):
		if oe.Code == oauth.CodeServerError {
			return ErrInternal
		}
		return &oauth.Error{Code: oe.Code, Description: oe.Description}
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired):
		return ErrLoginRequired
	case errors.Is(err, ErrRefreshReuse), errors.Is(err, ErrTokenRevoked):
		return ErrTokenRevoked
	case errors.Is(err, ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return ErrTokenInvalid
	}
	for _, known := range []error{
		ErrInvalidCredentials,
		ErrLoginRequired,
		ErrMFARequired,
		ErrMFACodeInvalid,
		ErrBackupCodeReused,
		ErrMFANotEnrolled,
		ErrMFAAlreadyEnabled,
		ErrMFAChallengeInvalid,
		ErrEngineNotReady,
	} {
		if errors.Is(err, known) {
			return known
		}
	}
	return ErrInternal
}
