package authlab

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventSessionExpired       = "session_expired"
	auditEventLogoutSession        = "logout_session"
	auditEventLogoutAll            = "logout_all"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventMFASetupRequested    = "mfa_setup_requested"
	auditEventMFAEnabled           = "mfa_enabled"
	auditEventMFADisabled          = "mfa_disabled"
	auditEventMFARequired          = "mfa_required"
	auditEventMFASuccess           = "mfa_success"
	auditEventMFAFailure           = "mfa_failure"
	auditEventMFAAttemptsExceeded  = "mfa_attempts_exceeded"
	auditEventBackupCodeUsed       = "backup_code_used"
	auditEventBackupCodeFailed     = "backup_code_failed"
	auditEventOAuthLogin           = "oauth_login"
)

// AuditErrorCode is the coarse error class recorded on failed events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrSessionExpired     AuditErrorCode = "session_expired"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenRevoked       AuditErrorCode = "token_revoked"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrMFAInvalid         AuditErrorCode = "mfa_invalid"
	auditErrBackupCodeReused   AuditErrorCode = "backup_code_reused"
	auditErrMFANotEnrolled     AuditErrorCode = "mfa_not_enrolled"
	auditErrMFAChallenge       AuditErrorCode = "mfa_challenge_invalid"
	auditErrOAuth              AuditErrorCode = "oauth_error"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID int64,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.config.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrBackupCodeReused):
		return auditErrBackupCodeReused
	case errors.Is(err, ErrMFACodeInvalid):
		return auditErrMFAInvalid
	case errors.Is(err, ErrMFANotEnrolled):
		return auditErrMFANotEnrolled
	case errors.Is(err, ErrMFAChallengeInvalid):
		return auditErrMFAChallenge
	case isOAuthError(err):
		return auditErrOAuth
	default:
		return auditErrInternal
	}
}
