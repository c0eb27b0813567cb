package authlab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authlab/credential"
	"github.com/MrEthical07/authlab/internal"
	"github.com/MrEthical07/authlab/jwt"
	"github.com/MrEthical07/authlab/mfa"
	"github.com/MrEthical07/authlab/oauth"
	"github.com/MrEthical07/authlab/password"
	"github.com/MrEthical07/authlab/session"
	"github.com/MrEthical07/authlab/token"
	"go.uber.org/zap"
)

// Engine orchestrates credential checks, sessions, tokens, MFA and the
// OAuth provider. It is safe for concurrent use.
type Engine struct {
	config     Config
	logger     *zap.Logger
	users      credential.Store
	hasher     *password.Multi
	sessions   *session.Manager
	tokens     *token.Service
	mfa        *mfa.Service
	challenges mfa.ChallengeStore
	provider   *oauth.Provider
	audit      *auditDispatcher
	metrics    *Metrics
}

// Close flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped counts audit events dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Provider exposes the mock OAuth authorization server.
func (e *Engine) Provider() *oauth.Provider {
	return e.provider
}

// Sessions exposes the session manager.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Tokens exposes the token service.
func (e *Engine) Tokens() *token.Service {
	return e.tokens
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// internalError logs a backend failure and returns it wrapped in ErrInternal.
func (e *Engine) internalError(op string, err error, fields ...zap.Field) error {
	e.metricInc(MetricInternalError)
	e.logger.Error(op+" failed", append(fields, zap.Error(err))...)
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
}

/*
====================================
LOGIN
====================================
*/

// Login checks a username or email and password. On success it regenerates
// the session or issues a token pair per req.Flow; a user with MFA enabled
// instead gets a pending challenge to finish with CompleteMFALogin.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if req.Flow == "" {
		req.Flow = FlowSession
	}
	if !req.Flow.valid() {
		return nil, fmt.Errorf("unknown login flow %q", req.Flow)
	}

	user, err := e.checkPassword(ctx, req.Identifier, req.Password)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, 0, "", err, nil)
		return nil, err
	}

	state, err := e.mfa.Status(ctx, user.ID)
	if err != nil {
		return nil, e.internalError("mfa status", err, zap.Int64("user_id", user.ID))
	}
	if state == mfa.StateEnabled {
		return e.beginMFALogin(ctx, user, req)
	}

	return e.finishLogin(ctx, user, req.Flow, req.PriorSessionID)
}

// checkPassword returns ErrInvalidCredentials for both an unknown login and
// a wrong password, spending one full hash verification either way.
func (e *Engine) checkPassword(ctx context.Context, identifier, plaintext string) (credential.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || plaintext == "" {
		e.hasher.VerifyDummy(plaintext)
		return credential.User{}, ErrInvalidCredentials
	}

	user, err := e.users.FindUserByLogin(ctx, identifier)
	if errors.Is(err, credential.ErrUserNotFound) {
		e.hasher.VerifyDummy(plaintext)
		return credential.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return credential.User{}, e.internalError("find user", err)
	}

	ok, err := e.hasher.Verify(plaintext, user.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrPasswordTooLong) {
		e.logger.Error("stored password hash unusable", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	if !ok {
		return credential.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (e *Engine) finishLogin(ctx context.Context, user credential.User, flow Flow, priorSessionID string) (*LoginResult, error) {
	res := &LoginResult{UserID: user.ID, Flow: flow}

	switch flow {
	case FlowSession:
		s, err := e.sessions.Regenerate(ctx, priorSessionID, user.ID)
		if err != nil {
			return nil, e.internalError("create session", err, zap.Int64("user_id", user.ID))
		}
		e.metricInc(MetricSessionCreated)
		res.Session = s
	case FlowToken:
		pair, err := e.tokens.IssuePair(ctx, identityOf(user))
		if err != nil {
			return nil, e.internalError("issue tokens", err, zap.Int64("user_id", user.ID))
		}
		e.metricInc(MetricTokenIssued)
		res.Tokens = e.tokenPair(pair)
	}

	e.metricInc(MetricLoginSuccess)
	sid := ""
	if res.Session != nil {
		sid = res.Session.SessionID
	}
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, sid, nil, func() map[string]string {
		return map[string]string{"flow": string(flow)}
	})
	return res, nil
}

func (e *Engine) tokenPair(p token.Pair) *TokenPair {
	return &TokenPair{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int(e.tokens.AccessTTL() / time.Second),
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

/*
====================================
VALIDATION
====================================
*/

// ValidateSession resolves a session cookie, recording activity. The role
// is read from the user record.
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()

	s, err := e.sessions.Validate(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		e.metricInc(MetricSessionRejected)
		return nil, ErrSessionNotFound
	case errors.Is(err, session.ErrExpired):
		e.metricInc(MetricSessionExpired)
		e.emitAudit(ctx, auditEventSessionExpired, false, 0, "", ErrSessionExpired, nil)
		return nil, ErrSessionExpired
	case err != nil:
		return nil, e.internalError("validate session", err)
	}

	user, err := e.users.FindUserByID(ctx, s.UserID)
	if errors.Is(err, credential.ErrUserNotFound) {
		_ = e.sessions.Destroy(ctx, s.SessionID)
		e.metricInc(MetricSessionRejected)
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, e.internalError("find user", err, zap.Int64("user_id", s.UserID))
	}

	e.metricInc(MetricSessionValidated)
	res := authResultOf(user)
	res.SessionID = s.SessionID
	return res, nil
}

// ValidateAccess verifies an access token against its signature, expiry and
// revocation record. Claims are not trusted for authorization; the role
// comes from the user record.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()

	v, err := e.tokens.Verify(ctx, accessToken, jwt.TypeAccess)
	if err != nil {
		return nil, e.internalError("verify access token", err)
	}
	if !v.Valid {
		e.metricInc(MetricAccessRejected)
		return nil, mapTokenError(v.Err())
	}
	uid, err := v.UserID()
	if err != nil {
		e.metricInc(MetricAccessRejected)
		return nil, ErrTokenInvalid
	}

	user, err := e.users.FindUserByID(ctx, uid)
	if errors.Is(err, credential.ErrUserNotFound) {
		e.metricInc(MetricAccessRejected)
		return nil, ErrTokenRevoked
	}
	if err != nil {
		return nil, e.internalError("find user", err, zap.Int64("user_id", uid))
	}

	e.metricInc(MetricAccessValidated)
	res := authResultOf(user)
	res.TokenID = v.Claims.ID
	return res, nil
}

func authResultOf(u credential.User) *AuthResult {
	return &AuthResult{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
	}
}

// mapTokenError converts token package sentinels into engine errors.
func mapTokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrRevoked):
		return ErrTokenRevoked
	case errors.Is(err, token.ErrMalformed), errors.Is(err, token.ErrBadSignature):
		return ErrTokenInvalid
	default:
		return err
	}
}

/*
====================================
REFRESH & LOGOUT
====================================
*/

// Refresh rotates a refresh token into a new pair. The presented token is
// revoked in the same store operation. Presenting an already rotated token
// returns ErrRefreshReuse and revokes all of the user's tokens.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	pair, err := e.tokens.RotateRefresh(ctx, refreshToken)
	if err == nil {
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, 0, "", nil, nil)
		return e.tokenPair(pair), nil
	}

	var reuse *token.RotateError
	if errors.As(err, &reuse) {
		e.metricInc(MetricRefreshReuseDetected)
		e.logger.Warn("refresh token reuse detected",
			zap.Int64("user_id", reuse.UserID),
			zap.Int("tokens_revoked", reuse.FamilyRevoked),
		)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, reuse.UserID, "", ErrRefreshReuse, func() map[string]string {
			return map[string]string{"tokens_revoked": fmt.Sprint(reuse.FamilyRevoked)}
		})
		return nil, ErrRefreshReuse
	}

	mapped := mapTokenError(err)
	if mapped == err {
		e.metricInc(MetricRefreshFailure)
		return nil, e.internalError("rotate refresh token", err)
	}
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, 0, "", mapped, nil)
	return nil, mapped
}

// Logout destroys a session. Unknown ids are not an error.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if _, err := internal.ParseSessionID(sessionID); err != nil {
		return nil
	}
	if err := e.sessions.Destroy(ctx, sessionID); err != nil {
		return e.internalError("destroy session", err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, 0, sessionID, nil, nil)
	return nil
}

// LogoutTokens revokes an access token and its refresh token. Tokens that
// no longer verify are ignored.
func (e *Engine) LogoutTokens(ctx context.Context, accessToken, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	for _, tok := range []string{accessToken, refreshToken} {
		if tok == "" {
			continue
		}
		if err := e.tokens.Revoke(ctx, tok); err != nil {
			return e.internalError("revoke token", err)
		}
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, 0, "", nil, func() map[string]string {
		return map[string]string{"flow": string(FlowToken)}
	})
	return nil
}

// LogoutAll ends every session and revokes every token of userID.
func (e *Engine) LogoutAll(ctx context.Context, userID int64) error {
	if e == nil {
		return ErrEngineNotReady
	}
	sessions, err := e.sessions.DestroyAllForUser(ctx, userID)
	if err != nil {
		return e.internalError("destroy sessions", err, zap.Int64("user_id", userID))
	}
	tokens, err := e.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return e.internalError("revoke tokens", err, zap.Int64("user_id", userID))
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"sessions": fmt.Sprint(sessions),
			"tokens":   fmt.Sprint(tokens),
		}
	})
	return nil
}

func isOAuthError(err error) bool {
	var oe *oauth.Error
	return errors.As(err, &oe)
}
