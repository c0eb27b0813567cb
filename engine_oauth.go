package authlab

import (
	"context"
	"errors"

	"github.com/MrEthical07/authlab/credential"
	"github.com/MrEthical07/authlab/mfa"
	"github.com/MrEthical07/authlab/oauth"
	"go.uber.org/zap"
)

// OAuthHandler returns the provider endpoints. users resolves the logged in
// resource owner for /authorize.
func (e *Engine) OAuthHandler(users oauth.UserResolver) *oauth.Handler {
	return oauth.NewHandler(e.provider, users)
}

// LoginWithOAuth runs the authorization code flow against the built-in
// provider as the configured application client, then maps the returned
// profile onto a local account by email and issues application tokens.
func (e *Engine) LoginWithOAuth(ctx context.Context, req OAuthLoginRequest) (*OAuthLoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if req.ProviderUserID <= 0 {
		return nil, e.oauthFailure(ctx, req.ProviderUserID, ErrLoginRequired)
	}
	cfg := e.config.OAuth

	auth, err := e.provider.Authorize(ctx, oauth.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     cfg.ClientID,
		RedirectURI:  cfg.RedirectURI,
		Scope:        cfg.Scope,
		State:        req.State,
		UserID:       req.ProviderUserID,
	})
	if err != nil {
		return nil, e.oauthFailure(ctx, req.ProviderUserID, err)
	}

	tok, err := e.provider.ExchangeCode(ctx, auth.Code, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI)
	if err != nil {
		return nil, e.oauthFailure(ctx, req.ProviderUserID, err)
	}

	profile, err := e.provider.GetUserInfo(ctx, tok.AccessToken)
	if err != nil {
		return nil, e.oauthFailure(ctx, req.ProviderUserID, err)
	}

	user, err := e.users.FindUserByLogin(ctx, profile.Email)
	if errors.Is(err, credential.ErrUserNotFound) {
		return nil, e.oauthFailure(ctx, req.ProviderUserID, ErrInvalidCredentials)
	}
	if err != nil {
		return nil, e.internalError("find user", err)
	}

	// The provider only proves the first factor.
	state, err := e.mfa.Status(ctx, user.ID)
	if err != nil {
		return nil, e.internalError("mfa status", err, zap.Int64("user_id", user.ID))
	}
	if state == mfa.StateEnabled {
		pending, err := e.beginMFALogin(ctx, user, LoginRequest{Flow: FlowToken})
		if err != nil {
			return nil, err
		}
		return &OAuthLoginResult{
			UserID:       user.ID,
			Profile:      profile,
			MFARequired:  true,
			MFAChallenge: pending.MFAChallenge,
			MFAExpiresAt: pending.MFAExpiresAt,
		}, nil
	}

	pair, err := e.tokens.IssuePair(ctx, identityOf(user))
	if err != nil {
		return nil, e.internalError("issue tokens", err, zap.Int64("user_id", user.ID))
	}

	e.metricInc(MetricOAuthLoginSuccess)
	e.metricInc(MetricTokenIssued)
	e.emitAudit(ctx, auditEventOAuthLogin, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"client_id": cfg.ClientID}
	})
	return &OAuthLoginResult{
		UserID:  user.ID,
		Tokens:  e.tokenPair(pair),
		Profile: profile,
	}, nil
}

func (e *Engine) oauthFailure(ctx context.Context, providerUserID int64, err error) error {
	e.metricInc(MetricOAuthLoginFailure)
	var oe *oauth.Error
	if errors.As(err, &oe) && oe.Code == oauth.CodeServerError {
		e.logger.Error("oauth provider failure", zap.Int64("provider_user_id", providerUserID), zap.Error(err))
	}
	e.emitAudit(ctx, auditEventOAuthLogin, false, providerUserID, "", err, nil)
	return err
}
