package oauth

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authlab/internal"
	"go.uber.org/zap"
)

const (
	DefaultCodeTTL    = 5 * time.Minute
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour

	tokenTypeBearer = "Bearer"
)

// AuthorizeRequest is the authorization endpoint input. UserID is the
// already authenticated resource owner.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
	UserID       int64
}

// AuthorizeResponse carries the minted code and the redirect to send the
// user agent to.
type AuthorizeResponse struct {
	Code        string
	State       string
	RedirectURL string
}

// TokenResponse is the token endpoint success body (RFC 6749 §5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenRequest is a parsed token endpoint call.
type TokenRequest struct {
	Grant        Grant
	ClientID     string
	ClientSecret string
}

// Profile is the userinfo response.
type Profile struct {
	Subject           string `json:"sub"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Picture           string `json:"picture,omitempty"`
}

// ProfileSource resolves the profile of a user id.
type ProfileSource interface {
	Profile(ctx context.Context, userID int64) (Profile, error)
}

// ProfileFunc adapts a function to ProfileSource.
type ProfileFunc func(ctx context.Context, userID int64) (Profile, error)

func (f ProfileFunc) Profile(ctx context.Context, userID int64) (Profile, error) {
	return f(ctx, userID)
}

// MockProfiles returns a deterministic profile for any user id.
func MockProfiles() ProfileSource {
	return ProfileFunc(func(_ context.Context, userID int64) (Profile, error) {
		id := strconv.FormatInt(userID, 10)
		return Profile{
			Subject:           id,
			Name:              "OAuth User " + id,
			PreferredUsername: "oauth-user-" + id,
			Email:             "oauth-user-" + id + "@provider.authlab.local",
			EmailVerified:     true,
		}, nil
	})
}

// ProviderConfig wires a Provider.
type ProviderConfig struct {
	Clients    *Registry
	Codes      CodeStore
	Tokens     TokenStore
	Profiles   ProfileSource
	CodeTTL    time.Duration
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Logger     *zap.Logger
	Now        func() time.Time
}

// Provider is a mock OAuth 2.0 authorization server.
type Provider struct {
	clients    *Registry
	codes      CodeStore
	tokens     TokenStore
	profiles   ProfileSource
	codeTTL    time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewProvider fills defaults and returns a Provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Clients == nil {
		return nil, errors.New("oauth: client registry is required")
	}
	if cfg.Codes == nil {
		cfg.Codes = NewMemoryCodeStore()
	}
	if cfg.Tokens == nil {
		cfg.Tokens = NewMemoryTokenStore()
	}
	if cfg.Profiles == nil {
		cfg.Profiles = MockProfiles()
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Provider{
		clients:    cfg.Clients,
		codes:      cfg.Codes,
		tokens:     cfg.Tokens,
		profiles:   cfg.Profiles,
		codeTTL:    cfg.CodeTTL,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}, nil
}

// Authorize mints a single-use code bound to the request tuple.
func (p *Provider) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResponse, error) {
	if req.ClientID == "" || req.RedirectURI == "" {
		return AuthorizeResponse{}, invalidRequest("client_id and redirect_uri are required")
	}
	client, ok := p.clients.Lookup(req.ClientID)
	if !ok {
		return AuthorizeResponse{}, &Error{Code: CodeInvalidClient, Description: "unknown client"}
	}
	if !client.allowsRedirect(req.RedirectURI) {
		return AuthorizeResponse{}, invalidRequest("redirect_uri is not registered for this client")
	}
	if req.ResponseType != "code" {
		return AuthorizeResponse{}, &Error{Code: CodeUnsupportedResponseType, Description: "only response_type=code is supported"}
	}
	if req.UserID <= 0 {
		return AuthorizeResponse{}, invalidRequest("resource owner is not authenticated")
	}

	code, err := internal.NewOpaqueToken()
	if err != nil {
		return AuthorizeResponse{}, serverError(err)
	}
	now := p.now().UTC()
	err = p.codes.Save(ctx, AuthorizationCode{
		Hash:        internal.HashTokenString(code),
		ClientID:    req.ClientID,
		RedirectURI: req.RedirectURI,
		Scope:       normalizeScope(req.Scope),
		UserID:      req.UserID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(p.codeTTL),
	})
	if err != nil {
		return AuthorizeResponse{}, serverError(err)
	}

	redirect, err := withQuery(req.RedirectURI, url.Values{"code": {code}}, req.State)
	if err != nil {
		return AuthorizeResponse{}, invalidRequest("redirect_uri is malformed")
	}
	return AuthorizeResponse{Code: code, State: req.State, RedirectURL: redirect}, nil
}

// ExchangeCode redeems an authorization code for a provider token pair.
// redirectURI may be empty to skip the redirect check.
func (p *Provider) ExchangeCode(ctx context.Context, code, clientID, clientSecret, redirectURI string) (TokenResponse, error) {
	if code == "" || clientID == "" {
		return TokenResponse{}, invalidRequest("code and client_id are required")
	}
	client, ok := p.clients.Lookup(clientID)
	if !ok || !client.authenticate(clientSecret) {
		return TokenResponse{}, invalidClient()
	}

	codeHash := internal.HashTokenString(code)
	now := p.now().UTC()
	grant, err := p.codes.Consume(ctx, codeHash, clientID, redirectURI, now)
	switch {
	case errors.Is(err, errCodeNotFound):
		return TokenResponse{}, invalidGrant(ReasonCodeInvalid)
	case errors.Is(err, errCodeExpired):
		return TokenResponse{}, invalidGrant(ReasonCodeExpired)
	case errors.Is(err, errCodeConsumed):
		p.revokeCodeTokens(ctx, grant)
		return TokenResponse{}, invalidGrant(ReasonCodeAlreadyUsed)
	case errors.Is(err, errClientMismatch):
		return TokenResponse{}, invalidGrant(ReasonClientMismatch)
	case errors.Is(err, errRedirectMismatch):
		return TokenResponse{}, invalidGrant(ReasonRedirectMismatch)
	case err != nil:
		return TokenResponse{}, serverError(err)
	}

	access, accessTok, err := p.mint(KindAccess, grant.ClientID, grant.UserID, grant.Scope, codeHash, now)
	if err != nil {
		return TokenResponse{}, serverError(err)
	}
	refresh, refreshTok, err := p.mint(KindRefresh, grant.ClientID, grant.UserID, grant.Scope, codeHash, now)
	if err != nil {
		return TokenResponse{}, serverError(err)
	}
	if err := p.tokens.Put(ctx, accessTok, refreshTok); err != nil {
		return TokenResponse{}, serverError(err)
	}

	return TokenResponse{
		AccessToken:  access,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int(p.accessTTL / time.Second),
		RefreshToken: refresh,
		Scope:        grant.Scope,
	}, nil
}

func (p *Provider) revokeCodeTokens(ctx context.Context, grant AuthorizationCode) {
	n, err := p.tokens.RevokeByCode(ctx, grant.Hash)
	if err != nil {
		p.logger.Error("revoke tokens for reused code", zap.String("client_id", grant.ClientID), zap.Error(err))
		return
	}
	p.logger.Warn("authorization code reused",
		zap.String("client_id", grant.ClientID),
		zap.Int64("user_id", grant.UserID),
		zap.Int("tokens_revoked", n),
	)
}

// RefreshAccessToken issues a new access token for the refresh token's user.
// The refresh token is returned to the caller unchanged, not rotated.
func (p *Provider) RefreshAccessToken(ctx context.Context, refreshToken string) (TokenResponse, error) {
	if refreshToken == "" {
		return TokenResponse{}, invalidRequest("refresh_token is required")
	}
	now := p.now().UTC()
	rec, err := p.lookup(ctx, refreshToken, KindRefresh, now)
	if err != nil {
		if oe := AsError(err); oe.Code == CodeInvalidToken {
			return TokenResponse{}, invalidGrant(oe.Reason)
		}
		return TokenResponse{}, err
	}

	access, accessTok, err := p.mint(KindAccess, rec.ClientID, rec.UserID, rec.Scope, rec.CodeHash, now)
	if err != nil {
		return TokenResponse{}, serverError(err)
	}
	if err := p.tokens.Put(ctx, accessTok); err != nil {
		return TokenResponse{}, serverError(err)
	}
	return TokenResponse{
		AccessToken: access,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int(p.accessTTL / time.Second),
		Scope:       rec.Scope,
	}, nil
}

// GetUserInfo returns the profile bound to a provider access token.
func (p *Provider) GetUserInfo(ctx context.Context, accessToken string) (Profile, error) {
	rec, err := p.lookup(ctx, accessToken, KindAccess, p.now().UTC())
	if err != nil {
		return Profile{}, err
	}
	profile, err := p.profiles.Profile(ctx, rec.UserID)
	if err != nil {
		return Profile{}, serverError(err)
	}
	return profile, nil
}

// Token dispatches a token endpoint request on its grant variant.
func (p *Provider) Token(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	switch g := req.Grant.(type) {
	case AuthorizationCodeGrant:
		return p.ExchangeCode(ctx, g.Code, req.ClientID, req.ClientSecret, g.RedirectURI)
	case RefreshTokenGrant:
		return p.RefreshAccessToken(ctx, g.RefreshToken)
	case nil:
		return TokenResponse{}, invalidRequest("grant_type is required")
	default:
		return TokenResponse{}, &Error{Code: CodeUnsupportedGrantType, Description: "grant type not supported"}
	}
}

func (p *Provider) lookup(ctx context.Context, value string, kind TokenKind, now time.Time) (IssuedToken, error) {
	if value == "" {
		return IssuedToken{}, invalidToken(ReasonTokenInvalid)
	}
	rec, err := p.tokens.Get(ctx, internal.HashTokenString(value))
	switch {
	case errors.Is(err, errTokenNotFound):
		return IssuedToken{}, invalidToken(ReasonTokenInvalid)
	case err != nil:
		return IssuedToken{}, serverError(err)
	case rec.Kind != kind:
		return IssuedToken{}, invalidToken(ReasonTokenInvalid)
	case rec.Revoked:
		return IssuedToken{}, invalidToken(ReasonTokenRevoked)
	case now.After(rec.ExpiresAt):
		return IssuedToken{}, invalidToken(ReasonTokenExpired)
	}
	return rec, nil
}

func (p *Provider) mint(kind TokenKind, clientID string, userID int64, scope, codeHash string, now time.Time) (string, IssuedToken, error) {
	value, err := internal.NewOpaqueToken()
	if err != nil {
		return "", IssuedToken{}, err
	}
	ttl := p.accessTTL
	if kind == KindRefresh {
		ttl = p.refreshTTL
	}
	return value, IssuedToken{
		Hash:      internal.HashTokenString(value),
		Kind:      kind,
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		CodeHash:  codeHash,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func normalizeScope(scope string) string {
	return strings.Join(strings.Fields(scope), " ")
}

func withQuery(base string, params url.Values, state string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
