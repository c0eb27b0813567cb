package oauth

import (
	"net/url"
	"strings"
)

const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// Grant is the closed set of token grants the provider accepts. The
// unexported method keeps other packages from adding variants.
type Grant interface {
	grantType() string
}

// AuthorizationCodeGrant exchanges a code (RFC 6749 §4.1.3).
type AuthorizationCodeGrant struct {
	Code        string
	RedirectURI string
}

// RefreshTokenGrant mints a new access token (RFC 6749 §6).
type RefreshTokenGrant struct {
	RefreshToken string
}

func (AuthorizationCodeGrant) grantType() string { return GrantTypeAuthorizationCode }
func (RefreshTokenGrant) grantType() string      { return GrantTypeRefreshToken }

// ParseGrant converts token endpoint form values into a Grant.
func ParseGrant(form url.Values) (Grant, error) {
	switch strings.TrimSpace(form.Get("grant_type")) {
	case GrantTypeAuthorizationCode:
		code := strings.TrimSpace(form.Get("code"))
		if code == "" {
			return nil, invalidRequest("code is required")
		}
		return AuthorizationCodeGrant{Code: code, RedirectURI: form.Get("redirect_uri")}, nil
	case GrantTypeRefreshToken:
		rt := strings.TrimSpace(form.Get("refresh_token"))
		if rt == "" {
			return nil, invalidRequest("refresh_token is required")
		}
		return RefreshTokenGrant{RefreshToken: rt}, nil
	case "":
		return nil, invalidRequest("grant_type is required")
	default:
		return nil, &Error{Code: CodeUnsupportedGrantType, Description: "grant type not supported"}
	}
}
