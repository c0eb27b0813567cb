// Package oauthclient is the application side of the authorization code
// flow against an oauth.Provider served over HTTP.
package oauthclient

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authlab/oauth"
	"golang.org/x/oauth2"
)

const stateTTL = 10 * time.Minute

var (
	ErrStateInvalid = errors.New("oauth state invalid or expired")
	ErrUserInfo     = errors.New("userinfo request failed")
)

// Config points a Client at a provider.
type Config struct {
	// BaseURL is where the provider's /authorize, /token and /userinfo live.
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client
	Now          func() time.Time
}

// Client wraps an oauth2.Config with state tracking and a userinfo call.
type Client struct {
	oauth2Config *oauth2.Config
	userInfoURL  string
	httpClient   *http.Client
	now          func() time.Time

	mu     sync.Mutex
	states map[string]time.Time
}

// New returns a Client for cfg.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("oauthclient: base url, client id and redirect url are required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/authorize",
				TokenURL:  base + "/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		userInfoURL: base + "/userinfo",
		httpClient:  cfg.HTTPClient,
		now:         cfg.Now,
		states:      make(map[string]time.Time),
	}, nil
}

// GenerateState returns a fresh state value valid for ten minutes.
func (c *Client) GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := base64.RawURLEncoding.EncodeToString(b)
	now := c.now()

	c.mu.Lock()
	for s, exp := range c.states {
		if now.After(exp) {
			delete(c.states, s)
		}
	}
	c.states[state] = now.Add(stateTTL)
	c.mu.Unlock()
	return state, nil
}

// ValidateState consumes state. It succeeds at most once per value.
func (c *Client) ValidateState(state string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.states[state]
	if !ok {
		return ErrStateInvalid
	}
	delete(c.states, state)
	if c.now().After(exp) {
		return ErrStateInvalid
	}
	return nil
}

// AuthCodeURL is the URL to send the user agent to.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth2Config.AuthCodeURL(state)
}

func (c *Client) withHTTP(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// Exchange redeems code. Provider errors come back as *oauth2.RetrieveError.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return c.oauth2Config.Exchange(c.withHTTP(ctx), code)
}

// Refresh obtains a new access token from a refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := c.oauth2Config.TokenSource(c.withHTTP(ctx), &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}

// UserInfo fetches the profile of the token's user.
func (c *Client) UserInfo(ctx context.Context, tok *oauth2.Token) (oauth.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return oauth.Profile{}, err
	}
	tok.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return oauth.Profile{}, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return oauth.Profile{}, fmt.Errorf("%w: status %d", ErrUserInfo, resp.StatusCode)
	}

	var profile oauth.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return oauth.Profile{}, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	return profile, nil
}

// ErrorCode extracts the OAuth error code from a token endpoint failure.
func ErrorCode(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re.ErrorCode
	}
	return ""
}
