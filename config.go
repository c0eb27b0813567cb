package authlab

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authlab/mfa"
	"github.com/MrEthical07/authlab/oauth"
	"github.com/MrEthical07/authlab/session"
	"github.com/MrEthical07/authlab/token"
	"golang.org/x/crypto/bcrypt"
)

// Config holds every engine setting. It is copied by Builder.Build and
// treated as immutable afterwards.
type Config struct {
	Session  SessionConfig
	Token    TokenConfig
	TOTP     TOTPConfig
	OAuth    OAuthConfig
	Password PasswordConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	// Now overrides the clock used for every expiry decision.
	Now func() time.Time
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls server-side sessions.
type SessionConfig struct {
	Lifetime    time.Duration
	RedisPrefix string
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls HS256 access and refresh tokens.
type TokenConfig struct {
	Secret     []byte
	Issuer     string
	KeyID      string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
	// Retention keeps revoked records in Redis past their expiry.
	Retention   time.Duration
	RedisPrefix string
}

// TOTPConfig controls MFA enrollment and pending login challenges.
type TOTPConfig struct {
	Issuer               string
	Skew                 int
	BackupCodeCost       int
	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int
	RedisPrefix          string
}

// OAuthConfig controls the mock provider and the application's own client
// registration used by LoginWithOAuth.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        string
	CodeTTL      time.Duration
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	RedisPrefix  string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters. Stored bcrypt hashes are
// verified regardless; BcryptCost applies only when Scheme is "bcrypt".
type PasswordConfig struct {
	Scheme      string // "argon2id" (default) or "bcrypt"
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	BcryptCost  int
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns development defaults. Token.Secret is left empty
// and must be set before Build.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			Lifetime:    session.DefaultLifetime,
			RedisPrefix: "as",
		},
		Token: TokenConfig{
			Issuer:      "authlab",
			AccessTTL:   token.DefaultAccessTTL,
			RefreshTTL:  token.DefaultRefreshTTL,
			Retention:   token.DefaultRetention,
			RedisPrefix: "at",
		},
		TOTP: TOTPConfig{
			Issuer:               "authlab",
			Skew:                 mfa.MaxSkew,
			BackupCodeCost:       10,
			ChallengeTTL:         mfa.DefaultChallengeTTL,
			ChallengeMaxAttempts: mfa.DefaultChallengeMaxAttempts,
			RedisPrefix:          "am",
		},
		OAuth: OAuthConfig{
			ClientID:     "authlab-app",
			ClientSecret: "authlab-app-secret",
			RedirectURI:  "http://localhost:8080/oauth/callback",
			Scope:        "profile email",
			CodeTTL:      oauth.DefaultCodeTTL,
			AccessTTL:    oauth.DefaultAccessTTL,
			RefreshTTL:   oauth.DefaultRefreshTTL,
			RedisPrefix:  "ao",
		},
		Password: PasswordConfig{
			Scheme:      "argon2id",
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			BcryptCost:  12,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	// Session
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}

	// Token
	if len(c.Token.Secret) < 32 {
		return errors.New("Token Secret must be at least 32 bytes")
	}
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must exceed AccessTTL")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}

	// TOTP
	if c.TOTP.Issuer == "" || strings.Contains(c.TOTP.Issuer, ":") {
		return errors.New("TOTP Issuer must be set and must not contain ':'")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > mfa.MaxSkew {
		return fmt.Errorf("TOTP Skew must be between 0 and %d", mfa.MaxSkew)
	}
	if c.TOTP.BackupCodeCost != 0 && (c.TOTP.BackupCodeCost < bcrypt.MinCost || c.TOTP.BackupCodeCost > bcrypt.MaxCost) {
		return errors.New("TOTP BackupCodeCost is out of bcrypt range")
	}
	if c.TOTP.ChallengeTTL <= 0 {
		return errors.New("TOTP ChallengeTTL must be > 0")
	}
	if c.TOTP.ChallengeMaxAttempts <= 0 || c.TOTP.ChallengeMaxAttempts > 65535 {
		return errors.New("TOTP ChallengeMaxAttempts must be between 1 and 65535")
	}

	// OAuth
	if c.OAuth.ClientID == "" || c.OAuth.RedirectURI == "" {
		return errors.New("OAuth ClientID and RedirectURI are required")
	}
	if c.OAuth.CodeTTL <= 0 || c.OAuth.AccessTTL <= 0 || c.OAuth.RefreshTTL <= 0 {
		return errors.New("OAuth TTLs must be > 0")
	}

	// Password
	switch c.Password.Scheme {
	case "argon2id", "bcrypt":
	default:
		return errors.New("Password Scheme must be 'argon2id' or 'bcrypt'")
	}
	if c.Password.Scheme == "bcrypt" && (c.Password.BcryptCost < bcrypt.MinCost || c.Password.BcryptCost > bcrypt.MaxCost) {
		return errors.New("Password BcryptCost is out of bcrypt range")
	}
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}
