package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes access from refresh tokens inside the "typ" claim.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

const minSecretBytes = 32

var (
	// ErrMalformed covers tokens that are not three decodable segments or carry unusable claims.
	ErrMalformed = errors.New("token malformed")
	// ErrBadSignature covers signature mismatches and any algorithm other than HS256, including "none".
	ErrBadSignature = errors.New("token signature invalid")
	// ErrExpired is returned when exp has passed.
	ErrExpired = errors.New("token expired")
)

// Config holds signing parameters.
type Config struct {
	Secret []byte
	Issuer string
	Leeway time.Duration
	KeyID  string
	// Now replaces time.Now for iat/exp evaluation.
	Now func() time.Time
}

// Claims is the payload of every authlab token. Email, Username and Role are
// informational and only set on access tokens.
type Claims struct {
	Type     TokenType `json:"typ"`
	Email    string    `json:"email,omitempty"`
	Username string    `json:"username,omitempty"`
	Role     string    `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and parses HS256 tokens.
//
// Manager is immutable after construction and safe for concurrent use.
type Manager struct {
	config Config
	parser *jwt.Parser
}

// NewManager validates cfg and returns a codec bound to it.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, errors.New("hs256 secret must be at least 32 bytes")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(cfg.Now),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}

	return &Manager{config: cfg, parser: jwt.NewParser(options...)}, nil
}

// Now returns the manager's clock reading.
func (j *Manager) Now() time.Time {
	return j.config.Now()
}

// Sign fills iss when unset and returns the compact serialization of claims.
func (j *Manager) Sign(claims *Claims) (string, error) {
	if claims.Type != TypeAccess && claims.Type != TypeRefresh {
		return "", errors.New("unknown token type")
	}
	if claims.Subject == "" || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return "", errors.New("sub, iat and exp are required")
	}
	if claims.Issuer == "" {
		claims.Issuer = j.config.Issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	return token.SignedString(j.config.Secret)
}

// Parse verifies structure, signature and expiry, in that order, and returns
// the claims. Errors are ErrMalformed, ErrBadSignature or ErrExpired.
func (j *Manager) Parse(tokenStr string) (*Claims, error) {
	if strings.Count(tokenStr, ".") != 2 {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	token, err := j.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrBadSignature
		}
		if j.config.KeyID != "" {
			if kid, _ := t.Header["kid"].(string); kid != j.config.KeyID {
				return nil, ErrBadSignature
			}
		}
		return j.config.Secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, ErrBadSignature):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}
