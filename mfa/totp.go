package mfa

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// Period is the RFC 6238 time step.
	Period = 30
	// Digits is the code length.
	Digits = 6
	// MaxSkew bounds the accepted drift in steps either side of now.
	MaxSkew = 1

	secretSize = 20
)

// Secret is the provisioning material shown once during setup.
type Secret struct {
	Secret      string
	QRPayload   string
	ManualEntry string
}

// Generator creates and checks TOTP codes for a fixed issuer.
type Generator struct {
	issuer string
	skew   int
}

// NewGenerator returns a SHA1, 6 digit, 30 second generator. skew is clamped
// to [0, MaxSkew].
func NewGenerator(issuer string, skew int) *Generator {
	if issuer == "" {
		issuer = "authlab"
	}
	if skew < 0 {
		skew = 0
	}
	if skew > MaxSkew {
		skew = MaxSkew
	}
	return &Generator{issuer: issuer, skew: skew}
}

// GenerateSecret creates a fresh 160-bit secret for accountLabel.
func (g *Generator) GenerateSecret(accountLabel string) (Secret, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      g.issuer,
		AccountName: accountLabel,
		Period:      Period,
		SecretSize:  secretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Secret{}, err
	}
	return Secret{
		Secret:      key.Secret(),
		QRPayload:   key.URL(),
		ManualEntry: groupSecret(key.Secret()),
	}, nil
}

// Code returns the code for the step containing t.
func (g *Generator) Code(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, totp.ValidateOpts{
		Period:    Period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// Verify checks code against the steps around now and returns the matching
// step. Every candidate step is compared in constant time.
func (g *Generator) Verify(secret, code string, now time.Time) (bool, int64) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != Digits || !isNumeric(trimmed) || secret == "" {
		return false, 0
	}

	base := now.Unix() / Period
	matched := int64(-1)
	for step := -g.skew; step <= g.skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := g.Code(secret, time.Unix(counter*Period, 0))
		if err != nil {
			return false, 0
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 && matched < 0 {
			matched = counter
		}
	}
	if matched < 0 {
		return false, 0
	}
	return true, matched
}

func groupSecret(secret string) string {
	var b strings.Builder
	for i, r := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
