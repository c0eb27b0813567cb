package authlab

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LintSeverity ranks advisory findings.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintHigh:
		return "HIGH"
	case LintWarn:
		return "WARN"
	default:
		return "INFO"
	}
}

// LintWarning is one advisory finding. Code is stable for programmatic use.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list of findings from Config.Lint.
type LintResult []LintWarning

// Codes returns the finding codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Code
	}
	return out
}

// BySeverity returns findings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError joins findings at or above min into one error, or returns nil.
func (r LintResult) AsError(min LintSeverity) error {
	ws := r.BySeverity(min)
	if len(ws) == 0 {
		return nil
	}
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message)
	}
	return errors.New("config lint: " + strings.Join(parts, "; "))
}

// Lint reports settings that are valid but questionable. It never fails;
// Validate does that.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.Token.Leeway > time.Minute {
		add("leeway_large", LintWarn, "token leeway above one minute extends every expiry")
	}
	if c.Token.AccessTTL > 15*time.Minute {
		add("access_ttl_long", LintWarn, "access tokens live longer than 15 minutes")
	}
	if c.Token.RefreshTTL > 30*24*time.Hour {
		add("refresh_ttl_long", LintWarn, "refresh tokens live longer than 30 days")
	}
	if c.Session.Lifetime > 7*24*time.Hour {
		add("session_lifetime_long", LintWarn, "sessions live longer than 7 days")
	}
	if c.OAuth.CodeTTL > 10*time.Minute {
		add("oauth_code_ttl_long", LintHigh, "authorization codes should live at most 10 minutes")
	}
	if c.OAuth.ClientSecret == "" {
		add("oauth_public_app_client", LintInfo, "the application client has no secret")
	}
	if c.TOTP.Skew == 0 {
		add("totp_no_skew", LintInfo, "TOTP accepts only the current step; clock drift will fail codes")
	}
	if c.TOTP.ChallengeMaxAttempts > 10 {
		add("mfa_attempts_high", LintWarn, "pending MFA logins allow more than 10 attempts")
	}
	if c.Password.Scheme == "argon2id" && c.Password.Memory < 64*1024 {
		add("argon2_memory_low", LintWarn, "argon2id memory below 64 MB")
	}
	if c.Password.Scheme == "bcrypt" && c.Password.BcryptCost < 10 {
		add("bcrypt_cost_low", LintHigh, "bcrypt cost below 10")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "audit events are not emitted")
	}
	return ws
}
