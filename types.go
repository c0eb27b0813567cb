package authlab

import (
	"time"

	"github.com/MrEthical07/authlab/credential"
	"github.com/MrEthical07/authlab/mfa"
	"github.com/MrEthical07/authlab/oauth"
	"github.com/MrEthical07/authlab/session"
)

// Flow selects what a successful login produces.
type Flow string

const (
	// FlowSession issues a server-side session (cookie flow).
	FlowSession Flow = "session"
	// FlowToken issues an access/refresh token pair.
	FlowToken Flow = "token"
)

func (f Flow) valid() bool {
	return f == FlowSession || f == FlowToken
}

// LoginRequest is the input of Engine.Login.
type LoginRequest struct {
	// Identifier is a username or email.
	Identifier string
	Password   string
	Flow       Flow
	// PriorSessionID is the session cookie presented before login, if any.
	// It is destroyed and never reused.
	PriorSessionID string
}

// TokenPair is an access token with its refresh token.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	TokenType        string    `json:"tokenType"`
	ExpiresIn        int       `json:"expiresIn"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// LoginResult is the outcome of a successful password check. Exactly one of
// Session, Tokens or MFAChallenge is set.
type LoginResult struct {
	UserID  int64
	Flow    Flow
	Session *session.Session
	Tokens  *TokenPair

	MFARequired  bool
	MFAChallenge string
	MFAExpiresAt time.Time
}

// AuthResult identifies the caller of an authenticated request. Role comes
// from the user record, never from token claims.
type AuthResult struct {
	UserID    int64
	Username  string
	Email     string
	Role      credential.Role
	SessionID string
	TokenID   string
}

// MFASetup is shown once when setup begins. Backup codes cannot be
// retrieved again.
type MFASetup struct {
	Secret      string   `json:"secret"`
	QRPayload   string   `json:"qrPayload"`
	ManualEntry string   `json:"manualEntry"`
	BackupCodes []string `json:"backupCodes"`
}

// MFAResult is the outcome of Engine.VerifyMFA.
type MFAResult struct {
	Activated            bool `json:"activated"`
	UsedBackupCode       bool `json:"usedBackupCode"`
	BackupCodesRemaining int  `json:"backupCodesRemaining"`
}

// MFAStatus reports a user's enrollment.
type MFAStatus struct {
	State   mfa.State
	Enabled bool
}

// OAuthLoginRequest drives the application through the provider's code flow
// on behalf of a provider user.
type OAuthLoginRequest struct {
	// ProviderUserID is the resource owner at the provider. It must already
	// be authenticated there; the engine does not check credentials.
	ProviderUserID int64
	State          string
}

// OAuthLoginResult carries the application's own tokens and the provider
// profile they were minted for. When the local account has MFA enabled,
// Tokens is nil and the login continues through CompleteMFALogin.
type OAuthLoginResult struct {
	UserID  int64
	Tokens  *TokenPair
	Profile oauth.Profile

	MFARequired  bool
	MFAChallenge string
	MFAExpiresAt time.Time
}
