package oauth

import (
	"errors"
	"fmt"
)

// Error codes from RFC 6749 §4.1.2.1, §5.2 and RFC 6750 §3.1.
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeInvalidToken            = "invalid_token"
	CodeServerError             = "server_error"
)

// Reasons refine CodeInvalidGrant and CodeInvalidToken for logs and tests.
const (
	ReasonCodeInvalid      = "code_invalid"
	ReasonCodeExpired      = "code_expired"
	ReasonCodeAlreadyUsed  = "code_already_used"
	ReasonClientMismatch   = "client_mismatch"
	ReasonRedirectMismatch = "redirect_mismatch"
	ReasonTokenInvalid     = "token_invalid"
	ReasonTokenExpired     = "token_expired"
	ReasonTokenRevoked     = "token_revoked"
)

// Error is an OAuth protocol error. Reason is internal detail; only
// Code and Description go on the wire.
type Error struct {
	Code        string
	Reason      string
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("oauth: %s (%s)", e.Code, e.Reason)
	}
	return "oauth: " + e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Code, and by Reason when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Reason == "" || t.Reason == e.Reason)
}

// Sentinels for errors.Is checks.
var (
	ErrCodeReused     = &Error{Code: CodeInvalidGrant, Reason: ReasonCodeAlreadyUsed}
	ErrCodeExpired    = &Error{Code: CodeInvalidGrant, Reason: ReasonCodeExpired}
	ErrClientMismatch = &Error{Code: CodeInvalidGrant, Reason: ReasonClientMismatch}
)

func invalidRequest(desc string) *Error {
	return &Error{Code: CodeInvalidRequest, Description: desc}
}

func invalidClient() *Error {
	return &Error{Code: CodeInvalidClient, Description: "client authentication failed"}
}

func invalidGrant(reason string) *Error {
	desc := "the provided grant is invalid"
	if reason == ReasonCodeAlreadyUsed {
		desc = "authorization code already used"
	}
	return &Error{Code: CodeInvalidGrant, Reason: reason, Description: desc}
}

func invalidToken(reason string) *Error {
	return &Error{Code: CodeInvalidToken, Reason: reason, Description: "the access token is invalid"}
}

func serverError(err error) *Error {
	return &Error{Code: CodeServerError, Description: "internal error", Err: err}
}

// AsError converts any error into an *Error, mapping unknown ones to
// server_error.
func AsError(err error) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return serverError(err)
}
