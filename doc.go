// Package authlab is a teaching authentication engine covering server-side
// sessions, HS256 access tokens with rotating refresh tokens, TOTP
// second-factor login and a mock OAuth 2.0 authorization server.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authlab is the public surface. It exposes [Engine], [Builder], [Config] and
// value types such as [LoginResult] and [AuthResult]. Storage, wire formats
// and protocol state live in the session, token, mfa and oauth packages;
// every store has an in-memory and a Redis implementation.
//
// # Errors
//
// Engine methods return the sentinels in errors.go. Backend failures are
// logged and wrapped in [ErrInternal]. [Public] reduces any error to what a
// client may see.
//
// # What this package must NOT do
//
//   - Trust role or identity claims from a token without re-reading the user.
//   - Store raw session, refresh or authorization code values as Redis keys.
//   - Import any sub-package that re-imports authlab (no import cycles).
package authlab
