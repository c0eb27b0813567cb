// Package oauth is a mock OAuth 2.0 authorization server implementing
// the authorization code grant with non-rotating refresh tokens.
//
// Codes are single use. Presenting a code a second time fails with
// invalid_grant and revokes every token previously minted from it.
// Codes, access tokens and refresh tokens are stored by SHA-256 hash
// only; MemoryCodeStore/MemoryTokenStore suit tests and single process
// use, RedisCodeStore/RedisTokenStore share state between instances.
package oauth
