// Package jwt signs and parses the HS256 tokens used by authlab.
//
// The algorithm is pinned: tokens declaring any other "alg", including
// "none", are rejected before their claims are trusted. Parse failures are
// reduced to three sentinels ([ErrMalformed], [ErrBadSignature],
// [ErrExpired]) so callers can report a reason without leaking parser detail.
package jwt
