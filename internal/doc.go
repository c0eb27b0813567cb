// Package internal contains helper utilities that are intentionally private to authlab,
// chiefly secure random generation for session ids, opaque tokens and codes.
//
// # Sub-packages
//
//   - stores: Redis adapter for pending MFA login challenges
//
// # What this package must NOT do
//
//   - Export types that appear in the public authlab API.
//   - Be imported by any package outside the authlab module.
package internal
