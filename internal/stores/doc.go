// Package stores provides Redis-backed, short-lived record stores for
// half-finished authentication flows, currently the pending MFA login
// challenge.
//
// # Design
//
// Each store persists a versioned, binary-encoded record in Redis with a TTL.
// Mutations use GETDEL or WATCH/MULTI optimistic transactions with retry on
// contention. Records are single-use and carry an attempt counter.
//
// # What this package must NOT do
//
//   - Import authlab or any sibling internal package.
//   - Decide whether a code is correct; callers do that.
package stores
