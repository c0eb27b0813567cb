// Package session provides opaque server-side sessions: id generation, lazy
// expiry, last-activity tracking and fixation-safe regeneration.
//
// # Stores
//
// [MemoryStore] keeps sessions in a mutex-guarded map. [RedisStore] keeps
// them as compact binary blobs and performs validate-and-touch in a single
// Lua script so a concurrent reader never observes a half-applied update.
//
// # Binary encoding
//
// Blobs are fixed width: a version byte, the user id and three Unix
// millisecond timestamps, all big-endian. The session id is the key and is
// not repeated inside the blob.
//
// # What this package must NOT do
//
//   - Import authlab, jwt, token or oauth (no upward imports).
//   - Make authorization decisions about the bound user.
package session
