// Package password implements one-way adaptive password hashing with
// constant-time verification.
//
// # Output format
//
// [Argon2] hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Bcrypt] hashes use the standard $2a$ modular crypt format. [Multi] hashes with
// one scheme and verifies with whichever scheme recognizes the stored hash.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. It enforces no strength
// policy; only empty and oversized inputs are rejected.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other authlab package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
