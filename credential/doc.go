// Package credential holds the in-memory user registry used for login.
//
// Users are keyed by numeric id and looked up by username or email. The store
// never sees plaintext passwords; hashing and comparison belong to package
// password and the Engine.
package credential
