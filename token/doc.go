// Package token issues and verifies authlab's signed access and refresh
// tokens and keeps a revocation record for each one.
//
// Every token carries a unique jti. [Service.RotateRefresh] revokes the
// presented refresh token and records its replacement pair in one
// [RecordStore.Rotate] call, so concurrent rotations of the same token have
// exactly one winner. Presenting an already-rotated refresh token revokes
// every live token of its owner.
package token
