// Package mfa implements TOTP second factors and single-use backup codes.
//
// Codes follow RFC 6238 (SHA1, six digits, 30 second steps) and are accepted
// for the current step and one step either side. Enrollment is an explicit
// state machine: [Service.BeginSetup] moves a user to
// [StatePendingVerification] and the first successful [Service.Verify]
// moves it to [StateEnabled]. Pending logins that still owe a second factor
// live in a [ChallengeStore].
package mfa
