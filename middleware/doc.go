// Package middleware adapts authlab validation to net/http.
//
// # Guards
//
//   - [RequireSession] checks the authlab_session cookie.
//   - [RequireBearer] checks an Authorization: Bearer access token.
//   - [Guard] accepts either, cookie first.
//   - [RequireRole] restricts a guarded route to one role.
//
// A guard stores the [authlab.AuthResult] in the request context; read it
// with [AuthResultFromContext]. Rejections are 401 JSON bodies carrying the
// public form of the engine error.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to the engine).
//   - Access Redis.
//   - Read roles from anywhere but the validated result.
package middleware
