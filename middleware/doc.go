// Package middleware holds the HTTP plumbing on both sides of a session
// token.
//
// Client side, [Transport] signs outgoing requests with the stored token
// and reports 401 responses so the session can be cleared.
//
// Server side, used by the local authority:
//
//   - [Guard]: bearer token of one scope.
//   - [RequireJWTOnly]: session token, signature and expiry only.
//   - [RequireStrict]: Guard plus a caller-supplied liveness check.
package middleware
