// Package authority is the HTTP client for the remote authentication
// authority.
//
// Every call is a single request with a typed result or a typed *Error; the
// client keeps no state and never retries. The only side effect is the
// initial session write: on a successful primary login the configured
// SessionWriter receives the new tokens and user summary before the call
// returns, unless the request context was marked with WithDeferredSession.
package authority
