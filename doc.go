// Package authflow is a client-side identity verification and session state
// machine for one UI surface (a tab) talking to a remote authority.
//
// A [Client] drives sign-in, registration, email and second-factor
// verification, authenticator enrollment, and in-session re-verification
// for sensitive changes. The authenticated identity lives in a Redis-backed
// session store shared by every tab; changes are broadcast over pub/sub so
// all tabs converge on the same signed-in or signed-out state.
//
// # Architecture boundaries
//
// authflow is the public surface. It exposes [Client], [Builder], [Config],
// errors and value types. Flow orchestration, countdowns and tab-scoped
// persistence live under internal/ and are never exported.
//
// # Concurrency
//
// Client methods are safe for concurrent use after [Client.Start]. Network
// calls never hold the flow lock; their answers are applied only if the
// attempt that issued them is still current, so a late response can never
// revert fresher state.
package authflow
