// Package timer tracks the two countdowns of a pending verification attempt:
// how long the issued code stays valid and how long until another code may
// be requested.
//
// Countdown values are derived from absolute deadlines on every read, so a
// suspended process or a skipped tick never drifts. Authoritative updates
// carry a freshness stamp issued when their request was sent; an update whose
// request predates a newer send, or the value already applied, is discarded.
//
// Engine is not safe for concurrent use. Callers serialize access.
package timer
