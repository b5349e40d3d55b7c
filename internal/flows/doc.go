// Package flows is the verification state machine: it decides which step a
// user is in, which calls to make to the authority, and how each answer moves
// the flow forward.
//
// A Machine owns one pending attempt at a time. Its lock is never held across
// a network call; every answer is applied only if the attempt that issued it
// is still current, and timer updates are further ordered by freshness stamps.
//
// Session presence is driven by the session store. The Machine writes to the
// store only to commit a session it deferred for enrollment and otherwise
// follows store changes through OnSessionChange.
//
// # What this package must NOT do
//
//   - Import authflow (to avoid import cycles).
//   - Persist temporary escalation tokens outside the tab-scoped attempt record.
package flows
