// Package refresh schedules access-token renewal for a client session.
//
// A [Scheduler] reads the token's expiry without verifying it and reports
// when renewal is due; concurrent renewals of one refresh token share a
// single call. Writing the renewed tokens back to the session store is the
// caller's job.
package refresh
