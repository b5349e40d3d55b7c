// Package stores provides the Redis-backed records that let a verification
// flow survive a reload: the tab-scoped pending attempt and the durable login
// lockout shared by all tabs.
//
// # Design
//
// Each record is a versioned binary value with a TTL derived from its own
// absolute deadlines, so an abandoned record disappears on its own. Deadlines
// are stored as unix milliseconds, never as remaining durations.
//
// # What this package must NOT do
//
//   - Import authflow or any sibling internal package.
//   - Decide flow transitions; callers interpret the records.
package stores
