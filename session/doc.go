// Package session holds the authenticated identity of one client tab and keeps
// it consistent with every other tab sharing the same Redis.
//
// # Storage
//
// The identity (tokens and user summary) is a single Redis value in a compact
// versioned binary encoding, so the two can never be observed out of step.
// The encoder reads every older version and always writes the current one.
//
// # Notifications
//
// Every Set and Clear notifies local subscribers synchronously and publishes
// a change on a Redis channel. Listen applies changes made by other tabs by
// re-reading storage, so message order never matters.
//
// # What this package must NOT do
//
//   - Decide when a session should be created or destroyed.
//   - Interpret token contents.
package session
