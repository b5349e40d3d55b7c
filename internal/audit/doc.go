// Package audit delivers flow audit events to a sink off the caller's
// goroutine.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines, slog, no-op).
//   - [Dispatcher]: buffered relay that either drops or blocks when full.
//   - [Event]: one state transition or session change of a tab.
//
// The dispatcher never decides which events exist; the root package maps
// machine and session notifications onto events.
package audit
