package authflow

import (
	"context"
	"io"
	"log/slog"
	"strconv"

	internalaudit "github.com/MrEthical07/authflow/internal/audit"
	"github.com/MrEthical07/authflow/session"
)

type (
	// AuditEvent records one flow transition or session change of a tab.
	AuditEvent = internalaudit.Event
	// AuditSink receives audit events from the dispatcher goroutine.
	AuditSink = internalaudit.Sink
	// NoOpSink discards audit events.
	NoOpSink = internalaudit.NoOpSink
	// ChannelSink buffers audit events in a channel.
	ChannelSink = internalaudit.ChannelSink
	// JSONWriterSink writes audit events as JSON lines.
	JSONWriterSink = internalaudit.JSONWriterSink
	// LogSink writes audit events through slog.
	LogSink = internalaudit.LogSink
)

const (
	auditEventStateChanged    = "state_changed"
	auditEventNavigateToEntry = "navigate_to_entry"
	auditEventSessionSet      = "session_set"
	auditEventSessionCleared  = "session_cleared"
	auditEventRefresh         = "session_refreshed"
	auditEventRefreshFailed   = "session_refresh_failed"
)

func NewChannelSink(buffer int) *ChannelSink { return internalaudit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return internalaudit.NewJSONWriterSink(w) }

func NewLogSink(l *slog.Logger) *LogSink { return internalaudit.NewLogSink(l) }

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *internalaudit.Dispatcher {
	return internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)
}

func (c *Client) auditFlow(ev FlowEvent) {
	if c.audit == nil {
		return
	}
	e := AuditEvent{
		Timestamp: ev.At.UTC(),
		TabID:     c.tabID,
		AttemptID: ev.AttemptID,
		Purpose:   ev.Purpose.String(),
		From:      ev.From.String(),
		To:        ev.To.String(),
		Success:   ev.To.Kind != Failed,
	}
	switch ev.Type {
	case EventNavigateToEntry:
		e.EventType = auditEventNavigateToEntry
		e.Success = false
	default:
		e.EventType = auditEventStateChanged
	}
	if ev.Purpose == PurposeNone {
		e.Purpose = ""
	}
	if u, ok := c.store.Current(); ok {
		e.UserID = userID(u.User)
	}
	c.audit.Emit(context.Background(), e)
}

func (c *Client) auditSession(ch session.Change) {
	if c.audit == nil {
		return
	}
	e := AuditEvent{
		Timestamp: c.now().UTC(),
		TabID:     c.tabID,
		Remote:    ch.Remote,
		Success:   true,
	}
	switch ch.Kind {
	case session.ChangeSet:
		e.EventType = auditEventSessionSet
		e.UserID = userID(ch.Identity.User)
	default:
		e.EventType = auditEventSessionCleared
	}
	if ch.Remote && ch.Origin != "" {
		e.Metadata = map[string]string{"origin": ch.Origin}
	}
	c.audit.Emit(context.Background(), e)
}

func (c *Client) auditRefresh(uid string, err error) {
	if c.audit == nil {
		return
	}
	e := AuditEvent{
		Timestamp: c.now().UTC(),
		EventType: auditEventRefresh,
		TabID:     c.tabID,
		UserID:    uid,
		Success:   err == nil,
	}
	if err != nil {
		e.EventType = auditEventRefreshFailed
		e.Error = err.Error()
	}
	c.audit.Emit(context.Background(), e)
}

func userID(u User) string {
	if u.ID == 0 {
		return ""
	}
	return strconv.FormatInt(u.ID, 10)
}
