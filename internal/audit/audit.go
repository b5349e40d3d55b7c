package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Event records one observable step of a tab's authentication flow.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	TabID     string            `json:"tab_id"`
	AttemptID string            `json:"attempt_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Purpose   string            `json:"purpose,omitempty"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
	Remote    bool              `json:"remote,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
}

// LogSink writes each event as one structured log record at info level.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	return &LogSink{logger: l}
}

func (s *LogSink) Emit(ctx context.Context, event Event) {
	attrs := []slog.Attr{
		slog.String("tab", event.TabID),
		slog.Bool("success", event.Success),
	}
	if event.AttemptID != "" {
		attrs = append(attrs, slog.String("attempt", event.AttemptID))
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user", event.UserID))
	}
	if event.Purpose != "" {
		attrs = append(attrs, slog.String("purpose", event.Purpose))
	}
	if event.From != "" || event.To != "" {
		attrs = append(attrs, slog.String("from", event.From), slog.String("to", event.To))
	}
	if event.Remote {
		attrs = append(attrs, slog.Bool("remote", true))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("err", event.Error))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit: "+event.EventType, attrs...)
}
