package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sink receives audit events from a Trail's worker goroutine.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, Event) {}

// ChannelSink hands events to a consumer over a buffered channel, blocking
// while the buffer is full.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event { return s.events }

// JSONWriterSink writes one JSON document per event, with the principal
// resolved, to an io.Writer such as stdout or a log file.
type JSONWriterSink struct {
	mu       sync.Mutex
	enc      *json.Encoder
	failures atomic.Uint64
}

type jsonLine struct {
	Event
	PrincipalKind string `json:"principal_kind"`
	PrincipalID   string `json:"principal_id,omitempty"`
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		w = io.Discard
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	kind, id := event.Principal()
	s.mu.Lock()
	err := s.enc.Encode(jsonLine{Event: event, PrincipalKind: kind, PrincipalID: id})
	s.mu.Unlock()
	if err != nil {
		s.failures.Add(1)
	}
}

// Failures counts events the writer rejected.
func (s *JSONWriterSink) Failures() uint64 { return s.failures.Load() }

// SlogSink logs events through a structured logger: successes at Info,
// failures and denials at Warn.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "audit")}
}

func (s *SlogSink) Emit(ctx context.Context, event Event) {
	kind, id := event.Principal()
	attrs := []slog.Attr{
		slog.String("action", string(event.Action)),
		slog.String("principal_kind", kind),
		slog.Bool("success", event.Success),
		slog.Time("at", event.Time),
	}
	if id != "" {
		attrs = append(attrs, slog.String("principal_id", id))
	}
	for _, f := range [...]struct{ key, val string }{
		{"user_id", event.UserID},
		{"agent_id", event.AgentID},
		{"group_id", event.GroupID},
		{"session_id", event.SessionID},
		{"ip", event.IP},
		{"error", event.Error},
	} {
		if f.val != "" {
			attrs = append(attrs, slog.String(f.key, f.val))
		}
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String("meta."+key, val))
	}
	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "audit", attrs...)
}
