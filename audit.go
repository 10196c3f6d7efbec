package goIdentity

import (
	"context"
	"io"
	"log/slog"

	"github.com/MrEthical07/goIdentity/internal/audit"
)

// AuditEvent is one security-relevant outcome. Token values, passwords,
// TOTP secrets and agent secrets are never recorded; metadata keys that
// look like credentials are redacted before reaching the sink.
type AuditEvent = audit.Event

// AuditAction names the audited operation, e.g. "login" or
// "credentials_revealed".
type AuditAction = audit.Action

// AuditSink receives audit events from the Engine's background trail.
type AuditSink = audit.Sink

type ChannelSink = audit.ChannelSink

type JSONWriterSink = audit.JSONWriterSink

type SlogSink = audit.SlogSink

// NewChannelSink is mostly useful in tests.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON line per event to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogSink logs events through logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return audit.NewSlogSink(logger)
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e == nil {
		return
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	e.audit.Record(ctx, event)
}
