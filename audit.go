package authcore

import (
	"io"

	internalaudit "github.com/kuzunoha/authcore/internal/audit"
)

// AuditEvent is the event model delivered to audit sinks. Events carry
// identifiers and outcomes only; no secret, code, or verifier is ever
// included.
type AuditEvent = internalaudit.Event

// AuditSink receives emitted audit events.
type AuditSink = internalaudit.Sink

// NoOpAuditSink drops all events.
func NoOpAuditSink() AuditSink {
	return internalaudit.NoOpSink{}
}

// NewChannelAuditSink buffers events in a channel for the host to drain.
func NewChannelAuditSink(buffer int) *internalaudit.ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONAuditSink writes one JSON event per line to w.
func NewJSONAuditSink(w io.Writer) AuditSink {
	return internalaudit.NewJSONWriterSink(w)
}
