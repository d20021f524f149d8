package guardian

import (
	"github.com/MrEthical07/guardian/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant outcome.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers audit events in a channel.
type ChannelSink = audit.ChannelSink

// LogSink writes audit events as structured log entries.
type LogSink = audit.LogSink

// NewChannelSink returns a sink that writes into a channel of size buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewLogSink returns a sink that logs every event through logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return audit.NewLogSink(logger)
}
