package audit

import (
	"context"

	"github.com/platinummonkey/coursehub/pkg/observability"
)

// LogrusLogger writes audit events as structured log lines tagged audit=true
type LogrusLogger struct {
	recorder

	logger *observability.Logger
}

// NewLogrusLogger creates an audit logger on top of the service logger
func NewLogrusLogger(logger *observability.Logger) *LogrusLogger {
	l := &LogrusLogger{logger: logger.WithField("audit", true)}
	l.recorder = recorder{log: l.Log}
	return l
}

// Log emits the event at info level, or warn when it did not succeed
func (l *LogrusLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := map[string]interface{}{
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.UserID != nil {
		fields["actor_id"] = *event.UserID
	}
	if event.Username != "" {
		fields["username"] = event.Username
	}
	if event.ResourceType != "" {
		fields["resource_type"] = string(event.ResourceType)
		fields["resource_id"] = event.ResourceID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}

	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}

	entry := l.logger.WithFields(fields)
	if event.Status == EventStatusSuccess {
		entry.Info(msg)
	} else {
		entry.Warn(msg)
	}
	return nil
}

// Close is a no-op
func (l *LogrusLogger) Close() error {
	return nil
}

// WithLogger stores an audit logger in ctx
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the audit logger in ctx, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return logger
	}
	return NewNoopLogger()
}

type loggerKey struct{}
