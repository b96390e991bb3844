package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/platinummonkey/coursehub/pkg/auth"
	"github.com/platinummonkey/coursehub/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// LogAccessChange logs a grant, revoke or bulk-set
	LogAccessChange(ctx context.Context, change AccessChange) error

	// LogAuthentication logs an authentication event
	LogAuthentication(ctx context.Context, eventType EventType, userID *int64, email string, status EventStatus, message string) error

	// LogDataMutation logs a data mutation event
	LogDataMutation(ctx context.Context, eventType EventType, userID *int64, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// recorder implements the convenience methods of Logger on top of a Log func
type recorder struct {
	log func(ctx context.Context, event *AuditEvent) error
}

func (r recorder) LogAccessChange(ctx context.Context, change AccessChange) error {
	status := EventStatusSuccess
	event := buildBaseEvent(ctx, change.Action, status)
	event.ResourceType = ResourceTypeGrant
	event.ResourceID = strconv.FormatInt(change.CourseID, 10)
	event.Metadata["target_user_id"] = change.UserID
	event.Metadata["course_id"] = change.CourseID
	event.Metadata["module_ids"] = change.ModuleIDs
	event.Metadata["changed"] = change.Changed
	if change.Err != nil {
		event.Status = EventStatusFailure
		event.ErrorMessage = change.Err.Error()
	}
	return r.log(ctx, event)
}

func (r recorder) LogAuthentication(ctx context.Context, eventType EventType, userID *int64, email string, status EventStatus, message string) error {
	event := buildBaseEvent(ctx, eventType, status)
	event.UserID = userID
	event.Username = email
	event.Message = message
	event.ResourceType = ResourceTypeUser
	return r.log(ctx, event)
}

func (r recorder) LogDataMutation(ctx context.Context, eventType EventType, userID *int64, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	event := buildBaseEvent(ctx, eventType, EventStatusSuccess)
	if userID != nil {
		event.UserID = userID
	}
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Changes = changes
	event.Message = message
	return r.log(ctx, event)
}

// NoopLogger discards every event
type NoopLogger struct {
	recorder
}

// NewNoopLogger returns a logger that does nothing
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{recorder{log: func(context.Context, *AuditEvent) error { return nil }}}
}

func (l *NoopLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (l *NoopLogger) Close() error {
	return nil
}

// buildBaseEvent creates an event with the actor and request id taken from ctx
func buildBaseEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
	if subject, ok := auth.SubjectFromContext(ctx); ok {
		actor := subject.UserID
		event.UserID = &actor
	}
	return event
}

// Sink receives raw audit events. Sinks that forward events elsewhere
// implement this instead of the full Logger.
type Sink interface {
	Deliver(ctx context.Context, event *AuditEvent) error
	Close() error
}

// SinkLogger adapts a Sink into a Logger
type SinkLogger struct {
	recorder

	sink Sink
}

// NewSinkLogger wraps sink so it can join a MultiLogger
func NewSinkLogger(sink Sink) *SinkLogger {
	l := &SinkLogger{sink: sink}
	l.recorder = recorder{log: l.Log}
	return l
}

// Log hands the event to the sink
func (l *SinkLogger) Log(ctx context.Context, event *AuditEvent) error {
	return l.sink.Deliver(ctx, event)
}

// Close closes the sink
func (l *SinkLogger) Close() error {
	return l.sink.Close()
}
