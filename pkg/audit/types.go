package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Access grant events
	EventTypeAccessGrant  EventType = "access.grant"
	EventTypeAccessRevoke EventType = "access.revoke"
	EventTypeAccessSet    EventType = "access.set"

	// Authentication events
	EventTypeAuthLogin       EventType = "auth.login"
	EventTypeAuthLoginFailed EventType = "auth.login_failed"
	EventTypeAuthRegister    EventType = "auth.register"

	// Data mutation events
	EventTypeDataCourseCreate EventType = "data.course_create"
	EventTypeDataCourseUpdate EventType = "data.course_update"
	EventTypeDataCourseDelete EventType = "data.course_delete"
	EventTypeDataModuleCreate EventType = "data.module_create"
	EventTypeDataModuleUpdate EventType = "data.module_update"
	EventTypeDataModuleDelete EventType = "data.module_delete"
	EventTypeDataLessonCreate EventType = "data.lesson_create"
	EventTypeDataLessonUpdate EventType = "data.lesson_update"
	EventTypeDataLessonDelete EventType = "data.lesson_delete"
	EventTypeDataFileUpload   EventType = "data.file_upload"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being touched
type ResourceType string

const (
	ResourceTypeCourse ResourceType = "course"
	ResourceTypeModule ResourceType = "module"
	ResourceTypeLesson ResourceType = "lesson"
	ResourceTypeUser   ResourceType = "user"
	ResourceTypeGrant  ResourceType = "grant"
	ResourceTypeFile   ResourceType = "file"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	UserID   *int64 `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID string `json:"request_id,omitempty"`

	// Additional details
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// AccessChange describes one grant, revoke or bulk-set on a user's module access
type AccessChange struct {
	Action    EventType
	UserID    int64
	CourseID  int64
	ModuleIDs []int64
	// Changed is false when the call was a no-op
	Changed bool
	Err     error
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}
