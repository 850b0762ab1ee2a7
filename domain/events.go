package domain

import "time"

const (
	EventTypeMessage = "MESSAGE"
	EventTypeError   = "ERROR"
	Unknown          = "UNKNOWN"
)

const (
	ModuleTasks    = "TASKS"
	EntityTypeTask = "TASK"

	ActionCreated       = "CREATED"
	ActionUpdated       = "UPDATED"
	ActionDeleted       = "DELETED"
	ActionMoved         = "MOVED"
	ActionStatusChanged = "STATUS_CHANGED"
)

// Event is the canonical form of every pushed notification, whatever shape
// it arrived in.
type Event struct {
	Type       string         `json:"type"`
	Module     string         `json:"module"`
	Action     string         `json:"action"`
	EntityID   *string        `json:"entityId"`
	EntityType string         `json:"entityType"`
	Data       map[string]any `json:"data"`
	UserID     *string        `json:"userId"`
	Timestamp  time.Time      `json:"timestamp"`
	Message    *string        `json:"message"`
}

// ID returns the entity id or "".
func (e Event) ID() string {
	if e.EntityID == nil {
		return ""
	}
	return *e.EntityID
}

// IsError reports whether the event was synthesized from an unreadable
// payload.
func (e Event) IsError() bool { return e.Type == EventTypeError }
