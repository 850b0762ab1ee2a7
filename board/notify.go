package board

import (
	"errors"
	"fmt"

	"prism-board/domain"
)

// Kind classifies a user-facing notification.
type Kind int

const (
	KindStatusChanged Kind = iota
	KindExpenseRealized
	KindTaskCreated
	KindTaskDeleted
	KindPermissionDenied
	KindSessionExpired
	KindGeneric
)

func (k Kind) String() string {
	switch k {
	case KindStatusChanged:
		return "status_changed"
	case KindExpenseRealized:
		return "expense_realized"
	case KindTaskCreated:
		return "task_created"
	case KindTaskDeleted:
		return "task_deleted"
	case KindPermissionDenied:
		return "permission_denied"
	case KindSessionExpired:
		return "session_expired"
	}
	return "error"
}

// Notification is what the board tells its user after a command resolves.
type Notification struct {
	Kind    Kind
	TaskID  string
	Message string
	Err     error
}

// Failed reports whether the notification describes a failed command.
func (n Notification) Failed() bool { return n.Err != nil }

type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type discard struct{}

func (discard) Notify(Notification) {}

func classify(err error) Kind {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, domain.ErrSessionExpired):
		return KindSessionExpired
	}
	return KindGeneric
}

// failure builds the notification for a failed command on a task.
func failure(taskID, verb string, err error) Notification {
	kind := classify(err)
	var msg string
	switch kind {
	case KindPermissionDenied:
		msg = "You do not have permission to " + verb + " this task."
	case KindSessionExpired:
		msg = "Your session has expired. Sign in again to continue."
	default:
		msg = fmt.Sprintf("Could not %s the task. Please try again.", verb)
	}
	return Notification{Kind: kind, TaskID: taskID, Message: msg, Err: err}
}

func moved(t domain.Task, to domain.Status, realized bool) Notification {
	if realized {
		return Notification{
			Kind:    KindExpenseRealized,
			TaskID:  t.ID,
			Message: fmt.Sprintf("%q is done and its linked expense was recorded.", t.Title),
		}
	}
	return Notification{
		Kind:    KindStatusChanged,
		TaskID:  t.ID,
		Message: fmt.Sprintf("%q moved to %s.", t.Title, to),
	}
}
