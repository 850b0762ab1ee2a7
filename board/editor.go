package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

var ErrInvalidValue = errors.New("invalid value")

// Field describes one inline-editable task attribute.
type Field struct {
	Name  string
	Value func(domain.Task) string
	// Equal reports whether two values are the same edit. Nil means ==.
	Equal    func(a, b string) bool
	Validate func(string) error
	// Check validates value against the group's loaded candidates.
	Check func(Candidates, string) error
	Patch func(string) domain.TaskPatch
}

func (f Field) equal(a, b string) bool {
	if f.Equal != nil {
		return f.Equal(a, b)
	}
	return a == b
}

func trimmedEqual(a, b string) bool { return strings.TrimSpace(a) == strings.TrimSpace(b) }

func ptr[T any](v T) *T { return &v }

func validDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidValue, s)
	}
	return nil
}

var (
	TitleField = Field{
		Name:  "title",
		Value: func(t domain.Task) string { return t.Title },
		Equal: trimmedEqual,
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%w: title is required", ErrInvalidValue)
			}
			return nil
		},
		Patch: func(s string) domain.TaskPatch { return domain.TaskPatch{Title: ptr(strings.TrimSpace(s))} },
	}
	DescriptionField = Field{
		Name:  "description",
		Value: func(t domain.Task) string { return t.Description },
		Patch: func(s string) domain.TaskPatch { return domain.TaskPatch{Description: ptr(s)} },
	}
	PriorityField = Field{
		Name:  "priority",
		Value: func(t domain.Task) string { return string(t.Priority) },
		Equal: strings.EqualFold,
		Validate: func(s string) error {
			switch domain.Priority(strings.ToUpper(s)) {
			case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent:
				return nil
			}
			return fmt.Errorf("%w: priority %q", ErrInvalidValue, s)
		},
		Patch: func(s string) domain.TaskPatch {
			return domain.TaskPatch{Priority: ptr(domain.Priority(strings.ToUpper(s)))}
		},
	}
	AssigneeField = Field{
		Name:  "assignee",
		Value: domain.Task.AssigneeID,
		Check: Candidates.checkMember,
		Patch: func(s string) domain.TaskPatch { return domain.TaskPatch{AssigneeID: ptr(s)} },
	}
	StartDateField = Field{
		Name:     "startDate",
		Value:    func(t domain.Task) string { return t.StartDate },
		Validate: validDate,
		Patch:    func(s string) domain.TaskPatch { return domain.TaskPatch{StartDate: ptr(s)} },
	}
	DueDateField = Field{
		Name:     "dueDate",
		Value:    func(t domain.Task) string { return t.DueDate },
		Validate: validDate,
		Patch:    func(s string) domain.TaskPatch { return domain.TaskPatch{DueDate: ptr(s)} },
	}
)

// Fields lists every inline-editable field.
var Fields = []Field{TitleField, DescriptionField, PriorityField, AssigneeField, StartDateField, DueDateField}

// FieldByName finds a field by its Name.
func FieldByName(name string) (Field, bool) {
	for _, f := range Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

type editKey struct {
	task  string
	field string
}

// Editor keeps one edit toggle and draft per task field and commits edits
// through the Engine's TaskService.
type Editor struct {
	engine *Engine

	mu     sync.Mutex
	drafts map[editKey]string
}

func NewEditor(engine *Engine) *Editor {
	return &Editor{engine: engine, drafts: make(map[editKey]string)}
}

// Begin turns editing on and seeds the draft with the current value.
func (ed *Editor) Begin(taskID string, f Field) (string, error) {
	t, ok := ed.engine.Task(taskID)
	if !ok {
		return "", fmt.Errorf("edit %s of %s: %w", f.Name, taskID, ErrTaskNotFound)
	}
	v := f.Value(t)
	ed.mu.Lock()
	ed.drafts[editKey{taskID, f.Name}] = v
	ed.mu.Unlock()
	return v, nil
}

// SetDraft records the in-progress value. It is a no-op when the field is
// not being edited.
func (ed *Editor) SetDraft(taskID string, f Field, v string) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	k := editKey{taskID, f.Name}
	if _, ok := ed.drafts[k]; ok {
		ed.drafts[k] = v
	}
}

func (ed *Editor) Draft(taskID string, f Field) (string, bool) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	v, ok := ed.drafts[editKey{taskID, f.Name}]
	return v, ok
}

func (ed *Editor) Editing(taskID string, f Field) bool {
	_, ok := ed.Draft(taskID, f)
	return ok
}

// Cancel drops the draft and turns editing off.
func (ed *Editor) Cancel(taskID string, f Field) {
	ed.mu.Lock()
	delete(ed.drafts, editKey{taskID, f.Name})
	ed.mu.Unlock()
}

func (ed *Editor) validate(f Field, value string) error {
	if f.Validate != nil {
		if err := f.Validate(value); err != nil {
			return err
		}
	}
	if f.Check != nil {
		if c, ok := ed.engine.Candidates(); ok {
			return f.Check(c, value)
		}
	}
	return nil
}

// Commit sends value when it differs from the last known server value and
// installs the server's copy of the task. On failure the user is notified
// and editing ends with the last known value.
func (ed *Editor) Commit(ctx context.Context, taskID string, f Field, value string) error {
	e := ed.engine
	t, ok := e.Task(taskID)
	if !ok {
		ed.Cancel(taskID, f)
		return fmt.Errorf("commit %s of %s: %w", f.Name, taskID, ErrTaskNotFound)
	}
	last := f.Value(t)
	if f.equal(last, value) {
		ed.Cancel(taskID, f)
		return nil
	}

	fields := e.logger.WithFields(log.Fields{"task": taskID, "field": f.Name})
	if err := ed.validate(f, value); err != nil {
		ed.Cancel(taskID, f)
		fields.WithError(err).Debug("board: edit rejected")
		e.notifier.Notify(Notification{Kind: KindGeneric, TaskID: taskID, Message: err.Error(), Err: err})
		return err
	}

	updated, err := e.svc.UpdateTask(ctx, taskID, f.Patch(value))
	ed.Cancel(taskID, f)
	if err != nil {
		fields.WithError(err).Error("board: edit failed")
		e.notifier.Notify(failure(taskID, "edit", err))
		return fmt.Errorf("commit %s of %s: %w", f.Name, taskID, err)
	}
	if updated.ID == taskID {
		e.Insert(updated)
	}
	fields.Debug("board: edit saved")
	return nil
}
