package domain

import "strings"

// Status identifies the board column a task lives in.
type Status string

const (
	StatusTodo  Status = "TODO"
	StatusDoing Status = "DOING"
	StatusDone  Status = "DONE"
)

// Statuses lists the board columns in display order.
var Statuses = []Status{StatusTodo, StatusDoing, StatusDone}

// ParseStatus accepts any casing and a few legacy spellings used by older
// clients ("IN_PROGRESS", "COMPLETED").
func ParseStatus(s string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TODO", "TO_DO":
		return StatusTodo, true
	case "DOING", "IN_PROGRESS":
		return StatusDoing, true
	case "DONE", "COMPLETED":
		return StatusDone, true
	}
	return "", false
}

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusDoing, StatusDone:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Member is a user belonging to the task's group.
type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// ExpenseLink ties a task to a planned ("future") expense. Completing the
// task realizes the expense on the server.
type ExpenseLink struct {
	ID          string  `json:"id"`
	Description string  `json:"description,omitempty"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency,omitempty"`
	Realized    bool    `json:"realized,omitempty"`
}

// Task represents a single board item.
type Task struct {
	ID            string       `json:"id"`
	GroupID       string       `json:"groupId,omitempty"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	Status        Status       `json:"status"`
	Priority      Priority     `json:"priority,omitempty"`
	Assignee      *Member      `json:"assignee,omitempty"`
	StartDate     string       `json:"startDate,omitempty"`
	DueDate       string       `json:"dueDate,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	LinkedExpense *ExpenseLink `json:"linkedExpense,omitempty"`
	Position      int          `json:"position"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	out := t
	if t.Assignee != nil {
		a := *t.Assignee
		out.Assignee = &a
	}
	if t.Tags != nil {
		out.Tags = append([]string(nil), t.Tags...)
	}
	if t.LinkedExpense != nil {
		e := *t.LinkedExpense
		out.LinkedExpense = &e
	}
	return out
}

// AssigneeID returns the assignee's id or "" when unassigned.
func (t Task) AssigneeID() string {
	if t.Assignee == nil {
		return ""
	}
	return t.Assignee.ID
}
