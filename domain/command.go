package domain

// TaskPatch carries the fields of a partial task update. Nil fields are left
// untouched by the server.
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *Status   `json:"status,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	AssigneeID  *string   `json:"assigneeId,omitempty"`
	StartDate   *string   `json:"startDate,omitempty"`
	DueDate     *string   `json:"dueDate,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil &&
		p.AssigneeID == nil && p.StartDate == nil && p.DueDate == nil
}

// NewTask is the body of a create-task request.
type NewTask struct {
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Status          Status   `json:"status"`
	Priority        Priority `json:"priority,omitempty"`
	AssigneeID      string   `json:"assigneeId,omitempty"`
	StartDate       string   `json:"startDate,omitempty"`
	DueDate         string   `json:"dueDate,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	LinkedExpenseID string   `json:"linkedExpenseId,omitempty"`
}
