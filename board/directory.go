package board

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// Directory lists what a task of the group may reference.
type Directory interface {
	ListMembers(ctx context.Context, groupID string) ([]domain.Member, error)
	ListFutureExpenses(ctx context.Context, groupID string) ([]domain.ExpenseLink, error)
}

// Candidates are the members a task can be assigned to and the planned
// expenses it can be linked with.
type Candidates struct {
	Members  []domain.Member      `json:"members"`
	Expenses []domain.ExpenseLink `json:"expenses"`
}

func (c Candidates) Member(id string) (domain.Member, bool) {
	for _, m := range c.Members {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Member{}, false
}

func (c Candidates) Expense(id string) (domain.ExpenseLink, bool) {
	for _, x := range c.Expenses {
		if x.ID == id {
			return x, true
		}
	}
	return domain.ExpenseLink{}, false
}

func (c Candidates) checkMember(id string) error {
	if id == "" {
		return nil
	}
	if _, ok := c.Member(id); !ok {
		return fmt.Errorf("%w: %q is not a member of the group", ErrInvalidValue, id)
	}
	return nil
}

func (c Candidates) checkExpense(id string) error {
	if id == "" {
		return nil
	}
	x, ok := c.Expense(id)
	if !ok || x.Realized {
		return fmt.Errorf("%w: %q is not a planned expense of the group", ErrInvalidValue, id)
	}
	return nil
}

// LoadCandidates fetches the group's members and planned expenses. Until it
// first succeeds, assignees and expense links are left to the server to
// check.
func (e *Engine) LoadCandidates(ctx context.Context, dir Directory) error {
	members, err := dir.ListMembers(ctx, e.groupID)
	if err != nil {
		return fmt.Errorf("load members: %w", err)
	}
	expenses, err := dir.ListFutureExpenses(ctx, e.groupID)
	if err != nil {
		return fmt.Errorf("load future expenses: %w", err)
	}
	e.mu.Lock()
	e.candidates = &Candidates{Members: members, Expenses: expenses}
	e.mu.Unlock()
	e.logger.WithFields(log.Fields{"members": len(members), "expenses": len(expenses)}).Debug("board: candidates loaded")
	return nil
}

// Candidates returns the last loaded candidates.
func (e *Engine) Candidates() (Candidates, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.candidates == nil {
		return Candidates{}, false
	}
	c := *e.candidates
	c.Members = append([]domain.Member(nil), c.Members...)
	c.Expenses = append([]domain.ExpenseLink(nil), c.Expenses...)
	return c, true
}

// checkNewTask rejects references the loaded candidates do not contain.
func (e *Engine) checkNewTask(nt domain.NewTask) error {
	c, ok := e.Candidates()
	if !ok {
		return nil
	}
	if err := c.checkMember(nt.AssigneeID); err != nil {
		return err
	}
	return c.checkExpense(nt.LinkedExpenseID)
}
