// Package board holds the client-side task board: optimistic moves with
// snapshot revert, live updates from pushed events, column pagination and
// inline field edits.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskLister fetches one column of a group's board.
type TaskLister interface {
	ListTasks(ctx context.Context, groupID string, status domain.Status) ([]domain.Task, error)
}

// TaskService performs task commands on the server.
type TaskService interface {
	CreateTask(ctx context.Context, groupID string, task domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// Config sets the board's group and column page size.
type Config struct {
	GroupID  string
	PageSize int
}

// Engine owns the board state of one group. Every method is safe for
// concurrent use; state changes are serialized and no lock is held while a
// command is in flight.
type Engine struct {
	groupID  string
	svc      TaskService
	notifier Notifier
	logger   *log.Logger

	mu       sync.Mutex
	state    domain.BoardState
	pager    *Pager
	onChange []func()
	// loads counts Load calls in flight; pushed events seen meanwhile are
	// kept in pending and replayed on the fetched board.
	loads   int
	pending []pendingEvent

	candidates *Candidates
}

type pendingEvent struct {
	act  remoteAction
	id   string
	data map[string]any
}

// NewEngine returns an empty board. notifier and logger may be nil.
func NewEngine(cfg Config, svc TaskService, notifier Notifier, logger *log.Logger) *Engine {
	if notifier == nil {
		notifier = discard{}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{
		groupID:  cfg.GroupID,
		svc:      svc,
		notifier: notifier,
		logger:   logger,
		state:    domain.NewBoardState(),
		pager:    NewPager(cfg.PageSize),
	}
}

// OnChange registers fn to run after every state change.
func (e *Engine) OnChange(fn func()) {
	e.mu.Lock()
	e.onChange = append(e.onChange, fn)
	e.mu.Unlock()
}

func (e *Engine) GroupID() string { return e.groupID }

// Load replaces the board with the server's columns. Events applied while
// the columns are fetched are replayed on the new board, so a push that
// races the fetch is not lost.
func (e *Engine) Load(ctx context.Context, lister TaskLister) error {
	e.mu.Lock()
	e.loads++
	e.mu.Unlock()
	done := func() {
		e.loads--
		if e.loads == 0 {
			e.pending = nil
		}
	}

	next := domain.NewBoardState()
	for _, st := range domain.Statuses {
		tasks, err := lister.ListTasks(ctx, e.groupID, st)
		if err != nil {
			e.mu.Lock()
			done()
			e.mu.Unlock()
			return fmt.Errorf("load %s tasks: %w", st, err)
		}
		for _, t := range tasks {
			t.Status = st
			if next.Count(t.ID) > 0 {
				e.logger.WithField("task", t.ID).Warn("board: task listed in two columns, keeping the first")
				continue
			}
			next.Append(t)
		}
	}

	e.mu.Lock()
	e.state = next
	for _, p := range e.pending {
		e.applyLocked(p.act, p.id, p.data, e.logger.WithFields(log.Fields{"task": p.id, "replay": true}))
	}
	e.clampLocked()
	done()
	e.mu.Unlock()
	e.changed()
	return nil
}

// State returns a deep copy of the board.
func (e *Engine) State() domain.BoardState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Bucket returns a copy of one column in display order.
func (e *Engine) Bucket(st domain.Status) []domain.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	items := e.state[st]
	out := make([]domain.Task, len(items))
	for i, t := range items {
		out[i] = t.Clone()
	}
	return out
}

// Task looks a task up by id.
func (e *Engine) Task(id string) (domain.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, i, ok := e.state.Find(id)
	if !ok {
		return domain.Task{}, false
	}
	return e.state[st][i].Clone(), true
}

// Page returns the visible items of a column.
func (e *Engine) Page(st domain.Status) []domain.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pager.Window(e.state[st], e.pager.Page(st))
}

func (e *Engine) PageIndex(st domain.Status) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pager.Page(st)
}

func (e *Engine) PageCount(st domain.Status) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pager.PageCount(len(e.state[st]))
}

// SetPage selects a page of a column and returns the clamped result.
func (e *Engine) SetPage(st domain.Status, page int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pager.Set(st, page, len(e.state[st]))
}

// PageOfTask returns the page of its column a task is shown on.
func (e *Engine) PageOfTask(id string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, i, ok := e.state.Find(id)
	if !ok {
		return 0, false
	}
	return e.pager.PageOf(i), true
}

// Move puts the task at the front of column to and asks the server to
// change its status. A failed command restores the board as it was before
// the move.
func (e *Engine) Move(ctx context.Context, id string, to domain.Status) error {
	if !to.Valid() {
		return fmt.Errorf("move %s: invalid status %q", id, to)
	}

	e.mu.Lock()
	from, _, ok := e.state.Find(id)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("move %s: %w", id, ErrTaskNotFound)
	}
	if from == to {
		e.mu.Unlock()
		return nil
	}
	snapshot, pages := e.state.Clone(), e.pager.save()
	task, _ := e.state.Remove(id)
	task.Status = to
	e.state.Prepend(task)
	e.clampLocked()
	e.mu.Unlock()
	e.changed()

	updated, err := e.svc.UpdateTask(ctx, id, domain.TaskPatch{Status: &to})

	e.mu.Lock()
	if err != nil {
		e.state = snapshot
		e.pager.restore(pages)
		e.clampLocked()
		e.mu.Unlock()
		e.changed()

		e.logger.WithError(err).WithFields(log.Fields{"task": id, "from": from, "to": to}).Error("board: move failed, reverted")
		e.notifier.Notify(failure(id, "move", err))
		return fmt.Errorf("move %s to %s: %w", id, to, err)
	}
	// A push may have moved the task while the command was in flight; the
	// server copy only replaces it if it is still where this move put it.
	if st, i, ok := e.state.Find(id); ok && st == to && updated.ID == id {
		updated.Status = to
		e.state[to][i] = updated
	}
	e.pager.Reset(to)
	e.mu.Unlock()
	e.changed()

	realized := to == domain.StatusDone && task.LinkedExpense != nil && !task.LinkedExpense.Realized
	e.logger.WithFields(log.Fields{"task": id, "from": from, "to": to}).Debug("board: task moved")
	e.notifier.Notify(moved(task, to, realized))
	return nil
}

// Delete removes the task immediately and restores it if the server
// refuses.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	if _, _, ok := e.state.Find(id); !ok {
		e.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, ErrTaskNotFound)
	}
	snapshot, pages := e.state.Clone(), e.pager.save()
	task, _ := e.state.Remove(id)
	e.clampLocked()
	e.mu.Unlock()
	e.changed()

	if err := e.svc.DeleteTask(ctx, id); err != nil {
		e.mu.Lock()
		e.state = snapshot
		e.pager.restore(pages)
		e.clampLocked()
		e.mu.Unlock()
		e.changed()

		e.logger.WithError(err).WithField("task", id).Error("board: delete failed, reverted")
		e.notifier.Notify(failure(id, "delete", err))
		return fmt.Errorf("delete %s: %w", id, err)
	}
	e.notifier.Notify(Notification{
		Kind:    KindTaskDeleted,
		TaskID:  id,
		Message: fmt.Sprintf("%q was deleted.", task.Title),
	})
	return nil
}

// Create asks the server for a new task and shows it at the front of its
// column, on the first page. A copy already pushed by the server is
// replaced where it is.
func (e *Engine) Create(ctx context.Context, nt domain.NewTask) (domain.Task, error) {
	if nt.Status == "" {
		nt.Status = domain.StatusTodo
	}
	if err := e.checkNewTask(nt); err != nil {
		e.logger.WithError(err).Debug("board: create rejected")
		e.notifier.Notify(Notification{Kind: KindGeneric, Message: err.Error(), Err: err})
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	t, err := e.svc.CreateTask(ctx, e.groupID, nt)
	if err != nil {
		e.logger.WithError(err).Error("board: create failed")
		e.notifier.Notify(failure("", "create", err))
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	e.mu.Lock()
	if e.state.Count(t.ID) == 0 {
		if !t.Status.Valid() {
			t.Status = nt.Status
		}
		if !t.Status.Valid() {
			t.Status = domain.StatusTodo
		}
		e.state.Prepend(t)
		e.pager.Reset(t.Status)
		e.clampLocked()
	} else {
		e.putLocked(t)
	}
	e.mu.Unlock()
	e.changed()
	e.notifier.Notify(Notification{
		Kind:    KindTaskCreated,
		TaskID:  t.ID,
		Message: fmt.Sprintf("%q was created.", t.Title),
	})
	return t, nil
}

// Insert adds a task returned by the server. If a push already delivered
// it, the pushed copy is replaced.
func (e *Engine) Insert(t domain.Task) {
	e.mu.Lock()
	e.putLocked(t)
	e.mu.Unlock()
	e.changed()
}

// putLocked stores t. An existing task keeps its slot unless its status
// changed, in which case it goes to the front of the new column. A new
// task is appended.
func (e *Engine) putLocked(t domain.Task) {
	st, i, ok := e.state.Find(t.ID)
	if !t.Status.Valid() {
		t.Status = domain.StatusTodo
		if ok {
			t.Status = st
		}
	}
	switch {
	case ok && st == t.Status:
		e.state[st][i] = t
		return
	case ok:
		e.state.Remove(t.ID)
		e.state.Prepend(t)
	default:
		e.state.Append(t)
	}
	e.clampLocked()
}

func (e *Engine) clampLocked() {
	for _, st := range domain.Statuses {
		e.pager.Clamp(st, len(e.state[st]))
	}
}

func (e *Engine) changed() {
	e.mu.Lock()
	fns := append([]func(){}, e.onChange...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
