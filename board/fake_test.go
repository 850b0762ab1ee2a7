package board

import (
	"context"
	"sync"

	"prism-board/domain"
)

type updateCall struct {
	id    string
	patch domain.TaskPatch
}

// fakeService answers commands from the fields below. When gate is set,
// UpdateTask signals started and waits for gate before answering.
type fakeService struct {
	mu        sync.Mutex
	updates   []updateCall
	deletes   []string
	creates   []domain.NewTask
	updateErr error
	deleteErr error
	createErr error
	tasks     map[string]domain.Task

	gate    chan struct{}
	started chan struct{}

	// beforeCreate runs at the start of CreateTask.
	beforeCreate func()
}

func newFakeService(tasks ...domain.Task) *fakeService {
	s := &fakeService{tasks: make(map[string]domain.Task)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *fakeService) CreateTask(_ context.Context, groupID string, nt domain.NewTask) (domain.Task, error) {
	if s.beforeCreate != nil {
		s.beforeCreate()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates = append(s.creates, nt)
	if s.createErr != nil {
		return domain.Task{}, s.createErr
	}
	t := domain.Task{ID: "new-" + nt.Title, GroupID: groupID, Title: nt.Title, Status: nt.Status}
	s.tasks[t.ID] = t
	return t, nil
}

func (s *fakeService) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	s.mu.Lock()
	s.updates = append(s.updates, updateCall{id: id, patch: patch})
	gate, started := s.gate, s.started
	s.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Task{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return domain.Task{}, s.updateErr
	}
	t := s.tasks[id]
	t.ID = id
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.AssigneeID != nil {
		t.Assignee = &domain.Member{ID: *patch.AssigneeID}
	}
	if patch.StartDate != nil {
		t.StartDate = *patch.StartDate
	}
	if patch.DueDate != nil {
		t.DueDate = *patch.DueDate
	}
	s.tasks[id] = t
	return t, nil
}

func (s *fakeService) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, id)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.tasks, id)
	return nil
}

func (s *fakeService) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

// ListTasks lets the service double as a TaskLister.
func (s *fakeService) ListTasks(_ context.Context, _ string, status domain.Status) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

type notifications struct {
	mu  sync.Mutex
	all []Notification
}

func (n *notifications) Notify(x Notification) {
	n.mu.Lock()
	n.all = append(n.all, x)
	n.mu.Unlock()
}

func (n *notifications) list() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.all...)
}

func task(id string, st domain.Status) domain.Task {
	return domain.Task{ID: id, GroupID: "g1", Title: "Task " + id, Status: st}
}

// seed builds an engine whose columns hold the given ids in order.
func seed(svc TaskService, n Notifier, pageSize int, cols map[domain.Status][]string) *Engine {
	e := NewEngine(Config{GroupID: "g1", PageSize: pageSize}, svc, n, nil)
	for _, st := range domain.Statuses {
		for _, id := range cols[st] {
			e.Insert(task(id, st))
		}
	}
	return e
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
