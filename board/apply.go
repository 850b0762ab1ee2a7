package board

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

type remoteAction int

const (
	actionIgnore remoteAction = iota
	actionCreate
	actionUpdate
	actionDelete
)

func actionOf(action string) remoteAction {
	switch strings.ToUpper(action) {
	case "CREATE", domain.ActionCreated:
		return actionCreate
	case "UPDATE", domain.ActionUpdated, "MOVE", domain.ActionMoved, "STATUS_CHANGE", domain.ActionStatusChanged, "ASSIGNED":
		return actionUpdate
	case "DELETE", domain.ActionDeleted, "REMOVED":
		return actionDelete
	}
	return actionIgnore
}

// ApplyEvent folds a pushed task event into the board. Events for other
// groups, other entity types and unknown actions are ignored.
func (e *Engine) ApplyEvent(ev domain.Event) {
	if ev.IsError() || !(ev.EntityType == domain.EntityTypeTask || ev.Module == domain.ModuleTasks) {
		return
	}
	data := taskData(ev.Data)
	id := ev.ID()
	if id == "" {
		id, _ = data["id"].(string)
	}
	fields := e.logger.WithFields(log.Fields{"task": id, "action": ev.Action})
	if id == "" {
		fields.Debug("board: task event without id")
		return
	}
	if g, ok := data["groupId"].(string); ok && g != "" && e.groupID != "" && g != e.groupID {
		return
	}

	act := actionOf(ev.Action)
	if act == actionIgnore {
		fields.Debug("board: ignoring task event")
		return
	}

	e.mu.Lock()
	applied := e.applyLocked(act, id, data, fields)
	if e.loads > 0 {
		e.pending = append(e.pending, pendingEvent{act: act, id: id, data: data})
	}
	e.mu.Unlock()
	if applied {
		e.changed()
	}
}

func (e *Engine) applyLocked(act remoteAction, id string, data map[string]any, fields *log.Entry) bool {
	switch act {
	case actionDelete:
		if _, ok := e.state.Remove(id); !ok {
			return false
		}
		e.clampLocked()
		return true

	case actionCreate:
		if e.state.Count(id) > 0 {
			fields.Debug("board: duplicate create ignored")
			return false
		}
		t, err := decodeTask(domain.Task{ID: id}, data)
		if err != nil {
			fields.WithError(err).Warn("board: unreadable task payload")
			return false
		}
		e.putLocked(t)
		return true

	case actionUpdate:
		base := domain.Task{ID: id}
		if st, i, ok := e.state.Find(id); ok {
			base = e.state[st][i]
		}
		t, err := decodeTask(base, data)
		if err != nil {
			fields.WithError(err).Warn("board: unreadable task payload")
			return false
		}
		e.putLocked(t)
		return true
	}
	return false
}

// taskData unwraps payloads that carry the task under "task".
func taskData(data map[string]any) map[string]any {
	if inner, ok := data["task"].(map[string]any); ok {
		return inner
	}
	return data
}

// decodeTask overlays the pushed fields on base. Status spellings are
// normalized first; an unknown status keeps base's.
func decodeTask(base domain.Task, data map[string]any) (domain.Task, error) {
	raw, err := sonic.Marshal(base)
	if err != nil {
		return domain.Task{}, fmt.Errorf("encode task: %w", err)
	}
	merged := map[string]any{}
	if err := sonic.Unmarshal(raw, &merged); err != nil {
		return domain.Task{}, fmt.Errorf("decode task: %w", err)
	}
	for k, v := range data {
		if k == "id" {
			continue
		}
		if k == "status" {
			s, _ := v.(string)
			st, ok := domain.ParseStatus(s)
			if !ok {
				continue
			}
			v = string(st)
		}
		merged[k] = v
	}
	raw, err = sonic.Marshal(merged)
	if err != nil {
		return domain.Task{}, fmt.Errorf("encode merged task: %w", err)
	}
	var out domain.Task
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return domain.Task{}, fmt.Errorf("decode merged task: %w", err)
	}
	out.ID = base.ID
	return out, nil
}
