package board

import (
	"context"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// DropContext describes where a dragged task was released. OverID is the
// element under the pointer: a column id or another task's id.
// ContainerID is the column that element belongs to, when known.
type DropContext struct {
	OverID      string
	ContainerID string
}

// ResolveDrop picks the destination column. A column id wins, then the
// column of the task under the pointer, then the container.
func (e *Engine) ResolveDrop(activeID string, drop DropContext) (domain.Status, bool) {
	if st, ok := domain.ParseStatus(drop.OverID); ok {
		return st, true
	}
	if drop.OverID != "" && drop.OverID != activeID {
		e.mu.Lock()
		st, _, ok := e.state.Find(drop.OverID)
		e.mu.Unlock()
		if ok {
			return st, true
		}
	}
	if st, ok := domain.ParseStatus(drop.ContainerID); ok {
		return st, true
	}
	return "", false
}

// HandleDragEnd moves activeID to the resolved column. An ambiguous drop is
// logged and otherwise ignored.
func (e *Engine) HandleDragEnd(ctx context.Context, activeID string, drop DropContext) error {
	to, ok := e.ResolveDrop(activeID, drop)
	if !ok {
		e.logger.WithFields(log.Fields{
			"task":      activeID,
			"over":      drop.OverID,
			"container": drop.ContainerID,
		}).Debug("board: drop target not resolved")
		return nil
	}
	return e.Move(ctx, activeID, to)
}
