package events

import (
	"sync"

	"prism-board/domain"
)

// History is a bounded, oldest-first log of events. When full, the oldest
// entry is dropped.
type History struct {
	mu    sync.Mutex
	buf   []domain.Event
	start int
	n     int
}

// NewHistory returns a History holding at most capacity events. A
// non-positive capacity is treated as 1.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]domain.Event, capacity)}
}

func (h *History) Add(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = ev
		h.n++
		return
	}
	h.buf[h.start] = ev
	h.start = (h.start + 1) % len(h.buf)
}

// Events returns a copy, oldest first.
func (h *History) Events() []domain.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Event, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Last returns the newest event.
func (h *History) Last() (domain.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.n == 0 {
		return domain.Event{}, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

func (h *History) Cap() int { return len(h.buf) }

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.buf)
	h.start, h.n = 0, 0
}
