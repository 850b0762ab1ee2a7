package domain

// BoardState holds one ordered bucket per status. A task id appears in at
// most one bucket.
type BoardState map[Status][]Task

// NewBoardState returns a state with an empty bucket for every status.
func NewBoardState() BoardState {
	s := make(BoardState, len(Statuses))
	for _, st := range Statuses {
		s[st] = []Task{}
	}
	return s
}

// Clone returns a deep copy used as a revert snapshot.
func (b BoardState) Clone() BoardState {
	out := make(BoardState, len(b))
	for st, items := range b {
		cp := make([]Task, len(items))
		for i, t := range items {
			cp[i] = t.Clone()
		}
		out[st] = cp
	}
	return out
}

// Find locates a task across all buckets.
func (b BoardState) Find(id string) (Status, int, bool) {
	for _, st := range Statuses {
		for i, t := range b[st] {
			if t.ID == id {
				return st, i, true
			}
		}
	}
	return "", -1, false
}

// Count returns the number of tasks with the given id. Used to check the
// single-bucket invariant.
func (b BoardState) Count(id string) int {
	n := 0
	for _, items := range b {
		for _, t := range items {
			if t.ID == id {
				n++
			}
		}
	}
	return n
}

// Remove deletes the task from whichever bucket holds it and returns it.
func (b BoardState) Remove(id string) (Task, bool) {
	st, i, ok := b.Find(id)
	if !ok {
		return Task{}, false
	}
	items := b[st]
	t := items[i]
	b[st] = append(items[:i:i], items[i+1:]...)
	return t, true
}

// Prepend places the task at the front of its status bucket.
func (b BoardState) Prepend(t Task) {
	b[t.Status] = append([]Task{t}, b[t.Status]...)
}

// Append places the task at the end of its status bucket.
func (b BoardState) Append(t Task) {
	b[t.Status] = append(b[t.Status], t)
}
