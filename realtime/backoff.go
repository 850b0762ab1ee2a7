package realtime

import "time"

// Backoff is a linear reconnect policy: the n-th retry waits Base*n, never
// more than Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := time.Duration(attempt) * b.Base
	if b.Max > 0 && (d > b.Max || d < 0) {
		return b.Max
	}
	return d
}
