package livestatus

import "sync"

// UpdateLog is the append-only diagnostic record of accepted fixes.
// Nothing in the ingestion path reads it back. When capacity is positive
// the log is a fixed ring and each append past capacity overwrites the
// oldest entry.
type UpdateLog struct {
	mu       sync.Mutex
	entries  []LocationUpdate
	capacity int
	// head is the index of the oldest entry once the ring is full.
	head  int
	total int
}

// NewUpdateLog creates a log holding at most capacity entries (0 = unbounded).
func NewUpdateLog(capacity int) *UpdateLog {
	if capacity < 0 {
		capacity = 0
	}
	l := &UpdateLog{capacity: capacity}
	if capacity > 0 {
		l.entries = make([]LocationUpdate, 0, capacity)
	}
	return l
}

// Append records u.
func (l *UpdateLog) Append(u LocationUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if u.AccuracyM != nil {
		acc := *u.AccuracyM
		u.AccuracyM = &acc
	}
	l.total++
	if l.capacity == 0 || len(l.entries) < l.capacity {
		l.entries = append(l.entries, u)
		return
	}
	l.entries[l.head] = u
	l.head = (l.head + 1) % l.capacity
}

// Len returns the number of retained entries.
func (l *UpdateLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Total returns the number of entries ever appended.
func (l *UpdateLog) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Tail returns copies of the last n retained entries, oldest first.
func (l *UpdateLog) Tail(n int) []LocationUpdate {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := len(l.entries)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]LocationUpdate, 0, n)
	if n == 0 {
		return out
	}
	start := (l.head + size - n) % size
	if start+n <= size {
		return append(out, l.entries[start:start+n]...)
	}
	out = append(out, l.entries[start:]...)
	return append(out, l.entries[:n-(size-start)]...)
}
