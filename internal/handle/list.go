package handle

import "sync"

// List is a caller-owned, append-only collection of adapter handles. It is
// the Go side of the vector InitVec appends to.
type List struct {
	mu      sync.Mutex
	handles []Handle
}

// Append adds h to the list.
func (l *List) Append(h Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handles = append(l.handles, h)
}

// Handles returns a copy of the list contents.
func (l *List) Handles() []Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Handle(nil), l.handles...)
}

// Len reports the number of handles.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}
