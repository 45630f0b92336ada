package testutil

import "sync"

// Recorder collects values delivered from any goroutine, typically engine
// events passed to a listener.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Recorder[T any] struct {
	mu    sync.Mutex
	items []T
}

// NewRecorder creates an empty recorder.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{}
}

// Record appends v. Its signature fits listener callbacks directly.
func (r *Recorder[T]) Record(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, v)
}

// Items returns a copy of everything recorded so far, in order.
func (r *Recorder[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Len returns the number of recorded items.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Reset discards everything recorded.
//
// Used between phases of a test so later assertions only see new items.
func (r *Recorder[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

// Map projects the recorded items through fn, e.g. to compare only event
// names.
func Map[T, U any](r *Recorder[T], fn func(T) U) []U {
	items := r.Items()
	out := make([]U, len(items))
	for i, item := range items {
		out[i] = fn(item)
	}
	return out
}
