package async

import (
	"log/slog"
	"sync"
)

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Observer fans one stream of notifications out to many listeners.
//
// Each listener is called independently: a listener that panics is logged
// and the remaining listeners still run. The zero value is ready to use.
type Observer[T any] struct {
	mu        sync.Mutex
	next      uint64
	listeners []listener[T]

	// Logger receives listener panics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Add registers fn and returns a function that removes it. Removing twice
// is harmless.
func (o *Observer[T]) Add(fn func(T)) (remove func()) {
	o.mu.Lock()
	o.next++
	id := o.next
	o.listeners = append(o.listeners, listener[T]{id: id, fn: fn})
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, l := range o.listeners {
			if l.id == id {
				o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
				return
			}
		}
	}
}

// Notify delivers v to every listener registered at the time of the call,
// in registration order. Listeners run outside the observer's lock, so they
// may add or remove listeners.
func (o *Observer[T]) Notify(v T) {
	o.mu.Lock()
	snapshot := make([]listener[T], len(o.listeners))
	copy(snapshot, o.listeners)
	o.mu.Unlock()

	for _, l := range snapshot {
		o.call(l, v)
	}
}

func (o *Observer[T]) call(l listener[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			logger := o.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("observer listener panicked", "listener", l.id, "panic", r)
		}
	}()
	l.fn(v)
}

// Len returns the number of registered listeners.
func (o *Observer[T]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.listeners)
}
