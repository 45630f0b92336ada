package engine

import (
	"sync"

	"github.com/roach88/cellflow/internal/async"
)

// View is a rendered control as seen by a viewof declaration: a current
// value plus a stream of input events.
type View interface {
	Value() any
	Subscribe(fn func()) (unsubscribe func())
}

// Input is a minimal View holding a single value.
type Input struct {
	mu    sync.RWMutex
	value any
	obs   async.Observer[struct{}]
}

// NewInput returns an Input holding initial.
func NewInput(initial any) *Input {
	return &Input{value: initial}
}

// Value returns the current value.
func (in *Input) Value() any {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.value
}

// Set stores v and notifies subscribers, as a user input event would.
func (in *Input) Set(v any) {
	in.mu.Lock()
	in.value = v
	in.mu.Unlock()
	in.obs.Notify(struct{}{})
}

// Subscribe registers fn for input events.
func (in *Input) Subscribe(fn func()) func() {
	return in.obs.Add(func(struct{}) { fn() })
}

// Subscribers returns the number of active subscriptions.
func (in *Input) Subscribers() int {
	return in.obs.Len()
}
