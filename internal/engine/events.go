package engine

import (
	"github.com/roach88/cellflow/internal/async"
)

// EventType is the state a Variable entered.
type EventType string

const (
	EventPending   EventType = "pending"
	EventFulfilled EventType = "fulfilled"
	EventRejected  EventType = "rejected"
)

// Event reports one Variable state transition.
type Event struct {
	Type     EventType
	Module   string
	Cell     string
	Name     string
	Value    any
	Err      error
	Version  int64
	Variable *Variable
}

// Key is the per-variable channel suffix, "<moduleID>/<cellID>".
func (e Event) Key() string {
	return e.Module + "/" + e.Cell
}

// Channel returns the per-variable channel name for an event type, e.g.
// "fulfilled:notebook/c1".
func Channel(t EventType, moduleID, cellID string) string {
	return string(t) + ":" + moduleID + "/" + cellID
}

// On subscribes fn to a channel: "pending", "fulfilled", "rejected", or
// one of those followed by ":<moduleID>/<cellID>". It returns a function
// that removes the subscription.
//
// Listeners run synchronously while the Runtime lock is held. They may read
// snapshots and write accessors but must not call Module or Runtime
// mutators.
func (rt *Runtime) On(channel string, fn func(Event)) (cancel func()) {
	rt.obsMu.Lock()
	obs, ok := rt.observers[channel]
	if !ok {
		obs = &async.Observer[Event]{Logger: rt.logger}
		rt.observers[channel] = obs
	}
	rt.obsMu.Unlock()
	return obs.Add(fn)
}

// OnAll subscribes fn to the three global channels.
func (rt *Runtime) OnAll(fn func(Event)) (cancel func()) {
	cancels := []func(){
		rt.On(string(EventPending), fn),
		rt.On(string(EventFulfilled), fn),
		rt.On(string(EventRejected), fn),
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

func (rt *Runtime) emit(e Event) {
	rt.obsMu.Lock()
	global := rt.observers[string(e.Type)]
	scoped := rt.observers[string(e.Type)+":"+e.Key()]
	rt.obsMu.Unlock()

	if global != nil {
		global.Notify(e)
	}
	if scoped != nil {
		scoped.Notify(e)
	}
}
