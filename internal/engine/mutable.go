package engine

import (
	"sync"
)

// Mutable is a keyed store of slots that live outside the dependency graph.
// Slots participate only through proxy Variables; writing one through an
// Accessor is the single sanctioned imperative path into the graph.
//
// Slots are either global or scoped to a module. mutable and viewof
// declarations use module-scoped slots so derived modules do not share
// state.
type Mutable struct {
	rt *Runtime

	mu    sync.RWMutex
	slots map[slotKey]any
}

type slotKey struct {
	module string
	name   string
}

func newMutable(rt *Runtime) *Mutable {
	return &Mutable{rt: rt, slots: make(map[slotKey]any)}
}

// MutableSlot is the slot and hidden variable name of "mutable name".
func MutableSlot(name string) string { return "initial " + name }

// ViewSlot is the slot and hidden variable name of "viewof name".
func ViewSlot(name string) string { return "viewof " + name }

// Define sets a global slot without notifying anything.
func (s *Mutable) Define(name string, value any) {
	s.set(slotKey{name: name}, value)
}

// Has reports whether a global slot exists.
func (s *Mutable) Has(name string) bool {
	_, ok := s.get(slotKey{name: name})
	return ok
}

// Get returns a global slot value.
func (s *Mutable) Get(name string) (any, bool) {
	return s.get(slotKey{name: name})
}

// Delete removes a global slot.
func (s *Mutable) Delete(name string) {
	s.mu.Lock()
	delete(s.slots, slotKey{name: name})
	s.mu.Unlock()
}

// Accessor returns a handle on a global slot. Writes mark dirty every
// Variable, in every module, that declares a dependency on name.
func (s *Mutable) Accessor(name string) *Accessor {
	return &Accessor{store: s, key: slotKey{name: name}}
}

func (s *Mutable) scoped(m *Module, name string) *Accessor {
	return &Accessor{store: s, key: slotKey{module: m.id, name: name}, module: m}
}

func (s *Mutable) get(k slotKey) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.slots[k]
	return v, ok
}

func (s *Mutable) set(k slotKey, value any) {
	s.mu.Lock()
	s.slots[k] = value
	s.mu.Unlock()
}

// Accessor reads and writes one slot.
type Accessor struct {
	store  *Mutable
	key    slotKey
	module *Module
}

// Name returns the slot name.
func (a *Accessor) Name() string { return a.key.name }

// Value returns the current slot value, nil if unset.
func (a *Accessor) Value() any {
	v, _ := a.store.get(a.key)
	return v
}

// Set writes the slot and schedules every dependent of its name. It is
// safe from any goroutine, including cell bodies and event listeners: the
// invalidation is linearized through the Runtime task queue.
func (a *Accessor) Set(value any) {
	a.store.set(a.key, value)
	rt := a.store.rt
	rt.post(func() {
		if rt.disposed.Load() {
			return
		}
		rt.invalidate(a.module, a.key.name)
		rt.schedule()
	})
}

// invalidate marks dirty the dependents of name in m, or in every module
// when m is nil.
func (rt *Runtime) invalidate(m *Module, name string) {
	modules := rt.order
	if m != nil {
		if rt.modules[m.id] != m {
			return
		}
		modules = []*Module{m}
	}
	for _, mod := range modules {
		for v := range mod.dependents[name] {
			rt.markDirty(v)
		}
	}
}
