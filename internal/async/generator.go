package async

import (
	"errors"
	"sync"
)

// ErrDone rejects a deferred generator step to signal that the generator
// has no more values.
var ErrDone = errors.New("generator done")

// Generator is a continuous producer. The engine calls Next once per
// scheduling turn and Return when the owning computation is invalidated.
//
// A step returns the next value and done=false, or done=true when the
// sequence has ended (value is then the optional final value, nil for
// none). The value of a step may itself be a *Deferred; the engine awaits it
// before committing and does not step the generator again until it settles.
//
// Next must not block.
type Generator interface {
	Next() (value any, done bool, err error)
	Return()
}

// Sequence returns a Generator yielding values in order.
func Sequence(values ...any) Generator {
	return &sequence{values: values}
}

type sequence struct {
	mu       sync.Mutex
	values   []any
	pos      int
	returned bool
}

func (s *sequence) Next() (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.returned || s.pos >= len(s.values) {
		return nil, true, nil
	}
	v := s.values[s.pos]
	s.pos++
	return v, false, nil
}

func (s *sequence) Return() {
	s.mu.Lock()
	s.returned = true
	s.mu.Unlock()
}

// Func adapts a step function to a Generator. onReturn may be nil.
func Func(next func() (any, bool, error), onReturn func()) Generator {
	return &funcGenerator{next: next, onReturn: onReturn}
}

type funcGenerator struct {
	next     func() (any, bool, error)
	onReturn func()
	once     sync.Once
}

func (g *funcGenerator) Next() (any, bool, error) { return g.next() }

func (g *funcGenerator) Return() {
	g.once.Do(func() {
		if g.onReturn != nil {
			g.onReturn()
		}
	})
}

// FromChannel returns a Generator whose steps are deferred receives from
// ch. A closed channel, or Return, ends the sequence.
func FromChannel[T any](ch <-chan T) Generator {
	return &chanGenerator[T]{ch: ch, stop: make(chan struct{})}
}

type chanGenerator[T any] struct {
	ch   <-chan T
	stop chan struct{}
	once sync.Once
}

func (g *chanGenerator[T]) Next() (any, bool, error) {
	d := New()
	go func() {
		select {
		case v, ok := <-g.ch:
			if !ok {
				d.Reject(ErrDone)
				return
			}
			d.Resolve(v)
		case <-g.stop:
			d.Reject(ErrDone)
		}
	}()
	return d, false, nil
}

func (g *chanGenerator[T]) Return() {
	g.once.Do(func() { close(g.stop) })
}
