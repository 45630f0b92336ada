package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNilRejection replaces a nil error passed to Reject.
var ErrNilRejection = errors.New("deferred rejected with nil error")

// Deferred is a write-once asynchronous result. The first call to Resolve
// or Reject wins; later calls report false and change nothing.
//
// Thread-safety: all methods are safe for concurrent use.
type Deferred struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	value     any
	err       error
	callbacks []func(any, error)
}

// New returns an unsettled Deferred.
func New() *Deferred {
	return &Deferred{done: make(chan struct{})}
}

// Resolved returns a Deferred already fulfilled with v.
func Resolved(v any) *Deferred {
	d := New()
	d.Resolve(v)
	return d
}

// Failed returns a Deferred already rejected with err.
func Failed(err error) *Deferred {
	d := New()
	d.Reject(err)
	return d
}

// Go runs fn on a new goroutine and settles the returned Deferred with its
// result. A panic in fn rejects the Deferred.
func Go(fn func() (any, error)) *Deferred {
	d := New()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.Reject(fmt.Errorf("panic: %v", r))
			}
		}()
		v, err := fn()
		if err != nil {
			d.Reject(err)
			return
		}
		d.Resolve(v)
	}()
	return d
}

// Resolve fulfills the Deferred with v.
func (d *Deferred) Resolve(v any) bool {
	return d.settle(v, nil)
}

// Reject rejects the Deferred with err.
func (d *Deferred) Reject(err error) bool {
	if err == nil {
		err = ErrNilRejection
	}
	return d.settle(nil, err)
}

func (d *Deferred) settle(v any, err error) bool {
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return false
	}
	d.settled = true
	d.value = v
	d.err = err
	callbacks := d.callbacks
	d.callbacks = nil
	close(d.done)
	d.mu.Unlock()

	for _, fn := range callbacks {
		fn(v, err)
	}
	return true
}

// Then registers fn to run once the Deferred settles. If it has already
// settled fn runs immediately on the calling goroutine; otherwise it runs on
// the goroutine that settles it.
func (d *Deferred) Then(fn func(value any, err error)) {
	d.mu.Lock()
	if !d.settled {
		d.callbacks = append(d.callbacks, fn)
		d.mu.Unlock()
		return
	}
	v, err := d.value, d.err
	d.mu.Unlock()
	fn(v, err)
}

// Done is closed when the Deferred settles.
func (d *Deferred) Done() <-chan struct{} {
	return d.done
}

// Result returns the settled value and error. ok is false while pending.
func (d *Deferred) Result() (value any, err error, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, d.err, d.settled
}

// Await blocks until the Deferred settles or ctx is done.
func (d *Deferred) Await(ctx context.Context) (any, error) {
	select {
	case <-d.done:
		v, err, _ := d.Result()
		return v, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
