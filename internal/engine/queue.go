package engine

import "sync"

// taskQueue is a thread-safe FIFO of work that must run while the Runtime
// lock is held: deferred settlements and accessor writes.
//
// The queue is unbounded so a settlement callback never blocks the
// goroutine that resolved the deferred.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
}

func newTaskQueue() *taskQueue {
	return &taskQueue{tasks: make([]func(), 0, 16)}
}

// Enqueue adds a task to the back of the queue.
// Returns false if the queue is closed.
func (q *taskQueue) Enqueue(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, task)
	return true
}

// TryDequeue removes and returns the front task without blocking.
func (q *taskQueue) TryDequeue() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}

	task := q.tasks[0]
	// Release the closure for GC.
	q.tasks[0] = nil
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return task, true
}

// Len returns the current queue length.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close drops queued tasks and rejects new ones.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.tasks = nil
}
