package broker

import (
	"sync"
)

// WorkQueue is a thread-safe, fixed-capacity FIFO between a subscription's
// delivery pump and its handler worker. Send blocks while the queue is full,
// so the broker's prefetch window is the only buffering in the pipeline.
type WorkQueue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	closed   bool
}

// NewWorkQueue creates a queue holding at most capacity items.
func NewWorkQueue[T any](capacity int) *WorkQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &WorkQueue[T]{
		buf: make([]T, capacity),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Send appends an item, waiting for room if the queue is full.
// Returns false if the queue is closed.
func (q *WorkQueue[T]) Send(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == len(q.buf) && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return false
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++

	q.notEmpty.Signal()
	return true
}

// Receive removes and returns the oldest item.
// Blocks until an item is available or the queue is closed.
// Returns the item and true, or zero value and false if closed and empty.
func (q *WorkQueue[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.notEmpty.Wait()
	}

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.pop(), true
}

// pop removes the head item. Must be called with lock held and count > 0.
func (q *WorkQueue[T]) pop() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.notFull.Signal()
	return item
}

// Close closes the queue. Pending senders return false; receivers get the
// remaining items and then the closed signal.
func (q *WorkQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len returns the current number of items in the queue.
func (q *WorkQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
