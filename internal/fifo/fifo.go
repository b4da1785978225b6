/*
Package fifo provides a bounded lock-free queue for exactly one producer
and one consumer goroutine.

It is used to pass typed messages between the control goroutine and the
audio goroutine without locks, allocations or blocking on either side.
*/
package fifo

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Queue is a single-producer/single-consumer ring buffer. Push must only be
// called by the producer and Pop only by the consumer.
type Queue[T any] struct {
	_    cpu.CacheLinePad
	head atomic.Uint64 // next slot to read, written by consumer
	_    cpu.CacheLinePad
	tail atomic.Uint64 // next slot to write, written by producer
	_    cpu.CacheLinePad
	mask uint64
	buf  []T
}

// New returns a queue that can hold at least size elements. The capacity
// is rounded up to the next power of two.
func New[T any](size int) *Queue[T] {
	if size < 1 {
		size = 1
	}
	c := 1
	for c < size {
		c <<= 1
	}
	return &Queue[T]{
		mask: uint64(c - 1),
		buf:  make([]T, c),
	}
}

// Push appends v to the queue. It returns false if the queue is full.
func (q *Queue[T]) Push(v T) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() == uint64(len(q.buf)) {
		return false
	}
	q.buf[tail&q.mask] = v
	q.tail.Store(tail + 1)
	return true
}

// Pop removes the oldest element. It returns false if the queue is empty.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	head := q.head.Load()
	if head == q.tail.Load() {
		return zero, false
	}
	i := head & q.mask
	v := q.buf[i]
	// release references held by the slot
	q.buf[i] = zero
	q.head.Store(head + 1)
	return v, true
}

// Peek returns the oldest element without removing it. It must only be
// called by the consumer.
func (q *Queue[T]) Peek() (T, bool) {
	head := q.head.Load()
	if head == q.tail.Load() {
		var zero T
		return zero, false
	}
	return q.buf[head&q.mask], true
}

// Len returns the number of queued elements. The value is approximate if
// called concurrently with Push or Pop.
func (q *Queue[T]) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Cap returns the capacity of the queue.
func (q *Queue[T]) Cap() int {
	return len(q.buf)
}
