// Package queue implements a mutex-guarded FIFO.
package queue

import "sync"

// Queue is a FIFO of entries safe for one producer and one consumer running
// on different goroutines. A limit of zero means unbounded.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	limit int
}

// New creates a queue holding at most limit entries (0 = unbounded).
func New[T any](limit int) *Queue[T] {
	return &Queue[T]{limit: limit}
}

// Push appends v. It returns false when the queue is bounded and full.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limit > 0 && len(q.items)-q.head >= q.limit {
		return false
	}
	q.items = append(q.items, v)
	return true
}

// Pop removes and returns the oldest entry.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head == len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v, true
}

// Len returns the number of queued entries.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
