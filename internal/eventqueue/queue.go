// Package eventqueue provides the unbounded FIFO queues that carry events
// from the protocol workers to the gateway dispatcher.
package eventqueue

import "sync"

// Queue is a mutex-guarded FIFO. Push never blocks and preserves per-producer
// ordering; TryPop returns immediately with the comma-ok idiom instead of
// waiting for an item. The dispatcher polls, so there is no wakeup channel.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends an item at the back. Safe for concurrent producers.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// TryPop removes and returns the item at the front. The second return value
// is false when the queue is empty.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	// Clear the slot so the queue does not pin popped items.
	q.items[0] = zero
	q.items = q.items[1:]

	if len(q.items) == 0 {
		// Reset the backing array once drained to bound growth.
		q.items = nil
	}
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
