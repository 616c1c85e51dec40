// Package queue provides a simple FIFO used to track outstanding requests.
package queue

// Queue is a FIFO queue of T. It is not safe for concurrent use.
type Queue[T any] struct {
	items []T
}

// New creates a new queue with room for prealloc items.
func New[T any](prealloc int) *Queue[T] {
	return &Queue[T]{items: make([]T, 0, prealloc)}
}

// Enqueue adds an item to the tail of the queue.
func (q *Queue[T]) Enqueue(item T) {
	q.items = append(q.items, item)
}

// Dequeue removes and returns the item at the head of the queue.
// ok is false if the queue is empty.
func (q *Queue[T]) Dequeue() (item T, ok bool) {
	if len(q.items) == 0 {
		return item, false
	}

	item = q.items[0]

	var zero T
	q.items[0] = zero
	q.items = q.items[1:]

	return item, true
}

// Peek returns the item at the head of the queue without removing it.
func (q *Queue[T]) Peek() (item T, ok bool) {
	if len(q.items) == 0 {
		return item, false
	}

	return q.items[0], true
}

// Items returns a copy of the queued items, head first.
func (q *Queue[T]) Items() []T {
	out := make([]T, len(q.items))
	copy(out, q.items)

	return out
}

// Reset empties the queue.
func (q *Queue[T]) Reset() {
	clear(q.items)
	q.items = q.items[:0]
}

// IsEmpty returns true if the queue is empty.
func (q *Queue[T]) IsEmpty() bool {
	return len(q.items) == 0
}

// Length returns the number of items in the queue.
func (q *Queue[T]) Length() int {
	return len(q.items)
}
