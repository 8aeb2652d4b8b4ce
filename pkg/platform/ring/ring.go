// Package ring provides a bounded FIFO buffer. When full, the oldest item is
// evicted to make room for the newest one.
package ring

import "sync"

// Buffer is a bounded, thread-safe ring of T.
type Buffer[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // next write position
	tail     int // oldest item
	count    int
	capacity int
}

// New creates a buffer with the given capacity. Non-positive capacities
// default to 100.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Buffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Push adds v, evicting the oldest item when full.
func (b *Buffer[T]) Push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		var zero T
		b.items[b.tail] = zero
		b.tail = (b.tail + 1) % b.capacity
		b.count--
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % b.capacity
	b.count++
}

// Items returns a copy of the buffered items, oldest first.
func (b *Buffer[T]) Items() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.items[(b.tail+i)%b.capacity]
	}
	return out
}
