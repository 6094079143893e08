// Package ring provides a fixed-capacity buffer that drops its oldest entry on overflow.
package ring

// Buffer is a bounded FIFO. It is not safe for concurrent use; callers hold their own lock.
type Buffer[T any] struct {
	items []T
	head  int
	size  int
}

// New returns a buffer holding at most capacity items. A non-positive capacity yields 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest item when full. It reports whether an item was evicted.
func (b *Buffer[T]) Push(v T) (evicted T, dropped bool) {
	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.head+b.size)%capacity] = v
		b.size++
		return evicted, false
	}
	evicted = b.items[b.head]
	b.items[b.head] = v
	b.head = (b.head + 1) % capacity
	return evicted, true
}

// Len returns the number of stored items.
func (b *Buffer[T]) Len() int {
	return b.size
}

// Cap returns the capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Items returns a copy of the stored items, oldest first.
func (b *Buffer[T]) Items() []T {
	out := make([]T, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(b.head+i)%len(b.items)])
	}
	return out
}

// Last returns up to n of the most recent items, oldest first.
func (b *Buffer[T]) Last(n int) []T {
	items := b.Items()
	if n <= 0 || n >= len(items) {
		return items
	}
	return items[len(items)-n:]
}

// Reset drops every item.
func (b *Buffer[T]) Reset() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}
