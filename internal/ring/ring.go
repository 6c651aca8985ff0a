// Package ring provides a fixed-capacity FIFO buffer backed by a single
// slice and a head index. Pushing into a full buffer evicts the oldest entry,
// so memory stays bounded no matter how many values pass through it.
//
// A Buffer is not safe for concurrent use; callers guard it with their own lock.
package ring

// Buffer is a fixed-capacity FIFO of T.
type Buffer[T any] struct {
	items []T
	head  int
	size  int
}

// New returns an empty Buffer that holds at most capacity values.
// A capacity below one is treated as one.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Len reports the number of values currently held.
func (b *Buffer[T]) Len() int { return b.size }

// Cap reports the maximum number of values the buffer holds.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Full reports whether the next Push will evict a value.
func (b *Buffer[T]) Full() bool { return b.size == len(b.items) }

// Push appends v as the newest value. When the buffer is full the oldest value
// is overwritten and returned with evicted set to true.
func (b *Buffer[T]) Push(v T) (old T, evicted bool) {
	if b.size < len(b.items) {
		b.items[b.index(b.size)] = v
		b.size++
		return old, false
	}
	old = b.items[b.head]
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
	return old, true
}

// Front returns the oldest value.
func (b *Buffer[T]) Front() (v T, ok bool) {
	if b.size == 0 {
		return v, false
	}
	return b.items[b.head], true
}

// Back returns the newest value.
func (b *Buffer[T]) Back() (v T, ok bool) {
	if b.size == 0 {
		return v, false
	}
	return b.items[b.index(b.size-1)], true
}

// PopFront removes and returns the oldest value.
func (b *Buffer[T]) PopFront() (v T, ok bool) {
	if b.size == 0 {
		return v, false
	}
	var zero T
	v = b.items[b.head]
	b.items[b.head] = zero
	b.head = (b.head + 1) % len(b.items)
	b.size--
	return v, true
}

// DropWhile pops values from the front for as long as pred holds and returns
// how many were removed.
func (b *Buffer[T]) DropWhile(pred func(T) bool) int {
	n := 0
	for b.size > 0 && pred(b.items[b.head]) {
		b.PopFront()
		n++
	}
	return n
}

// Last returns a copy of the newest n values, oldest first. A negative or
// oversized n returns everything.
func (b *Buffer[T]) Last(n int) []T {
	if n < 0 || n > b.size {
		n = b.size
	}
	out := make([]T, n)
	start := b.size - n
	for i := range out {
		out[i] = b.items[b.index(start+i)]
	}
	return out
}

// All returns a copy of every value, oldest first.
func (b *Buffer[T]) All() []T { return b.Last(b.size) }

// Resize changes the capacity, keeping the newest values when shrinking.
func (b *Buffer[T]) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	if capacity == len(b.items) {
		return
	}
	kept := b.Last(min(b.size, capacity))
	b.items = make([]T, capacity)
	copy(b.items, kept)
	b.head = 0
	b.size = len(kept)
}

// Reset empties the buffer without changing its capacity.
func (b *Buffer[T]) Reset() {
	clear(b.items)
	b.head = 0
	b.size = 0
}

func (b *Buffer[T]) index(offset int) int {
	return (b.head + offset) % len(b.items)
}
