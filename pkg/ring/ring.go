// Package ring provides a fixed-capacity FIFO ring.
package ring

// Ring holds up to size values in insertion order. Pushing onto a full ring
// overwrites the oldest value and hands it back to the caller.
type Ring[T any] struct {
	items []T
	size  int
	head  int // next write position
	count int
}

// New creates a Ring with the given capacity.
func New[T any](size int) *Ring[T] {
	if size <= 0 {
		panic("ring size must be positive")
	}
	return &Ring[T]{items: make([]T, size), size: size}
}

// Push appends v. If the ring was full, the overwritten oldest value is
// returned with evicted=true.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	if r.count == r.size {
		old, evicted = r.items[r.head], true
	}
	r.items[r.head] = v
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
	return old, evicted
}

// Len returns the number of values held.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return r.size }

// Items returns the values oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.count)
	if r.count < r.size {
		copy(out, r.items[:r.head])
		return out
	}
	n := copy(out, r.items[r.head:])
	copy(out[n:], r.items[:r.head])
	return out
}

// Do calls fn for each value oldest first.
func (r *Ring[T]) Do(fn func(T)) {
	start := 0
	if r.count == r.size {
		start = r.head
	}
	for i := 0; i < r.count; i++ {
		fn(r.items[(start+i)%r.size])
	}
}
