package buffer

import (
	"sync"

	"github.com/Alirezaa02/webvis-oakd-dashboard/errors"
)

// Ring is a fixed-capacity circular buffer. All methods are safe for
// concurrent use. Write never blocks: when the ring is full the overflow
// policy decides which item is dropped.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	closed   bool

	writes int64
	reads  int64
	drops  int64

	opts options[T]
}

// NewRing creates a ring buffer with the given capacity (minimum 1).
func NewRing[T any](capacity int, opts ...Option[T]) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}

	o := options[T]{policy: DropNewest}
	for _, opt := range opts {
		opt(&o)
	}

	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		opts:     o,
	}
}

// Write adds an item according to the overflow policy. It returns
// errors.ErrDeliveryDropped when the item (or, for DropOldest, a displaced
// older item) was dropped, and an invalid error when the ring is closed.
func (r *Ring[T]) Write(item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShuttingDown, "Ring", "Write", "write to closed ring")
	}

	var dropped T
	var didDrop bool

	if r.size == r.capacity {
		switch r.opts.policy {
		case DropNewest:
			r.drops++
			r.mu.Unlock()
			if r.opts.dropCallback != nil {
				r.opts.dropCallback(item)
			}
			return errors.ErrDeliveryDropped

		case DropOldest:
			dropped = r.items[r.tail]
			didDrop = true
			r.tail = (r.tail + 1) % r.capacity
			r.size--
			r.drops++
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.writes++
	r.mu.Unlock()

	if didDrop && r.opts.dropCallback != nil {
		r.opts.dropCallback(dropped)
	}
	if didDrop {
		return errors.ErrDeliveryDropped
	}
	return nil
}

// Read retrieves and removes one item. Returns false when the ring is empty.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero // release for GC
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.reads++

	return item, true
}

// ReadBatch retrieves and removes up to max items, oldest first.
func (r *Ring[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}

	n := max
	if n > r.size {
		n = r.size
	}

	var zero T
	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = r.items[r.tail]
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
	}
	r.size -= n
	r.reads += int64(n)

	return result
}

// Size returns the current number of buffered items.
func (r *Ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the fixed capacity of the ring.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// IsFull reports whether the ring is at capacity.
func (r *Ring[T]) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == r.capacity
}

// Stats returns a consistent snapshot of the cumulative counters.
func (r *Ring[T]) Stats() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Statistics{
		Writes: r.writes,
		Reads:  r.reads,
		Drops:  r.drops,
		Size:   r.size,
	}
}

// Close marks the ring closed and clears its contents. Subsequent writes fail;
// reads drain nothing.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.size = 0
	r.head = 0
	r.tail = 0
}
