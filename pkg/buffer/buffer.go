// Package buffer provides a generic, thread-safe bounded ring buffer with
// configurable overflow policies. It backs the per-subscriber outbound queues
// of the live bus: writes never block, and overflow resolves by dropping
// according to policy while counting what was dropped.
package buffer

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropNewest drops the incoming item when the buffer is full.
	DropNewest OverflowPolicy = iota

	// DropOldest removes the oldest item to make room for new items.
	DropOldest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropNewest:
		return "DropNewest"
	case DropOldest:
		return "DropOldest"
	default:
		return "Unknown"
	}
}

// Statistics holds cumulative buffer counters. Counters are sampled under the
// ring's lock, so a snapshot is internally consistent.
type Statistics struct {
	Writes int64
	Reads  int64
	Drops  int64
	Size   int
}

// Option configures a Ring.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy       OverflowPolicy
	dropCallback func(T)
}

// WithOverflowPolicy sets the overflow policy (default DropNewest).
func WithOverflowPolicy[T any](p OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.policy = p
	}
}

// WithDropCallback registers a callback invoked (outside the lock) for every
// item dropped due to overflow.
func WithDropCallback[T any](fn func(T)) Option[T] {
	return func(o *options[T]) {
		o.dropCallback = fn
	}
}
