// Package buffer provides a generic thread-safe ring buffer with a
// configurable overflow policy.
//
// Statistics are always collected; Prometheus metrics are opt-in through
// WithMetrics.
package buffer

import "errors"

// ErrFull is returned by Write under the Reject policy when the buffer is
// at capacity.
var ErrFull = errors.New("buffer full")

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("buffer closed")

// Buffer is a bounded FIFO of T.
type Buffer[T any] interface {
	// Write appends item, applying the overflow policy when full.
	Write(item T) error
	// Read removes and returns the oldest item.
	Read() (T, bool)
	// ReadBatch removes and returns up to max of the oldest items.
	ReadBatch(max int) []T
	// Peek returns the oldest item without removing it.
	Peek() (T, bool)
	Size() int
	Capacity() int
	IsFull() bool
	IsEmpty() bool
	// Clear removes every item, reporting each to the drop callback.
	Clear()
	Stats() *Statistics
	Close() error
}

// OverflowPolicy decides what Write does on a full buffer.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the item being written.
	DropNewest
	// Reject fails the write with ErrFull.
	Reject
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Reject:
		return "Reject"
	default:
		return "Unknown"
	}
}

// DropCallback receives items evicted by the overflow policy or Clear.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring buffer of the given capacity (minimum 1).
// It fails only when metric registration was requested and failed.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	return newCircularBuffer(capacity, applyOptions(options...))
}
