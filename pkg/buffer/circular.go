package buffer

import (
	"sync"

	"github.com/c360/qmiloc/errors"
)

type circularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *bufferOptions[T]
	closed   bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.registrar != nil {
		var err error
		metrics, err = newBufferMetrics(opts.registrar, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	return &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

func (cb *circularBuffer[T]) Write(item T) error {
	var dropped []T
	err := func() error {
		cb.mu.Lock()
		defer cb.mu.Unlock()

		if cb.closed {
			return errors.WrapInvalid(ErrClosed, "Buffer", "Write", "buffer closed")
		}

		if cb.size == cb.capacity {
			cb.stats.Overflow()
			cb.metrics.recordOverflow()

			switch cb.opts.overflowPolicy {
			case Reject:
				return ErrFull
			case DropNewest:
				cb.stats.Drop()
				cb.metrics.recordDrop()
				dropped = append(dropped, item)
				return nil
			default:
				dropped = append(dropped, cb.pop())
				cb.stats.Drop()
				cb.metrics.recordDrop()
			}
		}

		cb.items[cb.head] = item
		cb.head = (cb.head + 1) % cb.capacity
		cb.size++

		cb.stats.Write()
		cb.stats.UpdateSize(int64(cb.size))
		cb.metrics.recordWrite(cb.size, cb.capacity)
		return nil
	}()

	// Callbacks run outside the lock so they may touch the buffer.
	cb.notifyDropped(dropped)
	return err
}

// pop removes the oldest item. The caller holds mu and size > 0.
func (cb *circularBuffer[T]) pop() T {
	var zero T
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--
	return item
}

func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}
	item := cb.pop()

	cb.stats.Read()
	cb.stats.UpdateSize(int64(cb.size))
	cb.metrics.recordRead(1, cb.size, cb.capacity)
	return item, true
}

func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	n := min(max, cb.size)
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i] = cb.pop()
		cb.stats.Read()
	}

	cb.stats.UpdateSize(int64(cb.size))
	cb.metrics.recordRead(n, cb.size, cb.capacity)
	return out
}

func (cb *circularBuffer[T]) Peek() (T, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}
	cb.stats.Peek()
	return cb.items[cb.tail], true
}

func (cb *circularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

func (cb *circularBuffer[T]) IsFull() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == cb.capacity
}

func (cb *circularBuffer[T]) IsEmpty() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == 0
}

func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	var dropped []T
	if cb.opts.dropCallback != nil {
		dropped = make([]T, 0, cb.size)
	}
	for cb.size > 0 {
		item := cb.pop()
		if dropped != nil {
			dropped = append(dropped, item)
		}
	}
	cb.head, cb.tail = 0, 0
	cb.stats.UpdateSize(0)
	cb.metrics.updateSize(0, cb.capacity)
	cb.mu.Unlock()

	cb.notifyDropped(dropped)
}

func (cb *circularBuffer[T]) notifyDropped(items []T) {
	if cb.opts.dropCallback == nil {
		return
	}
	for _, item := range items {
		cb.opts.dropCallback(item)
	}
}

func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.closed = true
	return nil
}
