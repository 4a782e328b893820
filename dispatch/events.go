package dispatch

import (
	"sync/atomic"

	"github.com/c360/qmiloc/loc"
)

// EventRegistry is the client's event registration mask. It starts empty
// when a connection is established, changes only through RegEvents and is
// reset at disconnect. All methods are safe for concurrent use; Add and
// Remove are atomic read-modify-write operations.
type EventRegistry struct {
	mask atomic.Uint64
}

// NewEventRegistry returns an empty registry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{}
}

// Set replaces the mask.
func (r *EventRegistry) Set(m loc.EventMask) {
	r.mask.Store(uint64(m))
}

// Add sets bits in m and returns the resulting mask. Adding a bit that is
// already set changes nothing.
func (r *EventRegistry) Add(m loc.EventMask) loc.EventMask {
	for {
		old := r.mask.Load()
		next := old | uint64(m)
		if r.mask.CompareAndSwap(old, next) {
			return loc.EventMask(next)
		}
	}
}

// Remove clears bits in m and returns the resulting mask.
func (r *EventRegistry) Remove(m loc.EventMask) loc.EventMask {
	for {
		old := r.mask.Load()
		next := old &^ uint64(m)
		if r.mask.CompareAndSwap(old, next) {
			return loc.EventMask(next)
		}
	}
}

// Load returns the current mask.
func (r *EventRegistry) Load() loc.EventMask {
	return loc.EventMask(r.mask.Load())
}

// Has reports whether every bit of m is registered.
func (r *EventRegistry) Has(m loc.EventMask) bool {
	return r.Load().Has(m)
}

// Reset clears the mask.
func (r *EventRegistry) Reset() {
	r.mask.Store(0)
}
