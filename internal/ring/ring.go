// Package ring implements a bounded single-producer/single-consumer ring.
//
// Exactly one goroutine may call TryPush and exactly one may call TryPop;
// any other discipline is undefined. The producer owns the head index, the
// consumer owns the tail index, and the two live on separate cache lines so
// the hot loops never invalidate each other's line. One slot is kept as a
// sentinel to distinguish full from empty, so a ring of capacity N holds at
// most N-1 items.
package ring

import (
	"fmt"
	"sync/atomic"
)

const cacheLine = 64

// Ring is a bounded SPSC queue over a preallocated slot array.
// The zero value is not usable; construct with New.
type Ring[T any] struct {
	head atomic.Uint64 // written by producer, read by consumer
	_    [cacheLine - 8]byte
	tail atomic.Uint64 // written by consumer, read by producer
	_    [cacheLine - 8]byte

	mask uint64
	buf  []T
}

// New creates a ring with the given capacity, which must be a power of two
// and at least 2. No allocation happens after construction.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring: capacity %d is not a power of two >= 2", capacity)
	}
	return &Ring[T]{
		mask: uint64(capacity - 1),
		buf:  make([]T, capacity),
	}, nil
}

// TryPush appends v and reports whether there was space. Producer side only.
// The slot write happens before the head store, so a consumer that observes
// the new head observes the full slot.
func (r *Ring[T]) TryPush(v T) bool {
	head := r.head.Load()
	next := (head + 1) & r.mask
	if next == r.tail.Load() {
		return false // full
	}
	r.buf[head] = v
	r.head.Store(next)
	return true
}

// TryPop removes and returns the oldest item. Consumer side only.
func (r *Ring[T]) TryPop() (T, bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		var zero T
		return zero, false // empty
	}
	v := r.buf[tail]
	r.tail.Store((tail + 1) & r.mask)
	return v, true
}

// Len reports the number of outstanding items. It is a sampled value:
// exact only when called from the producer or consumer goroutine.
func (r *Ring[T]) Len() int {
	return int((r.head.Load() - r.tail.Load()) & r.mask)
}

// Cap reports the usable capacity (one slot below the slot count).
func (r *Ring[T]) Cap() int {
	return int(r.mask)
}

// Full reports whether a push would currently fail.
func (r *Ring[T]) Full() bool {
	return (r.head.Load()+1)&r.mask == r.tail.Load()
}
