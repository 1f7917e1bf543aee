// Package queue provides the bounded multi-producer/multi-consumer ring used
// for the scheduler's global and per-worker queues.
package queue

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Ring is a bounded MPMC FIFO with a per-cell sequence number
// (Vyukov's bounded queue). Push and TryPop never block and never allocate.
//
// A successful Push publishes the value with a release store on the cell
// sequence; the TryPop that observes it performs the matching acquire load,
// so everything the producer wrote before Push is visible to the consumer.
type Ring[T any] struct {
	_    cpu.CacheLinePad
	tail atomic.Uint64
	_    cpu.CacheLinePad
	head atomic.Uint64
	_    cpu.CacheLinePad

	mask  uint64
	cells []cell[T]
}

type cell[T any] struct {
	seq atomic.Uint64
	val T
}

// New returns a ring holding at least capacity elements. The capacity is
// rounded up to the next power of two (minimum 2).
func New[T any](capacity int) *Ring[T] {
	size := RoundPow2(capacity)
	r := &Ring[T]{
		mask:  uint64(size - 1),
		cells: make([]cell[T], size),
	}
	for i := range r.cells {
		r.cells[i].seq.Store(uint64(i))
	}
	return r
}

// RoundPow2 returns the smallest power of two >= n (minimum 2).
func RoundPow2(n int) int {
	size := 2
	for size < n {
		size <<= 1
	}
	return size
}

// Push appends v. It returns false when the ring is full.
func (r *Ring[T]) Push(v T) bool {
	for {
		pos := r.tail.Load()
		c := &r.cells[pos&r.mask]
		seq := c.seq.Load()
		switch dif := int64(seq) - int64(pos); {
		case dif == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				c.val = v
				c.seq.Store(pos + 1)
				return true
			}
		case dif < 0:
			return false
		}
		// Another producer claimed pos; reload.
	}
}

// TryPop removes the oldest element. ok is false when the ring is empty.
func (r *Ring[T]) TryPop() (v T, ok bool) {
	for {
		pos := r.head.Load()
		c := &r.cells[pos&r.mask]
		seq := c.seq.Load()
		switch dif := int64(seq) - int64(pos+1); {
		case dif == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				v = c.val
				var zero T
				c.val = zero
				c.seq.Store(pos + r.mask + 1)
				return v, true
			}
		case dif < 0:
			return v, false
		}
	}
}

// Len is an approximate element count; exact only when the ring is quiescent.
func (r *Ring[T]) Len() int {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail <= head {
		return 0
	}
	n := int(tail - head)
	if n > len(r.cells) {
		n = len(r.cells)
	}
	return n
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.cells) }
