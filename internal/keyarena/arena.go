// Package keyarena provides the preallocated storage that group sorts carve
// their per-record sort keys from.
//
// An Arena is one flat slice of T sized from a memory budget. Callers reserve
// contiguous ranges of it with a first-fit scan over a free list of extents
// kept in offset order; releasing a range puts its extent back and merges it
// with any free neighbour it touches. The free list and the reserved ranges
// always partition [0, Capacity) exactly.
//
// Reservations are coarse (one per loaded group), so a single mutex around
// the free list is enough.
package keyarena

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// Extent is a half-open interval [Offset, Offset+Length) of arena slots.
type Extent struct {
	Offset int
	Length int
}

type node struct {
	Extent
	prev, next *node
}

// Arena is a fixed-capacity range allocator over a []T.
type Arena[T any] struct {
	capacity int

	mu       sync.Mutex
	data     []T
	head     *node // free extents in ascending offset order
	reserved int
}

// New creates an arena holding min(requested, budgetBytes/sizeof(T)) slots.
// A non-positive budget means no budget cap. The backing slice is allocated
// on the first reservation.
func New[T any](requested int, budgetBytes int64) *Arena[T] {
	if requested < 0 {
		requested = 0
	}
	capacity := requested
	var zero T
	if size := int64(unsafe.Sizeof(zero)); size > 0 && budgetBytes > 0 {
		if limit := budgetBytes / size; int64(capacity) > limit {
			capacity = int(limit)
		}
	}

	a := &Arena[T]{capacity: capacity}
	if capacity > 0 {
		a.head = &node{Extent: Extent{Offset: 0, Length: capacity}}
	}
	return a
}

// SlotSize returns the size in bytes of one arena slot.
func SlotSize[T any]() int64 {
	var zero T
	return int64(unsafe.Sizeof(zero))
}

// Capacity returns the total number of slots.
func (a *Arena[T]) Capacity() int { return a.capacity }

// Reserved returns the number of slots currently reserved.
func (a *Arena[T]) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved
}

// TryReserve reserves n contiguous slots. It reports false when no single
// free extent is large enough; that is not an error, the caller retries once
// other ranges have been released.
func (a *Arena[T]) TryReserve(n int) (*Range[T], bool) {
	if n < 0 {
		panic("keyarena: negative reservation")
	}
	if n == 0 {
		return &Range[T]{arena: a}, true
	}
	if n > a.capacity {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for e := a.head; e != nil; e = e.next {
		if e.Length < n {
			continue
		}
		if a.data == nil {
			a.data = make([]T, a.capacity)
		}

		off := e.Offset
		e.Offset += n
		e.Length -= n
		if e.Length == 0 {
			a.unlink(e)
		}
		a.reserved += n
		return &Range[T]{arena: a, offset: off, length: n}, true
	}
	return nil, false
}

// release returns [off, off+n) to the free list, merging with free
// neighbours on either side.
func (a *Arena[T]) release(off, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var prev *node
	next := a.head
	for next != nil && next.Offset < off {
		prev, next = next, next.next
	}

	if prev != nil && prev.Offset+prev.Length > off {
		panic("keyarena: released range overlaps a free extent")
	}
	if next != nil && off+n > next.Offset {
		panic("keyarena: released range overlaps a free extent")
	}

	a.reserved -= n

	mergePrev := prev != nil && prev.Offset+prev.Length == off
	mergeNext := next != nil && off+n == next.Offset

	switch {
	case mergePrev && mergeNext:
		prev.Length += n + next.Length
		a.unlink(next)
	case mergePrev:
		prev.Length += n
	case mergeNext:
		next.Offset = off
		next.Length += n
	default:
		e := &node{Extent: Extent{Offset: off, Length: n}, prev: prev, next: next}
		if prev != nil {
			prev.next = e
		} else {
			a.head = e
		}
		if next != nil {
			next.prev = e
		}
	}
}

func (a *Arena[T]) unlink(e *node) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		a.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	e.prev, e.next = nil, nil
}

// FreeExtents returns a snapshot of the free list in offset order.
func (a *Arena[T]) FreeExtents() []Extent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Extent
	for e := a.head; e != nil; e = e.next {
		out = append(out, e.Extent)
	}
	return out
}

// Range is an exclusively owned reservation of arena slots.
type Range[T any] struct {
	arena    *Arena[T]
	offset   int
	length   int
	released atomic.Bool
}

// Offset returns the first reserved slot.
func (r *Range[T]) Offset() int { return r.offset }

// Len returns the number of reserved slots.
func (r *Range[T]) Len() int { return r.length }

// Slice returns the reserved slots. The slice is capped at Len so appends
// cannot run into a neighbouring reservation.
func (r *Range[T]) Slice() []T {
	if r.length == 0 {
		return nil
	}
	return r.arena.data[r.offset : r.offset+r.length : r.offset+r.length]
}

// Release returns the range to its arena. Releasing twice panics.
func (r *Range[T]) Release() {
	if !r.released.CompareAndSwap(false, true) {
		panic("keyarena: range released twice")
	}
	if r.length == 0 {
		return
	}
	r.arena.release(r.offset, r.length)
}
