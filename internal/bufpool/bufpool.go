// Package bufpool provides a pool of fixed-size byte buffers with
// reference-counted checkout.
//
// Every buffer has the same physical length: a usable region followed by a
// small trailing slack. The slack lets readers load a fixed-width word that
// starts inside the usable region without a bounds check; bytes in the slack
// carry no data.
//
// The pool grows lazily and shrinks only through Trim. A pool created with
// WithMaxBuffers caps the number of buffers checked out at once; Get reports
// false instead of growing past the cap, and callers are expected to retry
// after some buffers have been released.
package bufpool

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Option configures a Pool.
type Option func(*Pool)

// WithMaxBuffers caps the number of buffers checked out at once.
func WithMaxBuffers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxBuffers = n
			p.limit = semaphore.NewWeighted(int64(n))
		}
	}
}

// Pool hands out Buffers of a fixed size.
type Pool struct {
	usable   int
	physical int

	mu   sync.Mutex
	free [][]byte

	maxBuffers int
	limit      *semaphore.Weighted // nil if unlimited

	checkedOut atomic.Int64
	allocated  atomic.Int64
}

// New creates a pool of buffers with usable bytes of payload and slack extra
// trailing bytes.
func New(usable, slack int, opts ...Option) *Pool {
	if usable <= 0 {
		panic("bufpool: usable length must be positive")
	}
	if slack < 0 {
		slack = 0
	}
	p := &Pool{
		usable:   usable,
		physical: usable + slack,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Usable returns the usable length of every buffer.
func (p *Pool) Usable() int { return p.usable }

// Physical returns the physical (usable + slack) length of every buffer.
func (p *Pool) Physical() int { return p.physical }

// MaxBuffers returns the checkout cap, or 0 if the pool is unlimited.
func (p *Pool) MaxBuffers() int { return p.maxBuffers }

// Get checks out one buffer with a reference count of one. It reports false
// only when the pool is capped and the cap is reached.
func (p *Pool) Get() (*Buffer, bool) {
	if p.limit != nil && !p.limit.TryAcquire(1) {
		return nil, false
	}
	return p.take(), true
}

// GetN checks out n buffers, or none if the cap does not leave room for all
// of them.
func (p *Pool) GetN(n int) ([]*Buffer, bool) {
	if n <= 0 {
		return nil, true
	}
	if p.limit != nil {
		if n > p.maxBuffers || !p.limit.TryAcquire(int64(n)) {
			return nil, false
		}
	}
	bufs := make([]*Buffer, n)
	for i := range bufs {
		bufs[i] = p.take()
	}
	return bufs, true
}

func (p *Pool) take() *Buffer {
	p.mu.Lock()
	var data []byte
	if n := len(p.free); n > 0 {
		data = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
	}
	p.mu.Unlock()

	if data == nil {
		data = make([]byte, p.physical)
		p.allocated.Add(1)
	}
	p.checkedOut.Add(1)

	b := &Buffer{pool: p, data: data}
	b.refs.Store(1)
	return b
}

func (p *Pool) put(data []byte) {
	p.mu.Lock()
	p.free = append(p.free, data)
	p.mu.Unlock()

	p.checkedOut.Add(-1)
	if p.limit != nil {
		p.limit.Release(1)
	}
}

// Trim drops idle buffers until at most keep remain in the free list.
func (p *Pool) Trim(keep int) {
	if keep < 0 {
		keep = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) <= keep {
		return
	}
	dropped := len(p.free) - keep
	clear(p.free[keep:])
	p.free = p.free[:keep]
	p.allocated.Add(-int64(dropped))
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Allocated  int64 // buffers currently owned by the pool (idle + checked out)
	CheckedOut int64 // buffers with at least one live reference
	Idle       int   // buffers waiting in the free list
}

// Stats returns current pool usage.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle := len(p.free)
	p.mu.Unlock()
	return Stats{
		Allocated:  p.allocated.Load(),
		CheckedOut: p.checkedOut.Load(),
		Idle:       idle,
	}
}

// Buffer is a reference-counted handle to one pooled buffer.
//
// The holder of the last reference returns the memory to the pool with
// Release; the contents must not be touched afterwards. Releasing more
// times than the buffer was retained panics.
type Buffer struct {
	pool *Pool
	data []byte
	refs atomic.Int32
}

// Bytes returns the full physical buffer (usable region plus slack).
func (b *Buffer) Bytes() []byte { return b.data }

// Usable returns the usable region of the buffer.
func (b *Buffer) Usable() []byte { return b.data[:b.pool.usable] }

// Retain adds a reference and returns b for chaining.
func (b *Buffer) Retain() *Buffer {
	if b.refs.Add(1) <= 1 {
		panic("bufpool: retain of released buffer")
	}
	return b
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int32 { return b.refs.Load() }

// Release drops one reference, returning the buffer to its pool when the
// count reaches zero.
func (b *Buffer) Release() {
	switch n := b.refs.Add(-1); {
	case n == 0:
		data := b.data
		b.data = nil
		b.pool.put(data)
	case n < 0:
		panic("bufpool: buffer released twice")
	}
}
