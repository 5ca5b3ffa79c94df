package sched

import (
	"sync"
	"sync/atomic"
)

// Countdown is a one-shot barrier: after n calls to Signal, done runs once
// with the first non-nil error reported (or nil).
//
// done runs on the goroutine that delivers the last signal. Callers that
// need to hand control back to a blocked goroutine do it from done (for
// example by sending on a channel).
type Countdown struct {
	remaining atomic.Int64

	mu   sync.Mutex
	err  error
	done func(error)
}

// NewCountdown creates a barrier expecting n signals. If n is zero, done runs
// immediately.
func NewCountdown(n int, done func(error)) *Countdown {
	if n < 0 {
		panic("sched: negative countdown")
	}
	c := &Countdown{done: done}
	c.remaining.Store(int64(n))
	if n == 0 {
		done(nil)
	}
	return c
}

// Signal records one completion. The first non-nil err is kept and passed
// to done.
func (c *Countdown) Signal(err error) {
	if err != nil {
		c.mu.Lock()
		if c.err == nil {
			c.err = err
		}
		c.mu.Unlock()
	}

	switch left := c.remaining.Add(-1); {
	case left == 0:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		c.done(err)
	case left < 0:
		panic("sched: countdown signalled too many times")
	}
}

// Err returns the first error reported so far.
func (c *Countdown) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
