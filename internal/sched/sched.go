// Package sched provides the bounded-concurrency continuation executor that
// drives partitioning and group sorting.
//
// Work is submitted as continuations (plain closures). A continuation never
// blocks waiting for another one; code that has to wait captures its state
// and submits a new continuation once the awaited event fires.
package sched

import (
	"sync"
	"sync/atomic"
)

// compactThreshold is the consumed-prefix length after which the pending
// queue is compacted in place.
const compactThreshold = 1024

// Scheduler runs continuations on at most maxConcurrency goroutines.
//
// Submit starts a new worker when fewer than maxConcurrency are active;
// otherwise the continuation is queued. A worker runs its continuation, then
// drains the queue until it is empty and exits. There is no priority and no
// cancellation: every submitted continuation runs exactly once.
type Scheduler struct {
	mu      sync.Mutex
	pending []func()
	head    int // index of the oldest queued continuation
	active  int
	max     int

	submitted atomic.Uint64
}

// New creates a Scheduler with the given concurrency cap (minimum 1).
func New(maxConcurrency int) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Scheduler{max: maxConcurrency}
}

// MaxConcurrency returns the worker cap.
func (s *Scheduler) MaxConcurrency() int {
	return s.max
}

// Submit schedules fn to run exactly once.
func (s *Scheduler) Submit(fn func()) {
	if fn == nil {
		panic("sched: nil continuation")
	}
	s.submitted.Add(1)

	s.mu.Lock()
	if s.active >= s.max {
		s.pending = append(s.pending, fn)
		s.mu.Unlock()
		return
	}
	s.active++
	s.mu.Unlock()

	go s.work(fn)
}

// Submitted returns the total number of continuations submitted so far.
func (s *Scheduler) Submitted() uint64 {
	return s.submitted.Load()
}

func (s *Scheduler) work(fn func()) {
	for fn != nil {
		fn()
		fn = s.next()
	}
}

// next pops the oldest queued continuation, or retires the calling worker
// when the queue is empty.
func (s *Scheduler) next() func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.head == len(s.pending) {
		s.pending = s.pending[:0]
		s.head = 0
		s.active--
		return nil
	}

	fn := s.pending[s.head]
	s.pending[s.head] = nil
	s.head++

	if s.head >= compactThreshold && s.head*2 >= len(s.pending) {
		n := copy(s.pending, s.pending[s.head:])
		clear(s.pending[n:])
		s.pending = s.pending[:n]
		s.head = 0
	}
	return fn
}
