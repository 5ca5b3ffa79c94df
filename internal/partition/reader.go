package partition

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tamirms/bucketsort/internal/bufpool"
	"github.com/tamirms/bucketsort/internal/record"
	"github.com/tamirms/bucketsort/internal/sched"
)

// DefaultReadahead is the number of read buffers kept in flight per engine.
const DefaultReadahead = 16

// chunk is one filled read buffer. The data occupies
// buf.Bytes()[record.Reserve : record.Reserve+n] and is followed by an
// EndBuff or EndStream sentinel.
type chunk struct {
	buf  *bufpool.Buffer
	base int64 // input offset of the first data byte
	end  int   // index of the sentinel in buf.Bytes()
}

// reader streams one byte range of the input as a sequence of pooled
// buffers. Up to depth reads run concurrently on the scheduler; the consumer
// takes buffers strictly in order.
type reader struct {
	sched *sched.Scheduler
	pool  *bufpool.Pool
	src   io.ReaderAt
	rng   Range
	size  int // data bytes per buffer
	total int // number of buffers covering rng
	depth int

	mu     sync.Mutex
	slots  []chunk // ring indexed by seq % depth
	next   int     // seq of the next buffer to hand out
	issued int     // number of reads submitted
	waiter func()  // consumer continuation waiting for slots[next]
	err    error
	closed bool
}

func newReader(s *sched.Scheduler, pool *bufpool.Pool, src io.ReaderAt, rng Range, depth int) *reader {
	if depth < 1 {
		depth = DefaultReadahead
	}
	size := pool.Usable()
	total := int((rng.Len() + int64(size) - 1) / int64(size))
	if total == 0 {
		// An empty range still yields one buffer carrying EndStream.
		total = 1
	}
	return &reader{
		sched: s,
		pool:  pool,
		src:   src,
		rng:   rng,
		size:  size,
		total: total,
		depth: depth,
		slots: make([]chunk, depth),
	}
}

// fill submits reads until depth buffers are in flight or ready.
// r.mu must be held.
func (r *reader) fill() {
	for r.issued < r.total && r.issued-r.next < r.depth && !r.closed && r.err == nil {
		seq := r.issued
		r.issued++
		r.sched.Submit(func() { r.load(seq) })
	}
}

// load reads buffer seq and publishes it, waking the consumer if it is
// waiting for exactly this buffer.
func (r *reader) load(seq int) {
	buf, _ := r.pool.Get() // read pools are uncapped

	base := r.rng.From + int64(seq)*int64(r.size)
	n := int(min(int64(r.size), r.rng.To-base))
	data := buf.Bytes()

	read, err := r.src.ReadAt(data[record.Reserve:record.Reserve+n], base)
	if read == n && errors.Is(err, io.EOF) {
		err = nil
	} else if err == nil && read < n {
		err = io.ErrUnexpectedEOF
	}

	if seq == r.total-1 {
		data[record.Reserve+n] = record.EndStream
	} else {
		data[record.Reserve+n] = record.EndBuff
	}

	r.mu.Lock()
	switch {
	case r.closed:
		buf.Release()
	case err != nil:
		buf.Release()
		if r.err == nil {
			r.err = fmt.Errorf("read input at offset %d: %w", base, err)
		}
	default:
		r.slots[seq%r.depth] = chunk{buf: buf, base: base, end: record.Reserve + n}
	}

	var wake func()
	if r.waiter != nil && (seq == r.next || r.err != nil) {
		wake = r.waiter
		r.waiter = nil
	}
	r.mu.Unlock()

	if wake != nil {
		r.sched.Submit(wake)
	}
}

// nextChunk returns the next buffer in sequence. If it has not been read
// yet, nextChunk records resume, returns ok == false, and submits resume
// once the buffer is available (or a read has failed).
func (r *reader) nextChunk(resume func()) (c chunk, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return chunk{}, false, r.err
	}
	if r.next >= r.total {
		return chunk{}, false, fmt.Errorf("read past end of range [%d, %d)", r.rng.From, r.rng.To)
	}

	r.fill()

	slot := &r.slots[r.next%r.depth]
	if slot.buf == nil {
		r.waiter = resume
		return chunk{}, false, nil
	}

	c = *slot
	*slot = chunk{}
	r.next++
	r.fill()
	return c, true, nil
}

// close releases buffers that were read ahead but never consumed. Reads
// still in flight release their buffers when they complete.
func (r *reader) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.waiter = nil
	for i := range r.slots {
		if r.slots[i].buf != nil {
			r.slots[i].buf.Release()
			r.slots[i] = chunk{}
		}
	}
}
