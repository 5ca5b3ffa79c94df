package partition

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/tamirms/bucketsort/internal/bufpool"
	"github.com/tamirms/bucketsort/internal/record"
	"github.com/tamirms/bucketsort/internal/sched"
)

// accum is the accumulation buffer of one group.
type accum struct {
	buf *bufpool.Buffer
	n   int
}

// sink collects one engine's records per group and writes full buffers to
// the engine's region of the intermediate file.
//
// The engine's output region is its own input range: a record takes the
// same number of bytes in both files, so the engine's write cursor never
// leaves [rng.From, rng.To).
type sink struct {
	sched *sched.Scheduler
	pool  *bufpool.Pool
	out   io.WriterAt
	table *Table
	rng   Range

	cursor int64
	accums []accum

	// pending counts scheduled writes plus one token held until flush or
	// abort; done runs when it drops to zero.
	pending atomic.Int64
	mu      sync.Mutex
	err     error
	done    func(error)
}

func newSink(s *sched.Scheduler, pool *bufpool.Pool, out io.WriterAt, table *Table, rng Range) *sink {
	k := &sink{
		sched:  s,
		pool:   pool,
		out:    out,
		table:  table,
		rng:    rng,
		cursor: rng.From,
		accums: make([]accum, record.MaxGroupsCount),
	}
	k.pending.Store(1)
	return k
}

// append copies the fragments of one record, in order, into the group's
// accumulation buffer, spilling full buffers to disk as it goes.
func (k *sink) append(group int, frags ...[]byte) {
	acc := &k.accums[group]
	for _, p := range frags {
		for len(p) > 0 {
			if acc.buf == nil {
				acc.buf, _ = k.pool.Get() // group pools are uncapped
				acc.n = 0
			}
			dst := acc.buf.Usable()
			c := copy(dst[acc.n:], p)
			acc.n += c
			p = p[c:]
			if acc.n == len(dst) {
				k.spill(group, acc)
			}
		}
	}
}

// spill hands a full accumulation buffer to an asynchronous write and
// records its extent in the group's mapping.
func (k *sink) spill(group int, acc *accum) {
	buf, n := acc.buf, acc.n
	acc.buf, acc.n = nil, 0

	p := buf.Usable()[:n]
	g := k.table.group(group)
	g.Mapping = append(g.Mapping, Extent{
		Offset: k.cursor,
		Length: n,
		Sum:    xxhash.Sum64(p),
	})
	k.write(buf, p, k.cursor)
	k.cursor += int64(n)
}

func (k *sink) write(buf *bufpool.Buffer, p []byte, off int64) {
	k.pending.Add(1)
	k.sched.Submit(func() {
		_, err := k.out.WriteAt(p, off)
		buf.Release()
		if err != nil {
			err = fmt.Errorf("write intermediate at offset %d: %w", off, err)
		}
		k.complete(err)
	})
}

// complete retires one pending unit and fires done after the last one.
func (k *sink) complete(err error) {
	k.mu.Lock()
	if err != nil && k.err == nil {
		k.err = err
	}
	k.mu.Unlock()

	if k.pending.Add(-1) == 0 {
		k.mu.Lock()
		err, done := k.err, k.done
		k.mu.Unlock()
		done(err)
	}
}

// flush packs every partially filled group buffer into as few buffers as
// possible, writes them, and calls done once every write has finished.
func (k *sink) flush(done func(error)) {
	k.mu.Lock()
	k.done = done
	k.mu.Unlock()

	var pack *bufpool.Buffer
	var packN int
	packOff := k.cursor

	writePack := func() {
		if pack == nil {
			return
		}
		if packN == 0 {
			pack.Release()
		} else {
			k.write(pack, pack.Usable()[:packN], packOff)
		}
		pack, packN = nil, 0
		packOff = k.cursor
	}

	for group := range k.accums {
		acc := &k.accums[group]
		if acc.buf == nil {
			continue
		}
		if acc.n == 0 {
			acc.buf.Release()
			acc.buf = nil
			continue
		}

		if pack != nil && packN+acc.n > len(pack.Usable()) {
			writePack()
		}
		if pack == nil {
			// The first partial that needs a pack donates its own buffer.
			pack, packN = acc.buf, acc.n
			packOff = k.cursor
		} else {
			copy(pack.Usable()[packN:], acc.buf.Usable()[:acc.n])
			packN += acc.n
			acc.buf.Release()
		}

		p := pack.Usable()[packN-acc.n : packN]
		g := k.table.group(group)
		g.Mapping = append(g.Mapping, Extent{
			Offset: k.cursor,
			Length: acc.n,
			Sum:    xxhash.Sum64(p),
		})
		k.cursor += int64(acc.n)
		acc.buf, acc.n = nil, 0
	}
	writePack()

	var err error
	if k.cursor != k.rng.To {
		err = fmt.Errorf("partition: range [%d, %d) produced %d intermediate bytes",
			k.rng.From, k.rng.To, k.cursor-k.rng.From)
	}
	k.complete(err)
}

// abort drops unwritten partial buffers and calls done with err once the
// writes already in flight have finished.
func (k *sink) abort(err error, done func(error)) {
	k.mu.Lock()
	k.done = done
	k.mu.Unlock()

	for i := range k.accums {
		if k.accums[i].buf != nil {
			k.accums[i].buf.Release()
			k.accums[i] = accum{}
		}
	}
	k.complete(err)
}
