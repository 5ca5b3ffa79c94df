// Package partition implements the first phase of the sort: streaming the
// input through parallel parser engines that route every record into one of
// record.MaxGroupsCount groups stored in a shared intermediate file.
//
// Each engine owns a disjoint byte range of the input. It reads the range
// through a readahead pipeline of pooled buffers, parses records with a
// resumable state machine, and appends each record (behind a two-byte
// header, without its CRLF) to a per-group accumulation buffer. Full buffers
// are written to the engine's own region of the intermediate file and their
// extents recorded in the engine's Table. When every engine has finished,
// the tables are merged into a Summary.
//
// Nothing in this package blocks a scheduler worker while waiting: an engine
// that needs a buffer that has not been read yet returns, and the reader
// resubmits it when the buffer arrives.
package partition

import (
	"fmt"
	"io"

	sorterrors "github.com/tamirms/bucketsort/errors"
	"github.com/tamirms/bucketsort/internal/bufpool"
	"github.com/tamirms/bucketsort/internal/record"
	"github.com/tamirms/bucketsort/internal/sched"
)

// Config holds the collaborators shared by all engines of one run.
type Config struct {
	Sched *sched.Scheduler

	// ReadPool supplies input buffers. Its slack must cover the header
	// reserve and the end sentinel.
	ReadPool *bufpool.Pool

	// GroupPool supplies per-group accumulation buffers.
	GroupPool *bufpool.Pool

	// Readahead is the number of reads in flight per engine
	// (default DefaultReadahead).
	Readahead int
}

func (c Config) validate() error {
	if c.Sched == nil || c.ReadPool == nil || c.GroupPool == nil {
		return fmt.Errorf("%w: partition config is incomplete", sorterrors.ErrInvalidConfig)
	}
	if c.ReadPool.Physical() < c.ReadPool.Usable()+record.Reserve+1 {
		return fmt.Errorf("%w: read buffer slack %d is below %d", sorterrors.ErrInvalidConfig,
			c.ReadPool.Physical()-c.ReadPool.Usable(), record.Reserve+1)
	}
	return nil
}

// Run partitions src into dst asynchronously. Each range is parsed by its
// own engine; engine k writes only inside ranges[k] of dst. done is called
// exactly once, from a scheduler worker, with the merged Summary or the
// first error any engine hit.
func Run(cfg Config, src io.ReaderAt, dst io.WriterAt, ranges []Range, done func(*Summary, error)) {
	if err := cfg.validate(); err != nil {
		done(nil, err)
		return
	}

	tables := make([]*Table, len(ranges))
	barrier := sched.NewCountdown(len(ranges), func(err error) {
		if err != nil {
			done(nil, err)
			return
		}
		done(Merge(tables), nil)
	})

	for k, rng := range ranges {
		tables[k] = NewTable()
		rd := newReader(cfg.Sched, cfg.ReadPool, src, rng, cfg.Readahead)
		sk := newSink(cfg.Sched, cfg.GroupPool, dst, tables[k], rng)
		e := newEngine(rd, sk, tables[k], barrier.Signal)
		cfg.Sched.Submit(e.run)
	}
}

// Partition is the blocking form of Run. It must not be called from a
// scheduler worker.
func Partition(cfg Config, src io.ReaderAt, dst io.WriterAt, ranges []Range) (*Summary, error) {
	type result struct {
		summary *Summary
		err     error
	}
	ch := make(chan result, 1)
	Run(cfg, src, dst, ranges, func(s *Summary, err error) {
		ch <- result{s, err}
	})
	res := <-ch
	return res.summary, res.err
}
