package bucketsort

import (
	"context"
	"fmt"
	"sync"

	sorterrors "github.com/tamirms/bucketsort/errors"
	"github.com/tamirms/bucketsort/internal/bufpool"
	"github.com/tamirms/bucketsort/internal/groupsort"
	"github.com/tamirms/bucketsort/internal/keyarena"
	"github.com/tamirms/bucketsort/internal/partition"
	"github.com/tamirms/bucketsort/internal/record"
	"github.com/tamirms/bucketsort/internal/sched"
	"github.com/tamirms/bucketsort/internal/storage"
)

// groupJob is one group waiting for, or holding, its sort resources.
type groupJob[S groupsort.Segment] struct {
	seq    int // position in group order
	id     int
	info   *partition.GroupInfo
	offset int64 // output offset

	keys  *keyarena.Range[groupsort.Entry[S]]
	bufs  []*bufpool.Buffer
	chunk int
}

// groupRunner admits groups into the sort phase as the key arena and the
// load buffers allow. A group that does not fit is parked and admitted
// again, in order, once a running group releases its resources.
type groupRunner[S groupsort.Segment] struct {
	ctx    context.Context
	cancel context.CancelFunc
	s      *sorter

	arena *keyarena.Arena[groupsort.Entry[S]]
	pool  *bufpool.Pool

	barrier *sched.Countdown
	digests []uint64

	mu      sync.Mutex
	parked  []*groupJob[S]
	running int
	err     error
}

func runGroups[S groupsort.Segment](s *sorter, summary *partition.Summary) ([]uint64, error) {
	jobs := make([]*groupJob[S], 0, summary.Present.GetCardinality())
	var offset int64
	maxChunks := 0
	it := summary.Present.Iterator()
	for it.HasNext() {
		id := int(it.Next())
		info := summary.Group(id)
		jobs = append(jobs, &groupJob[S]{
			seq:    len(jobs),
			id:     id,
			info:   info,
			offset: offset,
			chunk:  groupsort.ChunksFor(info.BytesCount, s.cfg.groupBufferSize),
		})
		// A record loses its 2-byte header and regains its CRLF, so a group
		// takes as many bytes in the output as in the intermediate file.
		offset += info.BytesCount
		maxChunks = max(maxChunks, jobs[len(jobs)-1].chunk)
	}

	// Each group reserves one slot per line for its entries and as many
	// again for radix scratch.
	need := 2 * summary.MaxGroupLinesCount
	arena := keyarena.New[groupsort.Entry[S]](need*s.cfg.concurrency, s.cfg.memoryBudget)
	if need > arena.Capacity() {
		return nil, fmt.Errorf("%w: %d lines need %d bytes of sort keys, budget is %d",
			sorterrors.ErrGroupTooLarge, summary.MaxGroupLinesCount,
			int64(need)*keyarena.SlotSize[groupsort.Entry[S]](), s.cfg.memoryBudget)
	}

	physical := int64(s.cfg.groupBufferSize + record.Slack)
	maxBuffers := max(maxChunks, int(s.cfg.loadBudget/physical))

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	g := &groupRunner[S]{
		ctx:     ctx,
		cancel:  cancel,
		s:       s,
		arena:   arena,
		pool:    bufpool.New(s.cfg.groupBufferSize, record.Slack, bufpool.WithMaxBuffers(maxBuffers)),
		digests: make([]uint64, len(jobs)),
	}

	finished := make(chan error, 1)
	g.barrier = sched.NewCountdown(len(jobs), func(err error) { finished <- err })

	for i, j := range jobs {
		if ctx.Err() != nil {
			g.skip(jobs[i:])
			break
		}
		g.dispatch(j)
	}

	err := <-finished
	g.mu.Lock()
	if g.err != nil {
		err = g.err
	}
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return g.digests, nil
}

// dispatch starts j or parks it behind groups already waiting.
func (g *groupRunner[S]) dispatch(j *groupJob[S]) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		g.skipLocked([]*groupJob[S]{j})
		return
	}
	if len(g.parked) > 0 || !g.tryStart(j) {
		g.parked = append(g.parked, j)
	}
}

// tryStart reserves j's resources and submits it. g.mu must be held.
func (g *groupRunner[S]) tryStart(j *groupJob[S]) bool {
	keys, ok := g.arena.TryReserve(2 * j.info.LinesCount)
	if !ok {
		return false
	}
	bufs, ok := g.pool.GetN(j.chunk)
	if !ok {
		keys.Release()
		return false
	}
	j.keys, j.bufs = keys, bufs
	g.running++
	g.s.sched.Submit(func() { g.run(j) })
	return true
}

func (g *groupRunner[S]) run(j *groupJob[S]) {
	err := g.sortGroup(j)
	g.s.log.LogGroup(g.ctx, j.id, j.info.LinesCount, j.info.BytesCount, err)
	j.keys.Release()
	j.keys = nil

	g.mu.Lock()
	g.running--
	if err != nil && g.err == nil {
		g.err = err
		g.cancel()
	}
	g.admitParked()
	g.mu.Unlock()

	g.barrier.Signal(err)
}

// admitParked starts parked groups in order for as long as they fit.
// g.mu must be held.
func (g *groupRunner[S]) admitParked() {
	if g.ctx.Err() != nil {
		parked := g.parked
		g.parked = nil
		g.skipLocked(parked)
		return
	}
	n := 0
	for n < len(g.parked) && g.tryStart(g.parked[n]) {
		n++
	}
	g.parked = g.parked[n:]
	if g.running == 0 && len(g.parked) > 0 {
		// Nothing left to release resources: the head can never fit.
		j := g.parked[0]
		if g.err == nil {
			g.err = fmt.Errorf("%w: group %d cannot be admitted", sorterrors.ErrGroupTooLarge, j.id)
		}
		g.cancel()
		parked := g.parked
		g.parked = nil
		g.skipLocked(parked)
	}
}

// skip signals the barrier for jobs that will never run.
func (g *groupRunner[S]) skip(jobs []*groupJob[S]) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.skipLocked(jobs)
}

func (g *groupRunner[S]) skipLocked(jobs []*groupJob[S]) {
	err := context.Cause(g.ctx)
	if err == nil {
		err = context.Canceled
	}
	for range jobs {
		// The barrier may fire here; its callback only sends on a buffered
		// channel, so holding g.mu is fine.
		g.barrier.Signal(err)
	}
}

// sortGroup loads, sorts and writes one group. The chain buffers are
// always released; the key range is released by the caller.
func (g *groupRunner[S]) sortGroup(j *groupJob[S]) error {
	chain, err := groupsort.NewChain(j.bufs, j.info.BytesCount)
	if err != nil {
		for _, b := range j.bufs {
			b.Release()
		}
		return fmt.Errorf("group %d: %w", j.id, err)
	}
	j.bufs = nil
	defer chain.Release()

	if err := chain.Fill(g.s.mapping, j.info.Mapping, g.s.cfg.verify); err != nil {
		return fmt.Errorf("load group %d: %w", j.id, err)
	}

	slots := j.keys.Slice()
	entries, scratch := slots[:j.info.LinesCount], slots[j.info.LinesCount:]
	if err := groupsort.Index(chain, entries); err != nil {
		return fmt.Errorf("index group %d: %w", j.id, err)
	}
	if err := groupsort.NewSorter(chain, scratch).Sort(entries); err != nil {
		return fmt.Errorf("sort group %d: %w", j.id, err)
	}

	w := storage.NewSectionWriter(g.s.dst, j.offset, g.s.cfg.groupBufferSize)
	digest, err := groupsort.Write(w, chain, entries)
	if err != nil {
		return fmt.Errorf("write group %d: %w", j.id, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write group %d: %w", j.id, err)
	}
	g.digests[j.seq] = digest
	return nil
}
