package bucketsort

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/xxh3"

	sorterrors "github.com/tamirms/bucketsort/errors"
	"github.com/tamirms/bucketsort/internal/bufpool"
	"github.com/tamirms/bucketsort/internal/partition"
	"github.com/tamirms/bucketsort/internal/record"
	"github.com/tamirms/bucketsort/internal/sched"
	"github.com/tamirms/bucketsort/internal/storage"
)

// Stats describes a completed sort.
type Stats struct {
	Records       int64
	Bytes         int64
	Groups        int64
	MaxGroupLines int
	MaxGroupBytes int64

	// Digest is the xxh3 hash of the per-group output digests in group
	// order. Two sorts of the same records yield the same Digest.
	Digest uint64

	// Tasks is the number of continuations the scheduler ran: input reads,
	// intermediate writes, engine resumptions and group sorts.
	Tasks uint64

	PartitionTime time.Duration
	SortTime      time.Duration
}

// Sort reads the records of the file in, each "<digits>.<letters>\r\n",
// and writes them to out ordered by letters and then by digit characters,
// both compared bytewise.
//
// Records are first partitioned by the first two letters into groups in an
// intermediate file, then each group is loaded, sorted in memory and
// written to its place in out. The context is checked between phases and
// before each group is started.
func Sort(ctx context.Context, in, out string, opts ...Option) (*Stats, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if same, err := samePath(in, out); err != nil {
		return nil, err
	} else if same {
		return nil, fmt.Errorf("%w: input and output are the same file", sorterrors.ErrInvalidConfig)
	}

	size, err := storage.SizeOf(in)
	if err != nil {
		return nil, err
	}
	log := cfg.logger.WithInput(in)

	if size == 0 {
		f, err := storage.Create(out, 0)
		if err != nil {
			return nil, err
		}
		return &Stats{}, f.Close()
	}

	s := &sorter{
		ctx:   ctx,
		cfg:   cfg,
		log:   log,
		size:  size,
		sched: sched.New(cfg.concurrency),
	}
	stats, err := s.run(in, out)
	if cerr := s.cleanup(); cerr != nil {
		log.WarnContext(ctx, "cleanup failed", "error", cerr)
		err = errors.Join(err, cerr)
	}
	if err != nil {
		// A partial output is never left behind.
		if s.outCreated {
			if derr := storage.Delete(out); derr != nil {
				err = errors.Join(err, derr)
			}
		}
		return nil, err
	}
	return stats, nil
}

// sorter holds the resources of one Sort call.
type sorter struct {
	ctx   context.Context
	cfg   *config
	log   *Logger
	size  int64
	sched *sched.Scheduler

	src     *os.File
	inter   *storage.Temp
	mapping *storage.Mapping
	dst     *os.File

	outCreated bool
}

func (s *sorter) run(in, out string) (*Stats, error) {
	var err error
	start := time.Now()

	if s.src, err = os.Open(in); err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	storage.AdviseSequential(s.src, 0, s.size)

	if s.inter, err = s.createIntermediate(); err != nil {
		return nil, err
	}

	readPool := bufpool.New(s.cfg.readBufferSize, record.Slack)
	groupPool := bufpool.New(s.cfg.groupBufferSize, record.Slack)

	ranges, err := partition.SplitRanges(s.src, s.size, s.cfg.engines)
	if err != nil {
		return nil, fmt.Errorf("split input: %w", err)
	}
	summary, err := partition.Partition(partition.Config{
		Sched:     s.sched,
		ReadPool:  readPool,
		GroupPool: groupPool,
		Readahead: s.cfg.readahead,
	}, s.src, s.inter.File, ranges)
	partitionTime := time.Since(start)
	if err == nil && summary.BytesCount != s.size {
		err = fmt.Errorf("partition: groups hold %d of %d input bytes", summary.BytesCount, s.size)
	}
	if err == nil {
		s.log.LogPartition(s.ctx, int64(summary.Present.GetCardinality()), summary.LinesCount,
			summary.BytesCount, partitionTime, nil)
	} else {
		s.log.LogPartition(s.ctx, 0, 0, 0, partitionTime, err)
		return nil, err
	}

	readPool.Trim(0)
	groupPool.Trim(0)
	if err := s.src.Close(); err != nil {
		return nil, fmt.Errorf("close input: %w", err)
	}
	s.src = nil

	if err := s.ctx.Err(); err != nil {
		return nil, err
	}

	if s.mapping, err = storage.Map(s.inter.File); err != nil {
		return nil, err
	}
	if n := int64(s.mapping.Len()); n != s.size {
		return nil, fmt.Errorf("map intermediate: %d of %d bytes mapped", n, s.size)
	}
	if s.dst, err = storage.Create(out, s.size); err != nil {
		return nil, err
	}
	s.outCreated = true

	start = time.Now()
	digests, err := s.sortGroups(summary)
	sortTime := time.Since(start)
	s.log.LogSort(s.ctx, int64(summary.Present.GetCardinality()), sortTime, err)
	if err != nil {
		return nil, err
	}

	if err := s.dst.Sync(); err != nil {
		return nil, fmt.Errorf("sync output: %w", err)
	}

	return &Stats{
		Records:       summary.LinesCount,
		Bytes:         summary.BytesCount,
		Groups:        int64(summary.Present.GetCardinality()),
		MaxGroupLines: summary.MaxGroupLinesCount,
		MaxGroupBytes: summary.MaxGroupSize,
		Digest:        foldDigests(digests),
		Tasks:         s.sched.Submitted(),
		PartitionTime: partitionTime,
		SortTime:      sortTime,
	}, nil
}

func (s *sorter) createIntermediate() (*storage.Temp, error) {
	if s.cfg.keepPath == "" {
		return storage.CreateTemp(s.cfg.tempDir, s.size)
	}
	f, err := storage.Create(s.cfg.keepPath, s.size)
	if err != nil {
		return nil, err
	}
	// No Path: a kept file is not removed on Close.
	return &storage.Temp{File: f}, nil
}

// sortGroups runs every present group through the sort phase and returns
// their output digests in group order.
func (s *sorter) sortGroups(summary *partition.Summary) ([]uint64, error) {
	switch s.cfg.segmentWidth {
	case 1:
		return runGroups[uint8](s, summary)
	case 4:
		return runGroups[uint32](s, summary)
	default:
		return runGroups[uint64](s, summary)
	}
}

// cleanup releases all resources. Safe to call on any partial state.
func (s *sorter) cleanup() error {
	var errs []error
	if s.src != nil {
		if err := s.src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close input: %w", err))
		}
		s.src = nil
	}
	if s.mapping != nil {
		if err := s.mapping.Close(); err != nil {
			errs = append(errs, err)
		}
		s.mapping = nil
	}
	if s.inter != nil {
		if err := s.inter.Close(); err != nil {
			errs = append(errs, err)
		}
		s.inter = nil
	}
	if s.dst != nil {
		if err := s.dst.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output: %w", err))
		}
		s.dst = nil
	}
	return errors.Join(errs...)
}

func foldDigests(digests []uint64) uint64 {
	h := xxh3.New()
	var buf [8]byte
	for _, d := range digests {
		binary.LittleEndian.PutUint64(buf[:], d)
		h.Write(buf[:])
	}
	return h.Sum64()
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", a, err)
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", b, err)
	}
	return absA == absB, nil
}
