package bucketsort

import (
	"fmt"
	"runtime"

	sorterrors "github.com/tamirms/bucketsort/errors"
	"github.com/tamirms/bucketsort/internal/partition"
)

const (
	defaultReadBufferSize  = 1 << 20
	defaultGroupBufferSize = 64 << 10
	defaultMemoryBudget    = 256 << 20
	defaultLoadBudget      = 256 << 20
	defaultSegmentWidth    = 8

	// minBufferSize keeps every buffer larger than a segment load.
	minBufferSize = 16
)

// Option is a functional option for configuring a sort.
type Option func(*config)

type config struct {
	readBufferSize  int
	groupBufferSize int
	concurrency     int
	engines         int
	readahead       int
	memoryBudget    int64 // Line-key arena
	loadBudget      int64 // buffers holding loaded groups
	segmentWidth    int
	tempDir         string
	keepPath        string // named intermediate file, kept after the sort
	verify          bool
	logger          *Logger
}

func defaultConfig() *config {
	return &config{
		readBufferSize:  defaultReadBufferSize,
		groupBufferSize: defaultGroupBufferSize,
		concurrency:     runtime.NumCPU(),
		readahead:       partition.DefaultReadahead,
		memoryBudget:    defaultMemoryBudget,
		loadBudget:      defaultLoadBudget,
		segmentWidth:    defaultSegmentWidth,
		verify:          true,
		logger:          NoopLogger(),
	}
}

func (c *config) validate() error {
	switch {
	case c.readBufferSize < minBufferSize:
		return fmt.Errorf("%w: read buffer size %d is below %d", sorterrors.ErrInvalidConfig, c.readBufferSize, minBufferSize)
	case c.groupBufferSize < minBufferSize:
		return fmt.Errorf("%w: group buffer size %d is below %d", sorterrors.ErrInvalidConfig, c.groupBufferSize, minBufferSize)
	case c.concurrency < 1:
		return fmt.Errorf("%w: concurrency %d", sorterrors.ErrInvalidConfig, c.concurrency)
	case c.engines < 0:
		return fmt.Errorf("%w: engines %d", sorterrors.ErrInvalidConfig, c.engines)
	case c.readahead < 1:
		return fmt.Errorf("%w: readahead %d", sorterrors.ErrInvalidConfig, c.readahead)
	case c.memoryBudget <= 0:
		return fmt.Errorf("%w: memory budget %d", sorterrors.ErrInvalidConfig, c.memoryBudget)
	case c.loadBudget <= 0:
		return fmt.Errorf("%w: load budget %d", sorterrors.ErrInvalidConfig, c.loadBudget)
	}
	switch c.segmentWidth {
	case 1, 4, 8:
	default:
		return fmt.Errorf("%w: segment width %d (want 1, 4 or 8)", sorterrors.ErrInvalidConfig, c.segmentWidth)
	}
	if c.logger == nil {
		c.logger = NoopLogger()
	}
	if c.engines == 0 {
		c.engines = c.concurrency
	}
	return nil
}

// WithReadBufferSize sets the usable size of the buffers the input is read
// into while partitioning.
func WithReadBufferSize(n int) Option {
	return func(c *config) {
		c.readBufferSize = n
	}
}

// WithGroupBufferSize sets the usable size of per-group accumulation buffers
// and of the buffers groups are loaded into for sorting.
//
// While partitioning, every engine holds one partially filled accumulation
// buffer for each group present in its slice of the input, so peak
// partition memory is about engines × groups × n, up to 9120 groups. With
// many engines and inputs whose letters are spread widely, lower n or the
// engine count.
func WithGroupBufferSize(n int) Option {
	return func(c *config) {
		c.groupBufferSize = n
	}
}

// WithConcurrency caps the number of tasks running at once.
// Default is runtime.NumCPU().
func WithConcurrency(n int) Option {
	return func(c *config) {
		c.concurrency = n
	}
}

// WithEngines sets the number of partition engines, each parsing its own
// slice of the input. Default is the concurrency.
func WithEngines(n int) Option {
	return func(c *config) {
		c.engines = n
	}
}

// WithReadahead sets how many input reads each partition engine keeps in
// flight.
func WithReadahead(n int) Option {
	return func(c *config) {
		c.readahead = n
	}
}

// WithMemoryBudget sets the number of bytes available for sort keys. The
// largest group must fit in it on its own; smaller groups share it.
func WithMemoryBudget(bytes int64) Option {
	return func(c *config) {
		c.memoryBudget = bytes
	}
}

// WithLoadBudget sets the number of bytes of buffers that loaded groups may
// occupy at once. The largest group is always admitted.
func WithLoadBudget(bytes int64) Option {
	return func(c *config) {
		c.loadBudget = bytes
	}
}

// WithSegmentWidth sets how many key bytes each radix pass consumes:
// 1, 4 or 8 (default).
func WithSegmentWidth(n int) Option {
	return func(c *config) {
		c.segmentWidth = n
	}
}

// WithTempDir sets the directory of the intermediate file.
// The directory should be on a local filesystem with room for a copy of the
// input.
func WithTempDir(dir string) Option {
	return func(c *config) {
		c.tempDir = dir
	}
}

// WithKeepIntermediate writes the intermediate file to path and leaves it
// in place after the sort.
func WithKeepIntermediate(path string) Option {
	return func(c *config) {
		c.keepPath = path
	}
}

// WithVerifyChecksums enables or disables checksum verification of the
// intermediate file when groups are loaded. Enabled by default.
func WithVerifyChecksums(verify bool) Option {
	return func(c *config) {
		c.verify = verify
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}
