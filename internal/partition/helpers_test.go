package partition

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/require"

	"github.com/tamirms/bucketsort/internal/bufpool"
	"github.com/tamirms/bucketsort/internal/record"
	"github.com/tamirms/bucketsort/internal/sched"
)

const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

// memFile is a fixed-size in-memory io.WriterAt.
type memFile struct {
	mu   sync.Mutex
	data []byte
}

func newMemFile(size int) *memFile {
	return &memFile{data: make([]byte, size)}
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("write [%d, %d) outside file of %d bytes", off, off+int64(len(p)), len(m.data))
	}
	return copy(m.data[off:], p), nil
}

type partitionSetup struct {
	readBuffer  int
	groupBuffer int
	engines     int
	workers     int
}

type partitionResult struct {
	summary   *Summary
	inter     []byte
	readPool  *bufpool.Pool
	groupPool *bufpool.Pool
}

func runPartition(t *testing.T, input []byte, ps partitionSetup) (partitionResult, error) {
	t.Helper()
	if ps.workers == 0 {
		ps.workers = 4
	}
	if ps.engines == 0 {
		ps.engines = 1
	}
	if ps.groupBuffer == 0 {
		ps.groupBuffer = 64
	}

	src := strings.NewReader(string(input))
	ranges, err := SplitRanges(src, int64(len(input)), ps.engines)
	require.NoError(t, err)

	res := partitionResult{
		readPool:  bufpool.New(ps.readBuffer, record.Slack),
		groupPool: bufpool.New(ps.groupBuffer, record.Slack),
	}
	dst := newMemFile(len(input))
	cfg := Config{
		Sched:     sched.New(ps.workers),
		ReadPool:  res.readPool,
		GroupPool: res.groupPool,
		Readahead: 3,
	}
	res.summary, err = Partition(cfg, src, dst, ranges)
	res.inter = dst.data
	return res, err
}

// groupBytes concatenates a group's extents and checks their checksums.
func groupBytes(t *testing.T, res partitionResult, id int) []byte {
	t.Helper()
	g := res.summary.Group(id)
	require.NotNil(t, g, "group %d", id)

	var out []byte
	var total int64
	for _, ext := range g.Mapping {
		p := res.inter[ext.Offset : ext.Offset+int64(ext.Length)]
		require.Equal(t, ext.Sum, xxhash.Sum64(p), "extent checksum at %d", ext.Offset)
		out = append(out, p...)
		total += int64(ext.Length)
	}
	require.Equal(t, g.BytesCount, total)
	return out
}

// decodedRecord is a record read back from a group's byte stream.
type decodedRecord struct {
	letters int
	digits  int
	line    string // "<digits>.<letters>"
}

func decodeGroup(t *testing.T, b []byte) []decodedRecord {
	t.Helper()
	var out []decodedRecord
	for len(b) > 0 {
		require.GreaterOrEqual(t, len(b), record.HeaderSize)
		l, d := record.Header(b)
		n := record.Len(l, d)
		require.GreaterOrEqual(t, len(b), n)
		out = append(out, decodedRecord{letters: l, digits: d, line: string(b[record.HeaderSize:n])})
		b = b[n:]
	}
	return out
}

// randomLines generates n records with printable letters.
func randomLines(rng *rand.Rand, n, maxDigits, maxLetters int) []string {
	lines := make([]string, n)
	var sb strings.Builder
	for i := range lines {
		sb.Reset()
		for range 1 + rng.IntN(maxDigits) {
			sb.WriteByte(byte('0' + rng.IntN(10)))
		}
		sb.WriteByte('.')
		for range rng.IntN(maxLetters + 1) {
			// A narrow alphabet so groups collide often.
			sb.WriteByte(byte('a' + rng.IntN(4)))
		}
		lines[i] = sb.String()
	}
	return lines
}

func joinLines(lines []string) []byte {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteString("\r\n")
	}
	return []byte(sb.String())
}

func lettersOf(line string) string {
	return line[strings.IndexByte(line, '.')+1:]
}
