package groupsort

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/xxh3"

	sorterrors "github.com/tamirms/bucketsort/errors"
	"github.com/tamirms/bucketsort/internal/bufpool"
	"github.com/tamirms/bucketsort/internal/partition"
	"github.com/tamirms/bucketsort/internal/record"
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

// encodeGroup lays lines out the way the partition phase stores them.
func encodeGroup(lines []string) []byte {
	var out []byte
	for _, line := range lines {
		dot := strings.IndexByte(line, '.')
		out = append(out, byte(len(line)-dot-1), byte(dot))
		out = append(out, line...)
	}
	return out
}

// splitMapping cuts data into random extents placed back to back in a file.
func splitMapping(rng *rand.Rand, data []byte) []partition.Extent {
	var mapping []partition.Extent
	for off := 0; off < len(data); {
		n := min(1+rng.IntN(40), len(data)-off)
		mapping = append(mapping, partition.Extent{
			Offset: int64(off),
			Length: n,
			Sum:    xxhash.Sum64(data[off : off+n]),
		})
		off += n
	}
	return mapping
}

// loadGroup builds a chain over data using buffers of the given usable
// length and indexes it.
func loadGroup[S Segment](t *testing.T, rng *rand.Rand, data []byte, lines, usable int) (*Chain, []Entry[S]) {
	t.Helper()
	pool := bufpool.New(usable, record.Slack)
	bufs, ok := pool.GetN(ChunksFor(int64(len(data)), usable))
	require.True(t, ok)

	c, err := NewChain(bufs, int64(len(data)))
	require.NoError(t, err)
	t.Cleanup(c.Release)

	require.NoError(t, c.Fill(bytes.NewReader(data), splitMapping(rng, data), true))

	entries := make([]Entry[S], lines)
	require.NoError(t, Index(c, entries))
	return c, entries
}

func keyLess(a, b string) int {
	da, la, _ := strings.Cut(a, ".")
	db, lb, _ := strings.Cut(b, ".")
	if c := strings.Compare(la, lb); c != 0 {
		return c
	}
	return strings.Compare(da, db)
}

func sortAndWrite[S Segment](t *testing.T, c *Chain, entries []Entry[S]) []string {
	t.Helper()
	s := NewSorter(c, make([]Entry[S], len(entries)))
	require.NoError(t, s.Sort(entries))

	var out bytes.Buffer
	digest, err := Write(&out, c, entries)
	require.NoError(t, err)
	require.Equal(t, c.Len(), out.Len(), "output size must match the stored group size")
	require.Equal(t, xxh3.Hash(out.Bytes()), digest)

	text := strings.TrimSuffix(out.String(), "\r\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\r\n")
}

func randomGroupLines(rng *rand.Rand, n int) []string {
	const alphabet = "ab~ -0Z"
	lines := make([]string, n)
	var sb strings.Builder
	for i := range lines {
		sb.Reset()
		for range rng.IntN(20) {
			sb.WriteByte(byte('0' + rng.IntN(3)))
		}
		sb.WriteByte('.')
		sb.WriteString("ab")
		for range rng.IntN(20) {
			sb.WriteByte(alphabet[rng.IntN(len(alphabet))])
		}
		lines[i] = sb.String()
	}
	return lines
}

func testSortMatchesReference[S Segment](t *testing.T) {
	rng := newTestRNG(t)
	for trial := range 30 {
		lines := randomGroupLines(rng, 1+rng.IntN(500))
		usable := 16 + rng.IntN(100)

		c, entries := loadGroup[S](t, rng, encodeGroup(lines), len(lines), usable)
		got := sortAndWrite(t, c, entries)

		want := slices.Clone(lines)
		slices.SortFunc(want, keyLess)
		require.Equal(t, want, got, "trial %d, usable %d", trial, usable)
	}
}

func TestSort_MatchesReference(t *testing.T) {
	t.Run("width1", testSortMatchesReference[uint8])
	t.Run("width4", testSortMatchesReference[uint32])
	t.Run("width8", testSortMatchesReference[uint64])
}

func testSortEdgeCases[S Segment](t *testing.T) {
	lines := []string{
		"123456789.x",
		"12345678.x",
		"1234.x",
		"123.x",
		".x",
		"9.",
		".",
		"1.abcdefgh",
		"1.abcdefg",
		"1.abcdefghi",
		"2.abcdefgh",
		"1.abcdefgh",
		"1.a",
		"1.a",
	}
	rng := newTestRNG(t)
	c, entries := loadGroup[S](t, rng, encodeGroup(lines), len(lines), 16)
	got := sortAndWrite(t, c, entries)

	want := []string{
		".",
		"9.",
		"1.a",
		"1.a",
		"1.abcdefg",
		"1.abcdefgh",
		"1.abcdefgh",
		"2.abcdefgh",
		"1.abcdefghi",
		".x",
		"123.x",
		"1234.x",
		"12345678.x",
		"123456789.x",
	}
	assert.Equal(t, want, got)
}

func TestSort_PrefixesSortFirst(t *testing.T) {
	t.Run("width1", testSortEdgeCases[uint8])
	t.Run("width4", testSortEdgeCases[uint32])
	t.Run("width8", testSortEdgeCases[uint64])
}

func TestSort_Idempotent(t *testing.T) {
	rng := newTestRNG(t)
	lines := randomGroupLines(rng, 300)

	c, entries := loadGroup[uint64](t, rng, encodeGroup(lines), len(lines), 64)
	first := sortAndWrite(t, c, entries)

	c2, entries2 := loadGroup[uint64](t, rng, encodeGroup(first), len(first), 64)
	second := sortAndWrite(t, c2, entries2)
	assert.Equal(t, first, second)
}

func TestSort_LongFields(t *testing.T) {
	rng := newTestRNG(t)
	long := strings.Repeat("q", record.MaxFieldLen)
	digits := strings.Repeat("7", record.MaxFieldLen)
	lines := []string{
		digits + "." + long,
		"1." + long,
		digits + "." + long[:record.MaxFieldLen-1],
		digits[:record.MaxFieldLen-1] + "." + long,
	}

	c, entries := loadGroup[uint32](t, rng, encodeGroup(lines), len(lines), 16)
	got := sortAndWrite(t, c, entries)

	assert.Equal(t, []string{lines[2], lines[1], lines[3], lines[0]}, got)
}

func TestRadix_SharedHighBytes(t *testing.T) {
	rng := newTestRNG(t)
	for _, spread := range []uint64{0, 1, 0xff, 0xffff, 0xffffff} {
		entries := make([]Entry[uint64], 200)
		for i := range entries {
			entries[i].Key = 0xAABBCCDD00000000 | rng.Uint64N(spread+1)
			entries[i].Line.Start = i
		}
		s := &Sorter[uint64]{width: 8, scratch: make([]Entry[uint64], len(entries))}
		s.radix(entries)
		require.True(t, slices.IsSortedFunc(entries, func(a, b Entry[uint64]) int {
			return cmp.Compare(a.Key, b.Key)
		}), "spread %#x", spread)

		seen := make(map[int]bool, len(entries))
		for _, e := range entries {
			seen[e.Line.Start] = true
		}
		require.Len(t, seen, len(entries), "spread %#x", spread)
	}
}

func TestSort_SharedLetterPrefix(t *testing.T) {
	rng := newTestRNG(t)
	lines := make([]string, 300)
	for i := range lines {
		lines[i] = fmt.Sprintf("%d.abcdefg%c", rng.IntN(50), 'a'+rng.IntN(26))
	}
	for _, usable := range []int{16, 64} {
		c, entries := loadGroup[uint64](t, rng, encodeGroup(lines), len(lines), usable)
		got := sortAndWrite(t, c, entries)

		want := slices.Clone(lines)
		slices.SortFunc(want, keyLess)
		require.Equal(t, want, got, "usable %d", usable)
	}
}

func TestSort_SingleAndEmpty(t *testing.T) {
	rng := newTestRNG(t)
	c, entries := loadGroup[uint64](t, rng, encodeGroup([]string{"5.x"}), 1, 16)
	assert.Equal(t, []string{"5.x"}, sortAndWrite(t, c, entries))

	c, err := NewChain(nil, 0)
	require.NoError(t, err)
	var none []Entry[uint64]
	require.NoError(t, Index(c, none))
	assert.Empty(t, sortAndWrite(t, c, none))
}

func TestSort_ScratchTooSmall(t *testing.T) {
	rng := newTestRNG(t)
	c, entries := loadGroup[uint64](t, rng, encodeGroup([]string{"1.a", "2.b"}), 2, 16)
	s := NewSorter(c, make([]Entry[uint64], 1))
	assert.Error(t, s.Sort(entries))
	assert.Equal(t, 8, s.Width())
}

func TestChain_LoadStraddlesChunks(t *testing.T) {
	data := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	pool := bufpool.New(16, record.Slack)
	bufs, ok := pool.GetN(ChunksFor(int64(len(data)), 16))
	require.True(t, ok)
	c, err := NewChain(bufs, int64(len(data)))
	require.NoError(t, err)
	defer c.Release()

	require.NoError(t, c.Fill(bytes.NewReader(data), []partition.Extent{
		{Offset: 0, Length: len(data), Sum: xxhash.Sum64(data)},
	}, true))

	for off := 0; off < len(data); off++ {
		for n := 1; n <= 8 && off+n <= len(data); n++ {
			var want [8]byte
			copy(want[:], data[off:off+n])
			assert.Equal(t, binary.BigEndian.Uint64(want[:]), c.load(off, n), "off %d n %d", off, n)
		}
	}
	assert.Equal(t, int64(len(bufs)), pool.Stats().CheckedOut)
}

func TestChain_FillDetectsCorruption(t *testing.T) {
	rng := newTestRNG(t)
	data := encodeGroup([]string{"1.abc", "22.abd", "333.abe"})
	mapping := splitMapping(rng, data)

	bad := slices.Clone(data)
	bad[5] ^= 0x20

	pool := bufpool.New(16, record.Slack)
	bufs, _ := pool.GetN(ChunksFor(int64(len(data)), 16))
	c, err := NewChain(bufs, int64(len(data)))
	require.NoError(t, err)
	defer c.Release()

	err = c.Fill(bytes.NewReader(bad), mapping, true)
	require.ErrorIs(t, err, sorterrors.ErrChecksumFailed)

	require.NoError(t, c.Fill(bytes.NewReader(bad), mapping, false))

	err = c.Fill(bytes.NewReader(data), mapping[:len(mapping)-1], true)
	require.ErrorIs(t, err, sorterrors.ErrCorruptedGroup, "short mapping")
}

func TestIndex_DetectsCorruption(t *testing.T) {
	rng := newTestRNG(t)
	data := encodeGroup([]string{"1.abc", "22.abd"})

	c, _ := loadGroup[uint64](t, rng, data, 2, 16)
	assert.ErrorIs(t, Index(c, make([]Entry[uint64], 3)), sorterrors.ErrCorruptedGroup)
	assert.ErrorIs(t, Index(c, make([]Entry[uint64], 1)), sorterrors.ErrCorruptedGroup)

	bad := slices.Clone(data)
	bad[1] = 2 // digits count no longer lands on the dot
	c2, _ := loadGroupUnchecked(t, bad, 16)
	assert.ErrorIs(t, Index(c2, make([]Entry[uint64], 2)), sorterrors.ErrCorruptedGroup)
}

func loadGroupUnchecked(t *testing.T, data []byte, usable int) (*Chain, error) {
	t.Helper()
	pool := bufpool.New(usable, record.Slack)
	bufs, _ := pool.GetN(ChunksFor(int64(len(data)), usable))
	c, err := NewChain(bufs, int64(len(data)))
	require.NoError(t, err)
	t.Cleanup(c.Release)
	return c, c.Fill(bytes.NewReader(data), []partition.Extent{{Offset: 0, Length: len(data)}}, false)
}

func TestNewChain_Validates(t *testing.T) {
	pool := bufpool.New(16, 2)
	bufs, _ := pool.GetN(1)
	_, err := NewChain(bufs, 10)
	assert.Error(t, err, "slack below segment over-read")

	pool = bufpool.New(16, record.Slack)
	bufs, _ = pool.GetN(1)
	_, err = NewChain(bufs, 40)
	assert.Error(t, err, "too few buffers")
}
