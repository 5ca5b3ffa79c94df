package bucketsort

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sorterrors "github.com/tamirms/bucketsort/errors"
	"github.com/tamirms/bucketsort/internal/groupsort"
	"github.com/tamirms/bucketsort/internal/keyarena"
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

// randomRecords generates n records over a small alphabet so that groups
// hold many records and keys collide deep into the letters.
func randomRecords(rng *rand.Rand, n int) []string {
	const letters = "abc~ Z"
	out := make([]string, 0, n)
	var sb strings.Builder
	for len(out) < n {
		if len(out) > 0 && rng.IntN(10) == 0 {
			out = append(out, out[rng.IntN(len(out))])
			continue
		}
		sb.Reset()
		for range 1 + rng.IntN(12) {
			sb.WriteByte(byte('0' + rng.IntN(10)))
		}
		sb.WriteByte('.')
		for range rng.IntN(24) {
			sb.WriteByte(letters[rng.IntN(len(letters))])
		}
		out = append(out, sb.String())
	}
	return out
}

func writeRecords(t *testing.T, dir string, records []string) string {
	t.Helper()
	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(r)
		sb.WriteString("\r\n")
	}
	path := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func readRecords(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	if len(data) == 0 {
		return nil
	}
	text := string(data)
	require.True(t, strings.HasSuffix(text, "\r\n"), "output must end with CRLF")
	return strings.Split(strings.TrimSuffix(text, "\r\n"), "\r\n")
}

// referenceSort orders records by letters, then digits, bytewise.
func referenceSort(records []string) []string {
	out := slices.Clone(records)
	slices.SortFunc(out, func(a, b string) int {
		da, la, _ := strings.Cut(a, ".")
		db, lb, _ := strings.Cut(b, ".")
		if c := strings.Compare(la, lb); c != 0 {
			return c
		}
		return strings.Compare(da, db)
	})
	return out
}

func TestSort_MatchesReference(t *testing.T) {
	rng := newTestRNG(t)
	records := randomRecords(rng, 5000)
	want := referenceSort(records)

	configs := map[string][]Option{
		"defaults": nil,
		"tiny buffers": {
			WithReadBufferSize(16),
			WithGroupBufferSize(16),
			WithEngines(7),
			WithConcurrency(3),
		},
		"width1": {WithSegmentWidth(1), WithReadBufferSize(100)},
		"width4": {WithSegmentWidth(4), WithGroupBufferSize(48)},
		"single worker": {
			WithConcurrency(1),
			WithEngines(1),
			WithReadahead(1),
		},
		"no verify": {WithVerifyChecksums(false)},
	}

	var digest uint64
	for name, opts := range configs {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			in := writeRecords(t, dir, records)
			out := filepath.Join(dir, "out.txt")

			stats, err := Sort(context.Background(), in, out, append(opts, WithTempDir(dir))...)
			require.NoError(t, err)
			require.Equal(t, want, readRecords(t, out))

			assert.Equal(t, int64(len(records)), stats.Records)
			fi, err := os.Stat(in)
			require.NoError(t, err)
			assert.Equal(t, fi.Size(), stats.Bytes)
			assert.Positive(t, stats.Groups)
			assert.Positive(t, stats.MaxGroupLines)
			assert.GreaterOrEqual(t, stats.Tasks, uint64(stats.Groups), "every group runs as a task")

			if digest == 0 {
				digest = stats.Digest
			}
			assert.Equal(t, digest, stats.Digest, "digest depends only on the records")

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Len(t, entries, 2, "intermediate file must be removed")
		})
	}
}

func TestSort_DigestIgnoresInputOrder(t *testing.T) {
	rng := newTestRNG(t)
	records := randomRecords(rng, 800)
	shuffled := slices.Clone(records)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	sortDigest := func(recs []string) uint64 {
		dir := t.TempDir()
		stats, err := Sort(context.Background(), writeRecords(t, dir, recs), filepath.Join(dir, "out"))
		require.NoError(t, err)
		return stats.Digest
	}
	assert.Equal(t, sortDigest(records), sortDigest(shuffled))
}

func TestSort_TwoGroupScenario(t *testing.T) {
	dir := t.TempDir()
	in := writeRecords(t, dir, []string{"111.ab-------------", "111.aa~~~~~~~~~"})
	out := filepath.Join(dir, "out.txt")

	stats, err := Sort(context.Background(), in, out, WithReadBufferSize(1024))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Groups)
	assert.Equal(t, []string{"111.aa~~~~~~~~~", "111.ab-------------"}, readRecords(t, out))
}

func TestSort_EmptyInput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(in, nil, 0o644))
	out := filepath.Join(dir, "out")

	stats, err := Sort(context.Background(), in, out)
	require.NoError(t, err)
	assert.Zero(t, stats.Records)
	fi, err := os.Stat(out)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())
}

func TestSort_MalformedInputRemovesNothingItDidNotCreate(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "bad")
	require.NoError(t, os.WriteFile(in, []byte("1.ab\r\n22ab\r\n"), 0o644))
	out := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(out, []byte("keep"), 0o644))

	_, err := Sort(context.Background(), in, out, WithTempDir(dir))
	require.ErrorIs(t, err, sorterrors.ErrMalformedInput)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data), "partition failures never touch the output")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSort_ControlBytesAreMalformed(t *testing.T) {
	inputs := map[string]string{
		"nul in digits": "1\x002.ab\r\n" + strings.Repeat("12.cd\r\n", 50),
		"eos at start":  strings.Repeat("12.cd\r\n", 5) + "\x01" + strings.Repeat("12.cd\r\n", 45),
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			in := filepath.Join(dir, "in")
			require.NoError(t, os.WriteFile(in, []byte(input), 0o644))
			out := filepath.Join(dir, "out")

			_, err := Sort(context.Background(), in, out,
				WithReadBufferSize(64), WithEngines(1), WithTempDir(dir))
			require.ErrorIs(t, err, sorterrors.ErrMalformedInput)
			assert.NoFileExists(t, out)
		})
	}
}

func TestSort_GroupTooLarge(t *testing.T) {
	dir := t.TempDir()
	records := make([]string, 100)
	for i := range records {
		records[i] = "1.zz"
	}
	in := writeRecords(t, dir, records)
	out := filepath.Join(dir, "out")

	slot := keyarena.SlotSize[groupsort.Entry[uint64]]()
	_, err := Sort(context.Background(), in, out, WithMemoryBudget(slot*150))
	require.ErrorIs(t, err, sorterrors.ErrGroupTooLarge)

	_, err = os.Stat(out)
	assert.ErrorIs(t, err, os.ErrNotExist, "a failed sort removes its output")
}

func TestSort_TightBudgetsSerializeGroups(t *testing.T) {
	rng := newTestRNG(t)
	records := randomRecords(rng, 3000)
	dir := t.TempDir()
	in := writeRecords(t, dir, records)
	out := filepath.Join(dir, "out")

	// Enough key slots for the largest group alone, and load buffers for
	// its chunks alone.
	probe, err := Sort(context.Background(), in, out)
	require.NoError(t, err)
	slot := keyarena.SlotSize[groupsort.Entry[uint32]]()

	stats, err := Sort(context.Background(), in, out,
		WithSegmentWidth(4),
		WithConcurrency(8),
		WithGroupBufferSize(64),
		WithMemoryBudget(slot*int64(2*probe.MaxGroupLines)),
		WithLoadBudget(1),
	)
	require.NoError(t, err)
	assert.Equal(t, referenceSort(records), readRecords(t, out))
	assert.Equal(t, probe.Digest, stats.Digest)
}

func TestSort_KeepIntermediate(t *testing.T) {
	dir := t.TempDir()
	in := writeRecords(t, dir, []string{"2.ba", "1.ab", "3.ab"})
	keep := filepath.Join(dir, "inter")

	_, err := Sort(context.Background(), in, filepath.Join(dir, "out"), WithKeepIntermediate(keep))
	require.NoError(t, err)

	data, err := os.ReadFile(keep)
	require.NoError(t, err)
	inData, err := os.ReadFile(in)
	require.NoError(t, err)
	assert.Len(t, data, len(inData), "records keep their size in the intermediate file")
	assert.Contains(t, string(data), "\x02\x011.ab")
}

func TestSort_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	in := writeRecords(t, dir, []string{"1.a"})
	out := filepath.Join(dir, "out")

	cases := map[string][]Option{
		"segment width": {WithSegmentWidth(3)},
		"read buffer":   {WithReadBufferSize(8)},
		"group buffer":  {WithGroupBufferSize(0)},
		"concurrency":   {WithConcurrency(0)},
		"engines":       {WithEngines(-1)},
		"readahead":     {WithReadahead(0)},
		"memory budget": {WithMemoryBudget(0)},
		"load budget":   {WithLoadBudget(-1)},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Sort(context.Background(), in, out, opts...)
			assert.ErrorIs(t, err, sorterrors.ErrInvalidConfig)
		})
	}

	_, err := Sort(context.Background(), in, in)
	assert.ErrorIs(t, err, sorterrors.ErrInvalidConfig, "sorting a file onto itself")

	_, err = Sort(context.Background(), filepath.Join(dir, "missing"), out)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSort_Canceled(t *testing.T) {
	rng := newTestRNG(t)
	dir := t.TempDir()
	in := writeRecords(t, dir, randomRecords(rng, 100))
	out := filepath.Join(dir, "out")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Sort(ctx, in, out, WithTempDir(dir))
	require.ErrorIs(t, err, context.Canceled)

	_, err = os.Stat(out)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
