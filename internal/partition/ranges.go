package partition

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/tamirms/bucketsort/internal/record"
)

// splitProbeSize is how many bytes SplitRanges reads at a time while looking
// for a line boundary.
const splitProbeSize = 4096

// Range is a half-open byte range [From, To) of the input.
type Range struct {
	From int64
	To   int64
}

// Len returns the number of bytes in the range.
func (r Range) Len() int64 { return r.To - r.From }

// SplitRanges divides [0, size) into at most n ranges that each start on a
// record boundary. Each nominal cut point is moved forward to just past the
// next LF. Ranges that would come out empty are dropped, but at least one
// range is always returned.
func SplitRanges(src io.ReaderAt, size int64, n int) ([]Range, error) {
	if n < 1 {
		n = 1
	}

	ranges := make([]Range, 0, n)
	from := int64(0)
	probe := make([]byte, splitProbeSize)
	for k := 1; k < n; k++ {
		cut := size * int64(k) / int64(n)
		if cut <= from {
			continue
		}
		cut, err := nextLineStart(src, cut, size, probe)
		if err != nil {
			return nil, err
		}
		if cut > from && cut < size {
			ranges = append(ranges, Range{From: from, To: cut})
			from = cut
		}
	}
	if from < size || len(ranges) == 0 {
		ranges = append(ranges, Range{From: from, To: size})
	}
	return ranges, nil
}

// nextLineStart returns the smallest position p >= pos such that p == size
// or the byte at p-1 is LF.
func nextLineStart(src io.ReaderAt, pos, size int64, probe []byte) (int64, error) {
	at := pos - 1
	for at < size {
		n := int(min(int64(len(probe)), size-at))
		read, err := src.ReadAt(probe[:n], at)
		if read < n {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, fmt.Errorf("probe line boundary at offset %d: %w", at, err)
		}
		if i := bytes.IndexByte(probe[:n], record.LF); i >= 0 {
			return at + int64(i) + 1, nil
		}
		at += int64(n)
	}
	return size, nil
}
