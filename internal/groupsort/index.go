package groupsort

import (
	"fmt"

	sorterrors "github.com/tamirms/bucketsort/errors"
	"github.com/tamirms/bucketsort/internal/record"
)

// Segment is the unsigned type holding one chunk of a sort key. Its size is
// the sort precision: 1, 4 or 8 bytes per radix pass.
type Segment interface {
	~uint8 | ~uint32 | ~uint64
}

// LineIndex locates one record in a Chain and tracks how much of its sort
// key has been consumed. Cursor counts bytes consumed of the active field:
// the letters while ByDigits is false, the digits after.
type LineIndex struct {
	Start    int // offset of the record header in the chain
	Letters  uint8
	Digits   uint8
	Cursor   uint16
	ByDigits bool
}

// Len returns the stored length of the record, header included.
func (l *LineIndex) Len() int {
	return record.Len(int(l.Letters), int(l.Digits))
}

// done reports whether both key fields are fully consumed.
func (l *LineIndex) done() bool {
	return l.ByDigits && l.Cursor >= uint16(l.Digits)
}

// Entry pairs a record with the key segment it is currently sorted by.
type Entry[S Segment] struct {
	Key  S
	Line LineIndex
}

// Index parses the record headers of c into entries, which must have one
// slot per record.
func Index[S Segment](c *Chain, entries []Entry[S]) error {
	off := 0
	for i := range entries {
		if off+record.HeaderSize > c.Len() {
			return fmt.Errorf("%w: %d of %d records in %d bytes",
				sorterrors.ErrCorruptedGroup, i, len(entries), c.Len())
		}
		l := LineIndex{
			Start:   off,
			Letters: c.byteAt(off),
			Digits:  c.byteAt(off + 1),
		}
		n := l.Len()
		if off+n > c.Len() || c.byteAt(off+record.HeaderSize+int(l.Digits)) != record.Dot {
			return fmt.Errorf("%w: bad record header at offset %d", sorterrors.ErrCorruptedGroup, off)
		}
		entries[i] = Entry[S]{Line: l}
		off += n
	}
	if off != c.Len() {
		return fmt.Errorf("%w: %d records cover %d of %d bytes",
			sorterrors.ErrCorruptedGroup, len(entries), off, c.Len())
	}
	return nil
}
