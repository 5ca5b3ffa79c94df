package groupsort

import (
	"fmt"
	"io"

	"github.com/zeebo/xxh3"

	"github.com/tamirms/bucketsort/internal/record"
)

var crlf = []byte{record.CR, record.LF}

// Write emits the records of entries, in order, to w as CRLF-terminated
// lines and returns the xxh3 digest of everything written. The output is
// exactly Len bytes when entries covers the whole chain.
func Write[S Segment](w io.Writer, c *Chain, entries []Entry[S]) (uint64, error) {
	h := xxh3.New()
	emit := func(p []byte) error {
		if _, err := w.Write(p); err != nil {
			return fmt.Errorf("write sorted record: %w", err)
		}
		h.Write(p)
		return nil
	}

	for i := range entries {
		l := &entries[i].Line
		if err := c.each(l.Start+record.HeaderSize, l.Len()-record.HeaderSize, emit); err != nil {
			return 0, err
		}
		if err := emit(crlf); err != nil {
			return 0, err
		}
	}
	return h.Sum64(), nil
}
