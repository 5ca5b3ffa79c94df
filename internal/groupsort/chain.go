package groupsort

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	sorterrors "github.com/tamirms/bucketsort/errors"
	"github.com/tamirms/bucketsort/internal/bits"
	"github.com/tamirms/bucketsort/internal/bufpool"
	"github.com/tamirms/bucketsort/internal/partition"
)

// Chain holds one group's record stream across pooled buffers. Logical
// offset i lives in chunk i/usable at position i%usable.
type Chain struct {
	bufs   []*bufpool.Buffer
	usable int
	length int
}

// ChunksFor returns how many buffers of the given usable length a group of
// length bytes needs.
func ChunksFor(length int64, usable int) int {
	return int((length + int64(usable) - 1) / int64(usable))
}

// NewChain wraps bufs, which must all come from one pool whose slack is at
// least 7 bytes, as a chain able to hold length bytes. The chain takes over
// the caller's references.
func NewChain(bufs []*bufpool.Buffer, length int64) (*Chain, error) {
	if len(bufs) == 0 {
		if length != 0 {
			return nil, fmt.Errorf("groupsort: no buffers for %d bytes", length)
		}
		return &Chain{}, nil
	}
	usable := len(bufs[0].Usable())
	if len(bufs[0].Bytes())-usable < 7 {
		return nil, fmt.Errorf("groupsort: buffer slack %d is too small for segment loads",
			len(bufs[0].Bytes())-usable)
	}
	if n := ChunksFor(length, usable); n != len(bufs) {
		return nil, fmt.Errorf("groupsort: %d bytes need %d buffers, got %d", length, n, len(bufs))
	}
	return &Chain{bufs: bufs, usable: usable, length: int(length)}, nil
}

// Len returns the number of bytes in the chain.
func (c *Chain) Len() int { return c.length }

// Release returns every buffer to its pool.
func (c *Chain) Release() {
	for i, b := range c.bufs {
		b.Release()
		c.bufs[i] = nil
	}
	c.bufs = nil
}

// Fill copies the group's extents, in mapping order, from src into the
// chain. With verify set, each extent's checksum is checked against the
// bytes read.
func (c *Chain) Fill(src io.ReaderAt, mapping []partition.Extent, verify bool) error {
	pos := 0
	d := xxhash.New()
	for _, ext := range mapping {
		if pos+ext.Length > c.length {
			return fmt.Errorf("%w: mapping exceeds %d bytes", sorterrors.ErrCorruptedGroup, c.length)
		}
		d.Reset()
		off := ext.Offset
		err := c.each(pos, ext.Length, func(p []byte) error {
			n, err := src.ReadAt(p, off)
			if n < len(p) {
				if err == nil || err == io.EOF {
					err = io.ErrUnexpectedEOF
				}
				return fmt.Errorf("read intermediate at offset %d: %w", off, err)
			}
			if verify {
				d.Write(p)
			}
			off += int64(n)
			return nil
		})
		if err != nil {
			return err
		}
		if verify && d.Sum64() != ext.Sum {
			return fmt.Errorf("%w: extent at offset %d", sorterrors.ErrChecksumFailed, ext.Offset)
		}
		pos += ext.Length
	}
	if pos != c.length {
		return fmt.Errorf("%w: mapping holds %d of %d bytes", sorterrors.ErrCorruptedGroup, pos, c.length)
	}
	return nil
}

// each calls fn with the consecutive in-chunk slices covering [off, off+n).
func (c *Chain) each(off, n int, fn func([]byte) error) error {
	for n > 0 {
		chunk, at := off/c.usable, off%c.usable
		p := c.bufs[chunk].Usable()[at:]
		if len(p) > n {
			p = p[:n]
		}
		if err := fn(p); err != nil {
			return err
		}
		off += len(p)
		n -= len(p)
	}
	return nil
}

// byteAt returns the byte at logical offset off.
func (c *Chain) byteAt(off int) byte {
	return c.bufs[off/c.usable].Bytes()[off%c.usable]
}

// load returns the n bytes starting at off packed big-endian into the high
// end of a uint64, zero padded. n is at most 8 and off+n at most Len.
func (c *Chain) load(off, n int) uint64 {
	chunk, at := off/c.usable, off%c.usable
	v := binary.BigEndian.Uint64(c.bufs[chunk].Bytes()[at:])
	if avail := c.usable - at; n > avail {
		next := binary.BigEndian.Uint64(c.bufs[chunk+1].Bytes())
		v = bits.Splice(v, next, avail)
	}
	return bits.KeepHigh(v, n)
}
