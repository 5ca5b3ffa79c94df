package storage

import (
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Mapping is a read-only memory mapping of a whole file.
type Mapping struct {
	mm   mmap.MMap
	data []byte
}

// Map maps f read-only. The file may be closed once Map returns.
func Map(f *os.File) (*Mapping, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat mapped file: %w", err)
	}
	if fi.Size() == 0 {
		return &Mapping{}, nil
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap file: %w", err)
	}
	m := &Mapping{mm: mm, data: []byte(mm)}
	adviseRandom(m.data)
	return m, nil
}

// Len returns the mapped length.
func (m *Mapping) Len() int { return len(m.data) }

// ReadAt copies from the mapping. It implements io.ReaderAt.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read mapping at negative offset %d", off)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the file. It is safe to call more than once.
func (m *Mapping) Close() error {
	if m.mm == nil {
		return nil
	}
	err := m.mm.Unmap()
	m.mm, m.data = nil, nil
	if err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}
