// Package storage is the file layer under the sort: buffered positional
// readers and writers, pre-allocated output files, anonymous temp files and
// read-only memory mappings.
package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultBufferSize is the buffer size of readers and writers opened by
// this package.
const DefaultBufferSize = 1 << 20

// SizeOf returns the size of the file at path.
func SizeOf(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		return 0, fmt.Errorf("stat %s: not a regular file", path)
	}
	return fi.Size(), nil
}

// Create creates or truncates the file at path and pre-allocates length
// bytes for it.
func Create(path string, length int64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := fallocateFile(f, length); err != nil {
		primaryErr := fmt.Errorf("pre-allocate %s: %w", path, err)
		return nil, errors.Join(primaryErr, f.Close(), os.Remove(path))
	}
	return f, nil
}

// Delete removes the file at path. A missing file is not an error.
func Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Temp is a pre-allocated scratch file. Anonymous temp files have an empty
// Path and disappear when closed.
type Temp struct {
	File *os.File
	Path string
}

// CreateTemp creates a scratch file of length bytes in dir (os.TempDir if
// empty). It uses an anonymous O_TMPFILE where the platform supports it and
// falls back to a named file that Close removes.
func CreateTemp(dir string, length int64) (*Temp, error) {
	if dir == "" {
		dir = os.TempDir()
	}

	t := &Temp{}
	f, err := openTmpFile(dir)
	if err == nil {
		t.File = f
	} else {
		f, err = os.CreateTemp(dir, "bucketsort-*.tmp")
		if err != nil {
			return nil, fmt.Errorf("create temp file: %w", err)
		}
		t.File, t.Path = f, f.Name()
	}

	if err := fallocateFile(t.File, length); err != nil {
		primaryErr := fmt.Errorf("pre-allocate temp file: %w", err)
		return nil, errors.Join(primaryErr, t.Close())
	}
	return t, nil
}

// Close closes the file and removes it if it is named. It is safe to call
// more than once.
func (t *Temp) Close() error {
	var errs []error
	if t.File != nil {
		if err := t.File.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close temp file: %w", err))
		}
		t.File = nil
	}
	if t.Path != "" {
		if err := Delete(t.Path); err != nil {
			errs = append(errs, err)
		}
		t.Path = ""
	}
	return errors.Join(errs...)
}

// Reader is a buffered sequential reader over a file.
type Reader struct {
	f  *os.File
	br *bufio.Reader
}

// OpenReader opens path for reading starting at offset.
func OpenReader(path string, offset int64) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	r := &Reader{f: f, br: bufio.NewReaderSize(f, DefaultBufferSize)}
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, errors.Join(err, f.Close())
	}
	return r, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	return r.br.Read(p)
}

// Seek repositions the reader and discards buffered data. Only io.SeekStart
// and io.SeekEnd are supported.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	if whence == io.SeekCurrent {
		return 0, errors.New("storage: relative seek is not supported")
	}
	pos, err := r.f.Seek(offset, whence)
	if err != nil {
		return 0, fmt.Errorf("seek %s: %w", r.f.Name(), err)
	}
	r.br.Reset(r.f)
	return pos, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Writer is a buffered sequential writer into an existing file. It never
// truncates.
type Writer struct {
	f  *os.File
	bw *bufio.Writer
}

// OpenWriter opens path for writing starting at offset.
func OpenWriter(path string, offset int64) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, errors.Join(fmt.Errorf("seek %s: %w", path, err), f.Close())
	}
	return &Writer{f: f, bw: bufio.NewWriterSize(f, DefaultBufferSize)}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.bw.Write(p)
}

// Flush writes buffered data to the file.
func (w *Writer) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", w.f.Name(), err)
	}
	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	return errors.Join(w.Flush(), w.f.Close())
}

// NewSectionWriter returns a buffered writer that writes sequentially into
// w starting at offset. Several section writers may share one w.
func NewSectionWriter(w io.WriterAt, offset int64, size int) *bufio.Writer {
	return bufio.NewWriterSize(io.NewOffsetWriter(w, offset), size)
}
