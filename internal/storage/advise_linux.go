//go:build linux

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// openTmpFile creates an anonymous file in dir that is deleted on close.
func openTmpFile(dir string) (*os.File, error) {
	fd, err := unix.Open(dir, unix.O_RDWR|unix.O_TMPFILE|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), ""), nil
}

// AdviseSequential hints that [offset, offset+length) of f will be read
// sequentially. Errors are ignored.
func AdviseSequential(f *os.File, offset, length int64) {
	_ = unix.Fadvise(int(f.Fd()), offset, length, unix.FADV_SEQUENTIAL)
}

// adviseRandom hints that a mapping will be read at scattered offsets:
// group loads jump between the extents of different engines.
func adviseRandom(data []byte) {
	_ = unix.Madvise(data, unix.MADV_RANDOM)
}
