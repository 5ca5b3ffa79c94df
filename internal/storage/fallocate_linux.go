//go:build linux

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves size bytes of disk for file and sets its length.
// Filesystems without fallocate support (NFS, tmpfs on old kernels) only
// get the length.
func fallocateFile(file *os.File, size int64) error {
	if size == 0 {
		return unix.Ftruncate(int(file.Fd()), 0)
	}
	if err := unix.Fallocate(int(file.Fd()), 0, 0, size); err != nil {
		return unix.Ftruncate(int(file.Fd()), size)
	}
	return unix.Ftruncate(int(file.Fd()), size)
}
