//go:build darwin

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// fallocateFile reserves size bytes of disk for file with F_PREALLOCATE and
// sets its length.
func fallocateFile(file *os.File, size int64) error {
	if size > 0 {
		fst := unix.Fstore_t{
			Flags:   unix.F_ALLOCATEALL,
			Posmode: unix.F_PEOFPOSMODE,
			Length:  size,
		}
		// Without a reservation the file still gets its length.
		_ = unix.FcntlFstore(file.Fd(), unix.F_PREALLOCATE, &fst)
	}
	return unix.Ftruncate(int(file.Fd()), size)
}
