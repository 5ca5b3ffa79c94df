//go:build !linux && !darwin

package storage

import "os"

// fallocateFile sets the file length. Disk blocks are not reserved.
func fallocateFile(file *os.File, size int64) error {
	return file.Truncate(size)
}
