//go:build !linux

package storage

import (
	"errors"
	"os"
)

func openTmpFile(string) (*os.File, error) {
	return nil, errors.New("storage: anonymous temp files are not supported")
}

// AdviseSequential is a no-op on this platform.
func AdviseSequential(*os.File, int64, int64) {}

func adviseRandom([]byte) {}
