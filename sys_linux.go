//go:build linux

package journalfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// allocateFileRange extends f by length bytes starting at offset, with real
// block allocation so later mapped writes cannot hit ENOSPC faults.
func allocateFileRange(f *os.File, offset, length int64) error {
	return unix.Fallocate(int(f.Fd()), 0, offset, length)
}

func pageSize() int { return os.Getpagesize() }
