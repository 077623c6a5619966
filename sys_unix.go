//go:build unix && !linux

package journalfile

import "os"

// allocateFileRange extends f by length bytes starting at offset. Without
// fallocate the file is grown with truncate; the holes are filled as the
// mapped windows are written.
func allocateFileRange(f *os.File, offset, length int64) error {
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.Size() >= offset+length {
		return nil
	}
	return f.Truncate(offset + length)
}

func pageSize() int { return os.Getpagesize() }
