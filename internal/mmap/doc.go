// Package mmap provides the windowed memory-map cache backing journal files.
//
// # Overview
//
// A journal file is accessed exclusively through mapped windows: page-aligned
// regions of the file mapped on demand. The cache keeps a bounded set of
// windows; windows for structures touched on every operation (the hash
// tables) are pinned for the lifetime of the cache, everything else is
// reclaimable and may be unmapped at any time.
//
// # Usage
//
//	c := mmap.NewCache(f, true, fileSize)
//	defer c.Close()
//
//	// Zero-copy view of [offset, offset+size)
//	b, err := c.Get(offset, size, false)
//
//	// Pinned view, stays mapped until Close
//	ht, err := c.Get(htOffset, htSize, true)
//
// # Contract
//
// Slices returned by Get alias the mapped file and become invalid after any
// call that may unmap their window (another Get, Release, Close). Callers
// must not retain a slice across such calls; re-Get instead. Get bounds-checks
// every request against the cache's notion of the file size, which the owner
// updates via SetFileSize after growing the file, so a stale size surfaces as
// ErrOutOfBounds rather than a fault.
//
// # Platform Support
//
// Unix (Linux, macOS, BSD) via mmap(2)/msync(2). Other platforms return
// ErrUnsupportedPlatform.
package mmap
