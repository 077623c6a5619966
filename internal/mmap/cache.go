package mmap

import (
	"os"
)

const (
	// defaultWindowSize is how much of the file one window covers at most.
	// Requests larger than this get a dedicated window.
	defaultWindowSize = 8 << 20

	// defaultMaxWindows bounds the number of concurrently mapped windows.
	// Pinned windows do not count against the bound.
	defaultMaxWindows = 16
)

// window is one mapped region of the file. data always starts page-aligned.
type window struct {
	data   []byte
	offset int64
	keep   bool
}

func (w *window) contains(offset, size int64) bool {
	return offset >= w.offset && offset+size <= w.offset+int64(len(w.data))
}

// Cache is a bounded set of mapped windows over a single file. It is not safe
// for concurrent use; the journal file's lock serializes access.
type Cache struct {
	f          *os.File
	writable   bool
	fileSize   int64
	windows    []*window
	windowSize int64
	maxWindows int
	pageSize   int64
	closed     bool
}

// NewCache creates a window cache over f. fileSize is the current size of the
// file; keep it current via SetFileSize after the file grows or is reopened.
func NewCache(f *os.File, writable bool, fileSize int64) *Cache {
	return &Cache{
		f:          f,
		writable:   writable,
		fileSize:   fileSize,
		windowSize: defaultWindowSize,
		maxWindows: defaultMaxWindows,
		pageSize:   int64(os.Getpagesize()),
	}
}

// FileSize returns the file size the cache currently trusts.
func (c *Cache) FileSize() int64 { return c.fileSize }

// SetFileSize updates the trusted file size after growth. Shrinking is not
// supported; existing windows stay valid because the file only ever grows.
func (c *Cache) SetFileSize(n int64) {
	if n > c.fileSize {
		c.fileSize = n
	}
}

// Get returns a zero-copy view of [offset, offset+size). With keepAlways the
// window holding the range is pinned and survives reclamation; use this only
// for regions touched on every operation.
func (c *Cache) Get(offset, size int64, keepAlways bool) ([]byte, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if offset < 0 {
		return nil, ErrInvalidOffset
	}
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if offset+size > c.fileSize {
		return nil, ErrOutOfBounds
	}

	for _, w := range c.windows {
		if w.contains(offset, size) {
			if keepAlways {
				w.keep = true
			}
			return w.data[offset-w.offset : offset-w.offset+size], nil
		}
	}

	w, err := c.mapWindow(offset, size, keepAlways)
	if err != nil {
		return nil, err
	}
	return w.data[offset-w.offset : offset-w.offset+size], nil
}

func (c *Cache) mapWindow(offset, size int64, keep bool) (*window, error) {
	start := offset &^ (c.pageSize - 1)
	end := offset + size
	if grown := start + c.windowSize; grown > end {
		end = grown
	}
	if end > c.fileSize {
		end = c.fileSize
	}

	data, err := osMap(c.f, start, int(end-start), c.writable)
	if err != nil {
		return nil, err
	}

	w := &window{data: data, offset: start, keep: keep}
	c.windows = append(c.windows, w)
	c.evict()
	return w, nil
}

// evict unmaps the oldest unpinned windows until the bound is met. The window
// appended last is never evicted.
func (c *Cache) evict() {
	unpinned := 0
	for _, w := range c.windows {
		if !w.keep {
			unpinned++
		}
	}
	for i := 0; unpinned > c.maxWindows && i < len(c.windows)-1; {
		w := c.windows[i]
		if w.keep {
			i++
			continue
		}
		_ = osUnmap(w.data)
		c.windows = append(c.windows[:i], c.windows[i+1:]...)
		unpinned--
	}
}

// Release unmaps all unpinned windows. Outstanding slices into them become
// invalid.
func (c *Cache) Release() {
	kept := c.windows[:0]
	for _, w := range c.windows {
		if w.keep {
			kept = append(kept, w)
			continue
		}
		_ = osUnmap(w.data)
	}
	c.windows = kept
}

// Sync flushes the window(s) overlapping [offset, offset+size) to durable
// storage.
func (c *Cache) Sync(offset, size int64) error {
	if c.closed {
		return ErrClosed
	}
	for _, w := range c.windows {
		if offset+size <= w.offset || offset >= w.offset+int64(len(w.data)) {
			continue
		}
		if err := osSync(w.data); err != nil {
			return err
		}
	}
	return nil
}

// SyncAll flushes every mapped window.
func (c *Cache) SyncAll() error {
	if c.closed {
		return ErrClosed
	}
	for _, w := range c.windows {
		if err := osSync(w.data); err != nil {
			return err
		}
	}
	return nil
}

// Close unmaps everything, pinned windows included. It is idempotent and does
// not close the underlying file.
func (c *Cache) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var err error
	for _, w := range c.windows {
		if unmapErr := osUnmap(w.data); unmapErr != nil && err == nil {
			err = unmapErr
		}
	}
	c.windows = nil
	return err
}
