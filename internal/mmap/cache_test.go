package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFile(t *testing.T, size int) *os.File {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cache.bin")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(path, data, 0o640))

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestGetReadsFileContent(t *testing.T) {
	f := testFile(t, 64*1024)
	c := NewCache(f, false, 64*1024)
	defer c.Close()

	b, err := c.Get(0, 16, false)
	require.NoError(t, err)
	require.Len(t, b, 16)
	for i, got := range b {
		assert.Equal(t, byte(i%251), got)
	}

	// Unaligned interior range.
	b, err = c.Get(1000, 100, false)
	require.NoError(t, err)
	for i, got := range b {
		assert.Equal(t, byte((1000+i)%251), got)
	}
}

func TestGetValidation(t *testing.T) {
	f := testFile(t, 4096)
	c := NewCache(f, false, 4096)
	defer c.Close()

	_, err := c.Get(-1, 10, false)
	require.ErrorIs(t, err, ErrInvalidOffset)

	_, err = c.Get(0, 0, false)
	require.ErrorIs(t, err, ErrInvalidSize)

	_, err = c.Get(4090, 10, false)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestWritesReachTheFile(t *testing.T) {
	f := testFile(t, 4096)
	c := NewCache(f, true, 4096)
	defer c.Close()

	b, err := c.Get(100, 8, false)
	require.NoError(t, err)
	copy(b, "writeme!")
	require.NoError(t, c.Sync(100, 8))

	// Read back through the file descriptor, not the mapping.
	got := make([]byte, 8)
	_, err = f.ReadAt(got, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("writeme!"), got)
}

func TestSetFileSizeAllowsGrowth(t *testing.T) {
	f := testFile(t, 4096)
	c := NewCache(f, true, 4096)
	defer c.Close()

	_, err := c.Get(4096, 8, false)
	require.ErrorIs(t, err, ErrOutOfBounds)

	require.NoError(t, f.Truncate(8192))
	c.SetFileSize(8192)
	assert.Equal(t, int64(8192), c.FileSize())

	b, err := c.Get(4096, 8, false)
	require.NoError(t, err)
	require.Len(t, b, 8)

	// Shrinking is ignored.
	c.SetFileSize(100)
	assert.Equal(t, int64(8192), c.FileSize())
}

func TestPinnedWindowSurvivesRelease(t *testing.T) {
	f := testFile(t, 64*1024)
	c := NewCache(f, false, 64*1024)
	defer c.Close()

	pinned, err := c.Get(0, 256, true)
	require.NoError(t, err)
	_, err = c.Get(32*1024, 256, false)
	require.NoError(t, err)

	c.Release()

	// The pinned range is still served from the same window.
	again, err := c.Get(0, 256, true)
	require.NoError(t, err)
	assert.Equal(t, &pinned[0], &again[0])
}

func TestWindowReuse(t *testing.T) {
	f := testFile(t, 64*1024)
	c := NewCache(f, false, 64*1024)
	defer c.Close()

	a, err := c.Get(0, 16, false)
	require.NoError(t, err)
	b, err := c.Get(1024, 16, false)
	require.NoError(t, err)

	// Both ranges are served from the same window.
	require.Len(t, c.windows, 1)
	w := c.windows[0]
	assert.Equal(t, &w.data[0], &a[0])
	assert.Equal(t, &w.data[1024], &b[0])
}

func TestCloseIsIdempotent(t *testing.T) {
	f := testFile(t, 4096)
	c := NewCache(f, false, 4096)

	_, err := c.Get(0, 16, false)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Get(0, 16, false)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, c.SyncAll(), ErrClosed)
}
