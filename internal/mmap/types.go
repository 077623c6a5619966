package mmap

import "errors"

var (
	// ErrClosed is returned when attempting to access a closed cache.
	ErrClosed = errors.New("mmap: cache is closed")
	// ErrInvalidSize is returned when the requested size is invalid.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrOutOfBounds is returned when a request reaches beyond the file.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
	// ErrInvalidOffset is returned when the offset is invalid (e.g. negative).
	ErrInvalidOffset = errors.New("mmap: invalid offset")
	// ErrUnsupportedPlatform is returned on platforms without mmap support.
	ErrUnsupportedPlatform = errors.New("mmap: unsupported platform")
)
