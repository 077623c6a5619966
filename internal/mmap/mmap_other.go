//go:build !unix

package mmap

import "os"

func osMap(*os.File, int64, int, bool) ([]byte, error) { return nil, ErrUnsupportedPlatform }

func osUnmap([]byte) error { return nil }

func osSync([]byte) error { return ErrUnsupportedPlatform }
