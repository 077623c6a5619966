package journalfile

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// DeriveFromFilesystem is the sentinel meaning "derive this size limit from
// the size of the backing filesystem".
const DeriveFromFilesystem = ^uint64(0)

const (
	// fileSizeMin is the minimum viable journal file size.
	fileSizeMin = 64 * 1024

	// Bounds when max_use is derived from the filesystem size.
	defaultMaxUseLower = 1 * 1024 * 1024
	defaultMaxUseUpper = 4 * 1024 * 1024 * 1024

	// Upper bound when max_size is derived from max_use.
	defaultMaxSizeUpper = 128 * 1024 * 1024

	// Bounds for the derived keep_free value.
	defaultKeepFreeUpper = 4 * 1024 * 1024 * 1024
	defaultKeepFree      = 1024 * 1024
)

// Metrics is the growth policy of a journal file: how large a single file may
// grow, how much disk space the whole sequence may use, and how much free
// space must remain on the filesystem. Each field is either an explicit byte
// count or DeriveFromFilesystem. Consumed once at write-open.
type Metrics struct {
	MaxUse   uint64
	MaxSize  uint64
	MinSize  uint64
	KeepFree uint64
}

// DefaultMetrics returns a Metrics with every limit derived from the
// filesystem.
func DefaultMetrics() Metrics {
	return Metrics{
		MaxUse:   DeriveFromFilesystem,
		MaxSize:  DeriveFromFilesystem,
		MinSize:  DeriveFromFilesystem,
		KeepFree: DeriveFromFilesystem,
	}
}

// normalize resolves the DeriveFromFilesystem sentinels against the
// filesystem holding fd and applies the documented clamps.
func (m *Metrics) normalize(fd int, pageSize uint64) {
	var fsSize uint64
	var st unix.Statfs_t
	if err := unix.Fstatfs(fd, &st); err == nil {
		fsSize = uint64(st.Blocks) * uint64(st.Bsize)
	}

	pageAlign := func(n uint64) uint64 {
		return (n + pageSize - 1) &^ (pageSize - 1)
	}

	if m.MaxUse == DeriveFromFilesystem {
		if fsSize > 0 {
			m.MaxUse = pageAlign(fsSize / 10) // 10% of the filesystem
			if m.MaxUse > defaultMaxUseUpper {
				m.MaxUse = defaultMaxUseUpper
			}
			if m.MaxUse < defaultMaxUseLower {
				m.MaxUse = defaultMaxUseLower
			}
		} else {
			m.MaxUse = defaultMaxUseLower
		}
	} else {
		m.MaxUse = pageAlign(m.MaxUse)
		if m.MaxUse < fileSizeMin*2 {
			m.MaxUse = fileSizeMin * 2
		}
	}

	if m.MaxSize == DeriveFromFilesystem {
		m.MaxSize = pageAlign(m.MaxUse / 8)
		if m.MaxSize > defaultMaxSizeUpper {
			m.MaxSize = defaultMaxSizeUpper
		}
	} else {
		m.MaxSize = pageAlign(m.MaxSize)
	}
	if m.MaxSize < fileSizeMin {
		m.MaxSize = fileSizeMin
	}
	if m.MaxSize*2 > m.MaxUse {
		m.MaxUse = m.MaxSize * 2
	}

	if m.MinSize == DeriveFromFilesystem {
		m.MinSize = fileSizeMin
	} else {
		m.MinSize = pageAlign(m.MinSize)
		if m.MinSize < fileSizeMin {
			m.MinSize = fileSizeMin
		}
		if m.MinSize > m.MaxSize {
			m.MaxSize = m.MinSize
		}
	}

	if m.KeepFree == DeriveFromFilesystem {
		if fsSize > 0 {
			m.KeepFree = pageAlign(fsSize / 20) // 5% of the filesystem
			if m.KeepFree > defaultKeepFreeUpper {
				m.KeepFree = defaultKeepFreeUpper
			}
		} else {
			m.KeepFree = defaultKeepFree
		}
	}
}

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordAppend is called after each entry append. err is nil on
	// success.
	RecordAppend(payloads int, err error)

	// RecordDedup is called when a payload was deduplicated against an
	// existing data object.
	RecordDedup(size int)

	// RecordCompression is called when a payload was stored compressed.
	RecordCompression(rawSize, storedSize int)

	// RecordRotate is called after each rotation.
	RecordRotate(err error)

	// RecordQuarantine is called when OpenReliably renamed a broken file
	// aside.
	RecordQuarantine()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAppend(int, error)    {}
func (NoopMetricsCollector) RecordDedup(int)            {}
func (NoopMetricsCollector) RecordCompression(int, int) {}
func (NoopMetricsCollector) RecordRotate(error)         {}
func (NoopMetricsCollector) RecordQuarantine()          {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AppendCount      atomic.Int64
	AppendErrors     atomic.Int64
	AppendPayloads   atomic.Int64
	DedupCount       atomic.Int64
	DedupBytes       atomic.Int64
	CompressionCount atomic.Int64
	CompressionRaw   atomic.Int64
	CompressionOut   atomic.Int64
	RotateCount      atomic.Int64
	RotateErrors     atomic.Int64
	QuarantineCount  atomic.Int64
}

// RecordAppend implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAppend(payloads int, err error) {
	b.AppendCount.Add(1)
	b.AppendPayloads.Add(int64(payloads))
	if err != nil {
		b.AppendErrors.Add(1)
	}
}

// RecordDedup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDedup(size int) {
	b.DedupCount.Add(1)
	b.DedupBytes.Add(int64(size))
}

// RecordCompression implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompression(rawSize, storedSize int) {
	b.CompressionCount.Add(1)
	b.CompressionRaw.Add(int64(rawSize))
	b.CompressionOut.Add(int64(storedSize))
}

// RecordRotate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRotate(err error) {
	b.RotateCount.Add(1)
	if err != nil {
		b.RotateErrors.Add(1)
	}
}

// RecordQuarantine implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuarantine() {
	b.QuarantineCount.Add(1)
}
