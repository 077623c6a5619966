package journalfile

import (
	"os"

	"github.com/hupe1980/journalfile/compress"
)

// Options contains configuration for opening a journal file.
type Options struct {
	// ReadOnly opens the file for reading only. Read-only opens never
	// mutate the file and skip the machine-id and lifecycle-state checks.
	ReadOnly bool

	// Create allows creating the file when it does not exist. Ignored for
	// read-only opens.
	Create bool

	// FileMode is the permission mode for newly created files.
	FileMode os.FileMode

	// Compression selects the codec for data payloads at or above the
	// compression size threshold. compress.None disables compression.
	// Ignored when opening an existing file; its header decides.
	Compression compress.Algorithm

	// Metrics is the growth policy, consumed once at write-open.
	// DeriveFromFilesystem fields are resolved against the backing
	// filesystem.
	Metrics Metrics

	// Sealer, when set, periodically appends authentication tag objects
	// covering the append stream. The sealing scheme itself is external.
	Sealer Sealer

	// Logger for structured diagnostics. Defaults to NoopLogger.
	Logger *Logger

	// MetricsCollector receives operational metrics. Defaults to
	// NoopMetricsCollector.
	MetricsCollector MetricsCollector
}

// DefaultOptions are the default open options: writable, create-if-missing,
// no compression, filesystem-derived growth policy.
var DefaultOptions = Options{
	Create:   true,
	FileMode: 0o640,
	Metrics:  DefaultMetrics(),
}

func (o *Options) applyDefaults() {
	if o.FileMode == 0 {
		o.FileMode = 0o640
	}
	if o.Logger == nil {
		o.Logger = NoopLogger()
	}
	if o.MetricsCollector == nil {
		o.MetricsCollector = NoopMetricsCollector{}
	}
}
