package journalfile

import "errors"

// Sentinel errors, one per failure class of the journal file format. Callers
// branch on the class with errors.Is.
var (
	// ErrBadMessage indicates a malformed file: bad signature, bad object
	// size or type, or a stored hash that does not match its payload.
	ErrBadMessage = errors.New("journalfile: malformed file")

	// ErrTruncated indicates the file is shorter than its header claims.
	ErrTruncated = errors.New("journalfile: file truncated")

	// ErrWrongMachine indicates the file was written by a different host.
	// Fatal only when opening for writing.
	ErrWrongMachine = errors.New("journalfile: file belongs to a different machine")

	// ErrUnsupported indicates an unknown feature flag or a compression
	// codec this build cannot decode.
	ErrUnsupported = errors.New("journalfile: unsupported feature")

	// ErrBusy indicates the file is still marked online, i.e. a previous
	// writer did not shut down cleanly.
	ErrBusy = errors.New("journalfile: file already online")

	// ErrArchived indicates a write-open of a rotated, read-only file.
	ErrArchived = errors.New("journalfile: file already archived")

	// ErrFileTooBig indicates the growth policy rejected an append. The
	// file is left in its prior consistent state; rotate and retry.
	ErrFileTooBig = errors.New("journalfile: maximum file size reached")

	// ErrClockRegression indicates an append whose monotonic timestamp is
	// older than the file's tail for the current boot.
	ErrClockRegression = errors.New("journalfile: monotonic clock moved backwards")

	// ErrOutOfRange indicates an object reference beyond the end of the
	// file, typically a stale offset.
	ErrOutOfRange = errors.New("journalfile: object offset out of range")

	// ErrNotFound indicates a lookup with no matching object or entry.
	ErrNotFound = errors.New("journalfile: not found")

	// ErrReadOnly indicates a mutation on a file not open for writing.
	ErrReadOnly = errors.New("journalfile: file not open for writing")
)
