package journalfile

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/journalfile/format"
	"github.com/hupe1980/journalfile/id128"
)

// archiveName builds the rename target for a rotated file. The name embeds
// the sequence number ID and the tail sequence number and timestamp, so
// archives from one stream sort chronologically and never collide.
func archiveName(path string, seqnumID id128.ID, tailSeqnum, tailRealtime uint64) string {
	prefix := strings.TrimSuffix(path, Suffix)
	return fmt.Sprintf("%s@%s-%016x-%016x%s", prefix, seqnumID.String(), tailSeqnum, tailRealtime, Suffix)
}

// quarantineName builds the rename target for a file set aside as corrupt.
func quarantineName(path string, realtime, random uint64) string {
	prefix := strings.TrimSuffix(path, Suffix)
	return fmt.Sprintf("%s@%016x-%016x%s", prefix, realtime, random, SuffixBroken)
}

// Rotate archives the file and returns a fresh one at the same path that
// continues its sequence number space. The receiver is closed either way;
// only the returned file may be used afterwards.
func (j *JournalFile) Rotate() (*JournalFile, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.f == nil {
		return nil, fmt.Errorf("rotate %s: file already closed", j.path)
	}
	if !j.writable {
		return nil, ErrReadOnly
	}

	archive := archiveName(j.path, j.header.SeqnumID(), j.header.TailEntrySeqnum(), j.header.TailEntryRealtime())
	if err := os.Rename(j.path, archive); err != nil {
		j.collector.RecordRotate(err)
		return nil, fmt.Errorf("rotate %s: %w", j.path, err)
	}

	j.header.SetState(format.StateArchived)
	if err := j.cache.Sync(0, int64(len(j.header))); err != nil {
		j.logger.Warn("archived header sync failed", "path", archive, "error", err)
	}

	// The old file is the template while it is still mapped, so the new
	// one continues its seqnum ID and tail sequence number.
	next, err := open(j.path, j.opts, j)

	if cerr := j.closeLocked(); cerr != nil {
		j.logger.Warn("closing archived file failed", "path", archive, "error", cerr)
	}

	j.collector.RecordRotate(err)
	if err != nil {
		return nil, fmt.Errorf("rotate %s: open successor: %w", j.path, err)
	}

	j.logger.Info("rotated", "archive", filepath.Base(archive))
	return next, nil
}

// quarantineable are the open failures that indicate a damaged or unusable
// file rather than an environmental problem. Only these justify setting the
// file aside.
var quarantineable = []error{
	ErrBadMessage,
	ErrTruncated,
	ErrUnsupported,
	ErrWrongMachine,
	ErrBusy,
	ErrArchived,
	ErrOutOfRange,
}

func isQuarantineable(err error) bool {
	for _, q := range quarantineable {
		if errors.Is(err, q) {
			return true
		}
	}
	return false
}

// OpenReliably opens a journal file for writing, quarantining it first when
// it turns out damaged. The damaged file is renamed with a .journal~ suffix
// and a fresh file is created in its place; data in the quarantined file is
// kept for offline inspection but never appended to again.
func OpenReliably(path string, optFns ...func(o *Options)) (*JournalFile, error) {
	j, err := Open(path, optFns...)
	if err == nil {
		return j, nil
	}
	if !isQuarantineable(err) {
		return nil, err
	}

	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.applyDefaults()
	if opts.ReadOnly || !opts.Create {
		return nil, err
	}

	var rnd [8]byte
	if _, rerr := rand.Read(rnd[:]); rerr != nil {
		return nil, err
	}
	broken := quarantineName(path, uint64(time.Now().UnixMicro()), binary.BigEndian.Uint64(rnd[:]))

	if rerr := os.Rename(path, broken); rerr != nil {
		return nil, fmt.Errorf("quarantine %s: %w (open failed with: %v)", path, rerr, err)
	}

	opts.Logger.Warn("quarantined damaged file", "path", path, "renamed", filepath.Base(broken), "error", err)
	opts.MetricsCollector.RecordQuarantine()

	return Open(path, optFns...)
}

// hashTableCrowded reports whether more than three quarters of the table's
// buckets worth of items are in use. Past that point chains grow long and
// lookups degrade, so a fresh file with a larger table is preferable.
func hashTableCrowded(n, tableSize uint64) bool {
	if tableSize == 0 {
		return false
	}
	buckets := tableSize / format.HashItemSize
	return n*4 > buckets*3
}

// RotateSuggested reports whether the file should be rotated even though
// appends still succeed: its hash tables have crowded past 75%, its header
// predates fields the current writer maintains, or its oldest entry exceeds
// maxFileAge. A zero maxFileAge disables the age check.
func (j *JournalFile) RotateSuggested(maxFileAge time.Duration) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.f == nil {
		return false
	}

	if j.header.HeaderSize() < format.HeaderSize {
		j.logger.Debug("rotate suggested: old header layout")
		return true
	}

	if j.header.HasCounts() && hashTableCrowded(j.header.NData(), j.header.DataHashTableSize()) {
		j.logger.Debug("rotate suggested: data hash table crowded",
			"n_data", j.header.NData())
		return true
	}
	if j.header.HasFieldCount() && hashTableCrowded(j.header.NFields(), j.header.FieldHashTableSize()) {
		j.logger.Debug("rotate suggested: field hash table crowded",
			"n_fields", j.header.NFields())
		return true
	}

	if maxFileAge > 0 {
		if head := j.header.HeadEntryRealtime(); head > 0 {
			if head+uint64(maxFileAge.Microseconds()) < uint64(time.Now().UnixMicro()) {
				j.logger.Debug("rotate suggested: file too old")
				return true
			}
		}
	}

	return false
}
