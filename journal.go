// Package journalfile implements a single-writer, append-only, memory-mapped
// structured log store: typed variable-length records persisted in one
// growable file, with lookup by insertion order, sequence number, wall-clock
// time, monotonic time and field value, without a separate index file.
//
// Exactly one process may hold a file open for writing; any number of readers
// may open the same file independently and concurrently with the writer.
package journalfile

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/hupe1980/journalfile/compress"
	"github.com/hupe1980/journalfile/format"
	"github.com/hupe1980/journalfile/id128"
	"github.com/hupe1980/journalfile/internal/mmap"
)

// Suffix is the file name suffix of live journal files. Quarantined files
// carry SuffixBroken instead.
const (
	Suffix       = ".journal"
	SuffixBroken = ".journal~"
)

// Hash table sizing: one data bucket per 768 bytes of maximum file size at a
// 75% target fill level, with a fixed floor; the field table is small and
// fixed since field names are few.
const (
	defaultDataHashTableSize  = 2047 * format.HashItemSize
	defaultFieldHashTableSize = 333 * format.HashItemSize
)

// JournalFile is one open journal file. All methods are safe for use from a
// single goroutine; an internal lock additionally serializes concurrent use
// within one process. Cross-process coordination is limited to the
// single-writer online check.
type JournalFile struct {
	mu   sync.Mutex
	f    *os.File
	path string

	writable     bool
	newlyCreated bool

	opts      Options
	metrics   Metrics
	logger    *Logger
	collector MetricsCollector

	algorithm compress.Algorithm // codec for newly written payloads
	codec     compress.Codec     // nil when algorithm is None

	sealer     Sealer
	lastEpoch  uint64
	sealedUpTo uint64

	cache          *mmap.Cache
	header         format.Header
	dataHashTable  format.HashTable
	fieldHashTable format.HashTable

	// tailMonotonicValid is true when the header's tail monotonic
	// timestamp belongs to the current boot and therefore bounds appends.
	tailMonotonicValid bool

	lastSize int64
}

// Open opens or creates the journal file at path.
//
// Example:
//
//	f, err := journalfile.Open("system.journal", func(o *journalfile.Options) {
//	    o.Compression = compress.Zstd
//	})
func Open(path string, optFns ...func(o *Options)) (*JournalFile, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	return open(path, opts, nil)
}

func open(path string, opts Options, template *JournalFile) (*JournalFile, error) {
	opts.applyDefaults()

	if !strings.HasSuffix(path, Suffix) && !strings.HasSuffix(path, SuffixBroken) {
		return nil, fmt.Errorf("journalfile: %q lacks the %s suffix", path, Suffix)
	}

	j := &JournalFile{
		path:      path,
		writable:  !opts.ReadOnly,
		opts:      opts,
		logger:    opts.Logger.WithPath(path),
		collector: opts.MetricsCollector,
		sealer:    opts.Sealer,
	}

	flags := os.O_RDONLY
	if j.writable {
		flags = os.O_RDWR
		if opts.Create {
			flags |= os.O_CREATE
		}
	}

	f, err := os.OpenFile(path, flags, opts.FileMode)
	if err != nil {
		return nil, err
	}
	j.f = f

	if err := j.initialize(template); err != nil {
		_ = j.f.Close()
		if j.cache != nil {
			_ = j.cache.Close()
		}
		return nil, err
	}

	return j, nil
}

func (j *JournalFile) initialize(template *JournalFile) error {
	st, err := j.f.Stat()
	if err != nil {
		return err
	}
	j.lastSize = st.Size()

	if j.lastSize == 0 && j.writable {
		j.newlyCreated = true
		if err := j.writeInitialHeader(template); err != nil {
			return fmt.Errorf("journalfile: init header: %w", err)
		}
		st, err = j.f.Stat()
		if err != nil {
			return err
		}
		j.lastSize = st.Size()
	}

	if j.lastSize < format.HeaderSizeMin {
		return fmt.Errorf("%w: file of %d bytes cannot hold a header", ErrTruncated, j.lastSize)
	}

	j.cache = mmap.NewCache(j.f, j.writable, j.lastSize)

	if err := j.mapHeader(); err != nil {
		return err
	}

	if !j.newlyCreated {
		if err := j.verifyHeader(); err != nil {
			return err
		}
	}

	if err := j.setupCodec(); err != nil {
		return err
	}

	if j.writable {
		j.metrics = j.opts.Metrics
		if template != nil && j.opts.Metrics == DefaultMetrics() {
			j.metrics = template.metrics
		}
		j.metrics.normalize(int(j.f.Fd()), uint64(os.Getpagesize()))
		j.logger.Debug("growth policy",
			"max_use", j.metrics.MaxUse,
			"max_size", j.metrics.MaxSize,
			"min_size", j.metrics.MinSize,
			"keep_free", j.metrics.KeepFree,
		)

		if err := j.refreshHeader(); err != nil {
			return fmt.Errorf("journalfile: refresh header: %w", err)
		}
	}

	if j.newlyCreated {
		if err := j.setupFieldHashTable(); err != nil {
			return fmt.Errorf("journalfile: field hash table: %w", err)
		}
		if err := j.setupDataHashTable(); err != nil {
			return fmt.Errorf("journalfile: data hash table: %w", err)
		}
	}

	if err := j.mapHashTables(); err != nil {
		return err
	}

	if j.writable && j.sealer != nil && !j.newlyCreated {
		if err := j.scanLastTag(); err != nil {
			return fmt.Errorf("journalfile: locate last tag: %w", err)
		}
	}

	return nil
}

// scanLastTag finds the last tag object so that sealing resumes behind it
// instead of re-covering already sealed ranges.
func (j *JournalFile) scanLastTag() error {
	p := firstObjectOffset(j.header)
	for p > 0 {
		o, err := j.moveToObject(format.ObjectUnused, p)
		if err != nil {
			return err
		}
		size := format.Align64(o.Size())

		if o.Type() == format.ObjectTag {
			j.sealedUpTo = p + size
			j.lastEpoch = o.Tag().Epoch()
		}

		if p == j.header.TailObjectOffset() {
			break
		}
		p += size
	}
	return nil
}

// writeInitialHeader writes a fresh header with pwrite, before any mapping
// exists. With a template the new file continues the template's sequence
// number space.
func (j *JournalFile) writeInitialHeader(template *JournalFile) error {
	buf := make([]byte, format.HeaderSize)
	h := format.Header(buf)

	h.SetSignature()
	h.SetHeaderSize(format.HeaderSize)

	switch j.opts.Compression {
	case compress.Zstd:
		h.SetIncompatibleFlags(format.IncompatibleCompressedZstd)
	case compress.LZ4:
		h.SetIncompatibleFlags(format.IncompatibleCompressedLZ4)
	}
	if j.sealer != nil {
		h.SetCompatibleFlags(format.CompatibleSealed)
	}

	fileID, err := id128.Random()
	if err != nil {
		return err
	}
	h.SetFileID(fileID)

	if template != nil {
		h.SetSeqnumID(template.header.SeqnumID())
		h.SetTailEntrySeqnum(template.header.TailEntrySeqnum())
	} else {
		h.SetSeqnumID(fileID)
	}

	if _, err := j.f.WriteAt(buf, 0); err != nil {
		return err
	}
	return nil
}

// mapHeader pins a window over the header. For files with an older (smaller)
// header the window still covers our full header layout when the file is long
// enough; the Has* accessors guard every extended field.
func (j *JournalFile) mapHeader() error {
	n := int64(format.HeaderSize)
	if n > j.lastSize {
		n = j.lastSize
	}
	b, err := j.cache.Get(0, n, true)
	if err != nil {
		return fmt.Errorf("journalfile: map header: %w", err)
	}
	j.header = format.Header(b)
	return nil
}

func (j *JournalFile) verifyHeader() error {
	h := j.header

	if !h.SignatureValid() {
		return fmt.Errorf("%w: bad signature", ErrBadMessage)
	}

	// Unknown incompatible flags are fatal in both modes; unknown
	// compatible flags only for writers.
	if h.IncompatibleFlags()&^format.IncompatibleAny != 0 {
		return fmt.Errorf("%w: incompatible flags %#x", ErrUnsupported, h.IncompatibleFlags())
	}
	if j.writable && h.CompatibleFlags()&^format.CompatibleAny != 0 {
		return fmt.Errorf("%w: compatible flags %#x", ErrUnsupported, h.CompatibleFlags())
	}

	if !h.State().Valid() {
		return fmt.Errorf("%w: unknown state %d", ErrBadMessage, h.State())
	}

	if h.HeaderSize() < format.HeaderSizeMin {
		return fmt.Errorf("%w: header size %d below minimum", ErrBadMessage, h.HeaderSize())
	}

	if h.HeaderSize()+h.ArenaSize() > uint64(j.lastSize) {
		return fmt.Errorf("%w: header claims %d bytes, file has %d",
			ErrTruncated, h.HeaderSize()+h.ArenaSize(), j.lastSize)
	}

	if h.TailObjectOffset() > h.HeaderSize()+h.ArenaSize() {
		return fmt.Errorf("%w: tail object beyond arena", ErrTruncated)
	}

	for _, off := range []uint64{
		h.DataHashTableOffset(),
		h.FieldHashTableOffset(),
		h.TailObjectOffset(),
		h.EntryArrayOffset(),
	} {
		if off != 0 && (!format.Valid64(off) || off < h.HeaderSize()) {
			return fmt.Errorf("%w: misplaced offset %#x", ErrTruncated, off)
		}
	}

	// A declared hash table must hold a whole, nonzero number of buckets;
	// anything else would break the bucket arithmetic.
	for _, s := range []uint64{h.DataHashTableSize(), h.FieldHashTableSize()} {
		if s != 0 && (s < format.HashItemSize || s%format.HashItemSize != 0) {
			return fmt.Errorf("%w: hash table of %d bytes is not a whole number of buckets",
				ErrBadMessage, s)
		}
	}

	if j.writable {
		machineID, err := id128.Machine()
		if err != nil {
			return err
		}
		if machineID != h.MachineID() {
			return fmt.Errorf("%w: file machine %s, local machine %s",
				ErrWrongMachine, h.MachineID(), machineID)
		}

		switch h.State() {
		case format.StateOnline:
			j.logger.Debug("file already online, assuming unclean closing")
			return ErrBusy
		case format.StateArchived:
			return ErrArchived
		case format.StateOffline:
		}
	}

	return nil
}

// setupCodec decides the payload codec. Existing files dictate it via their
// incompatible flags; fresh files take it from the options.
func (j *JournalFile) setupCodec() error {
	switch {
	case j.header.IncompatibleFlags()&format.IncompatibleCompressedZstd != 0:
		j.algorithm = compress.Zstd
	case j.header.IncompatibleFlags()&format.IncompatibleCompressedLZ4 != 0:
		j.algorithm = compress.LZ4
	default:
		j.algorithm = compress.None
		return nil
	}

	codec, err := compress.ForAlgorithm(j.algorithm)
	if err != nil {
		return fmt.Errorf("%w: codec %s", ErrUnsupported, j.algorithm)
	}
	j.codec = codec
	return nil
}

// refreshHeader stamps the current machine and boot ids and brings the file
// online, durably.
func (j *JournalFile) refreshHeader() error {
	machineID, err := id128.Machine()
	if err != nil {
		return err
	}
	bootID, err := id128.Boot()
	if err != nil {
		return err
	}

	j.header.SetMachineID(machineID)

	// Same boot as the previous writer: the recorded tail monotonic
	// timestamp still bounds new appends.
	if bootID == j.header.BootID() {
		j.tailMonotonicValid = true
	}
	j.header.SetBootID(bootID)

	j.header.SetState(format.StateOnline)

	if err := j.cache.Sync(0, int64(len(j.header))); err != nil {
		return err
	}
	return j.f.Sync()
}

func (j *JournalFile) setupDataHashTable() error {
	// One bucket per 768 bytes of maximum file size, aiming below a 75%
	// fill level, with a floor for small limits.
	s := j.metrics.MaxSize * 4 / 768 / 3 / format.HashItemSize * format.HashItemSize
	if s < defaultDataHashTableSize {
		s = defaultDataHashTableSize
	}

	j.logger.Debug("reserving data hash table", "buckets", s/format.HashItemSize)

	o, p, err := j.appendObject(format.ObjectDataHashTable, format.HashTableItemsOffset+s)
	if err != nil {
		return err
	}
	zero(o[format.HashTableItemsOffset:])

	j.header.SetDataHashTableOffset(p + format.HashTableItemsOffset)
	j.header.SetDataHashTableSize(s)
	return nil
}

func (j *JournalFile) setupFieldHashTable() error {
	s := uint64(defaultFieldHashTableSize)

	o, p, err := j.appendObject(format.ObjectFieldHashTable, format.HashTableItemsOffset+s)
	if err != nil {
		return err
	}
	zero(o[format.HashTableItemsOffset:])

	j.header.SetFieldHashTableOffset(p + format.HashTableItemsOffset)
	j.header.SetFieldHashTableSize(s)
	return nil
}

// mapHashTables pins both hash tables. They are touched on every append and
// every lookup, so they bypass the reclaimable window pool.
func (j *JournalFile) mapHashTables() error {
	p, s := j.header.DataHashTableOffset(), j.header.DataHashTableSize()
	if p == 0 || s == 0 {
		return fmt.Errorf("%w: missing data hash table", ErrBadMessage)
	}
	b, err := j.cache.Get(int64(p), int64(s), true)
	if err != nil {
		return fmt.Errorf("journalfile: map data hash table: %w", err)
	}
	j.dataHashTable = format.HashTable(b)

	p, s = j.header.FieldHashTableOffset(), j.header.FieldHashTableSize()
	if p == 0 || s == 0 {
		return fmt.Errorf("%w: missing field hash table", ErrBadMessage)
	}
	b, err = j.cache.Get(int64(p), int64(s), true)
	if err != nil {
		return fmt.Errorf("journalfile: map field hash table: %w", err)
	}
	j.fieldHashTable = format.HashTable(b)

	return nil
}

// Close flushes everything to durable storage and, for writers, marks the
// file offline unless it was archived. Close is idempotent.
func (j *JournalFile) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *JournalFile) closeLocked() error {
	if j.f == nil {
		return nil
	}

	if j.writable && j.sealer != nil {
		// Write the final tag.
		if err := j.appendTag(); err != nil {
			j.logger.Warn("final tag failed", "error", err)
		}
	}

	var firstErr error

	if j.writable {
		if err := j.cache.SyncAll(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := j.f.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}

		// Don't override the archived state.
		if j.header.State() == format.StateOnline {
			j.header.SetState(format.StateOffline)
			if err := j.cache.Sync(0, int64(len(j.header))); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := j.cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := j.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	j.f = nil

	return firstErr
}

// Path returns the file path.
func (j *JournalFile) Path() string { return j.path }

// Writable reports whether the file is open for writing.
func (j *JournalFile) Writable() bool { return j.writable }

// State returns the lifecycle state recorded in the header.
func (j *JournalFile) State() format.State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.header.State()
}

// NEntries returns the number of entries in the file.
func (j *JournalFile) NEntries() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.header.NEntries()
}

// NData returns the number of distinct data objects in the file.
func (j *JournalFile) NData() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.header.NData()
}

// NObjects returns the total number of objects in the file.
func (j *JournalFile) NObjects() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.header.NObjects()
}

// SeqnumID returns the sequence-number-space identifier shared across
// rotations.
func (j *JournalFile) SeqnumID() id128.ID {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.header.SeqnumID()
}

// HeadEntrySeqnum returns the sequence number of the first entry, or 0.
func (j *JournalFile) HeadEntrySeqnum() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.header.HeadEntrySeqnum()
}

// TailEntrySeqnum returns the sequence number of the last entry, or the
// template's tail for a fresh rotated file.
func (j *JournalFile) TailEntrySeqnum() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.header.TailEntrySeqnum()
}

// CutoffRealtime returns the wall-clock range [from, to] covered by entries
// in this file. ErrNotFound when the file has no entries.
func (j *JournalFile) CutoffRealtime() (from, to uint64, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	from = j.header.HeadEntryRealtime()
	to = j.header.TailEntryRealtime()
	if from == 0 || to == 0 {
		return 0, 0, ErrNotFound
	}
	return from, to, nil
}

// CutoffMonotonic returns the monotonic range [from, to] covered by entries
// of the given boot. ErrNotFound when the boot is unknown to this file.
func (j *JournalFile) CutoffMonotonic(bootID id128.ID) (from, to uint64, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	boot := bootIDPayload(bootID)
	p, found, err := j.findDataObjectWithHash(boot, hash64(boot))
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, ErrNotFound
	}

	extra, first, n, err := j.dataIndex(p)
	if err != nil {
		return 0, 0, err
	}
	if n == 0 {
		return 0, 0, ErrNotFound
	}

	monotonicAt := func(i uint64) (uint64, error) {
		ofs, ok, err := j.arrayGetPlusOne(extra, first, i)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: boot index shorter than its count", ErrBadMessage)
		}
		o, err := j.moveToObject(format.ObjectEntry, ofs)
		if err != nil {
			return 0, err
		}
		return o.Entry().Monotonic(), nil
	}

	if from, err = monotonicAt(0); err != nil {
		return 0, 0, err
	}
	if to, err = monotonicAt(n - 1); err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
