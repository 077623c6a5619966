package journalfile

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/journalfile/compress"
	"github.com/hupe1980/journalfile/format"
)

func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.journal")
}

func openTestFile(t *testing.T, optFns ...func(o *Options)) *JournalFile {
	t.Helper()

	j, err := Open(testPath(t), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

// testStamp yields strictly increasing clocks, one millisecond apart.
func testStamp(i uint64) *Timestamp {
	return &Timestamp{
		Realtime:  1_000_000 + i*1_000,
		Monotonic: 500 + i*1_000,
	}
}

func TestOpenCreatesValidFile(t *testing.T) {
	j := openTestFile(t)

	assert.True(t, j.Writable())
	assert.Equal(t, format.StateOnline, j.State())
	assert.Equal(t, uint64(0), j.NEntries())
	assert.False(t, j.SeqnumID().IsZero())

	// Hash tables are reserved up front.
	assert.Equal(t, uint64(2), j.NObjects())
}

func TestOpenRejectsWrongSuffix(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "test.log"))
	require.Error(t, err)
}

func TestAppendAndReadRoundTrip(t *testing.T) {
	j := openTestFile(t)

	payloads := [][]byte{
		[]byte("MESSAGE=hello world"),
		[]byte("PRIORITY=6"),
		[]byte("SYSLOG_IDENTIFIER=test"),
	}

	sn, off, err := j.AppendEntry(testStamp(0), nil, payloads...)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sn)
	assert.NotZero(t, off)
	assert.Equal(t, uint64(1), j.NEntries())

	ent, err := j.ReadEntry(off)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ent.Seqnum)
	assert.Equal(t, testStamp(0).Realtime, ent.Realtime)
	assert.Equal(t, testStamp(0).Monotonic, ent.Monotonic)
	require.Len(t, ent.Payloads, 3)

	// Items are stored sorted by object offset, so compare as sets.
	for _, want := range payloads {
		found := false
		for _, got := range ent.Payloads {
			if bytes.Equal(want, got) {
				found = true
			}
		}
		assert.True(t, found, "payload %q missing", want)
	}
}

func TestAppendRepeatedPayloadRoundTrip(t *testing.T) {
	j := openTestFile(t)

	// The same payload twice interns to one data object and one entry
	// item; the entry must stay readable with the deduplicated list.
	sn, off, err := j.AppendEntry(testStamp(0), nil, []byte("MESSAGE=dup"), []byte("MESSAGE=dup"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sn)

	ent, err := j.ReadEntry(off)
	require.NoError(t, err)
	require.Len(t, ent.Payloads, 1)
	assert.Equal(t, []byte("MESSAGE=dup"), ent.Payloads[0])
}

func TestAppendAssignsMonotonicSeqnums(t *testing.T) {
	j := openTestFile(t)

	for i := uint64(0); i < 10; i++ {
		sn, _, err := j.AppendEntry(testStamp(i), nil, []byte(fmt.Sprintf("MESSAGE=%d", i)))
		require.NoError(t, err)
		assert.Equal(t, i+1, sn)
	}

	assert.Equal(t, uint64(1), j.HeadEntrySeqnum())
	assert.Equal(t, uint64(10), j.TailEntrySeqnum())
}

func TestAppendReconcilesExternalSeqnum(t *testing.T) {
	j := openTestFile(t)

	seqnum := uint64(100)
	sn, _, err := j.AppendEntry(testStamp(0), &seqnum, []byte("MESSAGE=a"))
	require.NoError(t, err)
	assert.Equal(t, uint64(101), sn)
	assert.Equal(t, uint64(101), seqnum)

	sn, _, err = j.AppendEntry(testStamp(1), &seqnum, []byte("MESSAGE=b"))
	require.NoError(t, err)
	assert.Equal(t, uint64(102), sn)
}

func TestAppendRejectsMonotonicRegression(t *testing.T) {
	j := openTestFile(t)

	_, _, err := j.AppendEntry(&Timestamp{Realtime: 1000, Monotonic: 5000}, nil, []byte("MESSAGE=a"))
	require.NoError(t, err)

	_, _, err = j.AppendEntry(&Timestamp{Realtime: 2000, Monotonic: 100}, nil, []byte("MESSAGE=b"))
	require.ErrorIs(t, err, ErrClockRegression)

	// Equal monotonic timestamps are fine.
	_, _, err = j.AppendEntry(&Timestamp{Realtime: 3000, Monotonic: 5000}, nil, []byte("MESSAGE=c"))
	require.NoError(t, err)
}

func TestAppendOnReadOnlyFile(t *testing.T) {
	path := testPath(t)

	j, err := Open(path)
	require.NoError(t, err)
	_, _, err = j.AppendEntry(testStamp(0), nil, []byte("MESSAGE=a"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	r, err := Open(path, func(o *Options) { o.ReadOnly = true })
	require.NoError(t, err)
	defer r.Close()

	_, _, err = r.AppendEntry(testStamp(1), nil, []byte("MESSAGE=b"))
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestPayloadDedup(t *testing.T) {
	collector := &BasicMetricsCollector{}
	j := openTestFile(t, func(o *Options) { o.MetricsCollector = collector })

	_, _, err := j.AppendEntry(testStamp(0), nil, []byte("MESSAGE=same"), []byte("PRIORITY=6"))
	require.NoError(t, err)
	nData := j.NData()

	// Identical payloads are interned, not duplicated.
	_, _, err = j.AppendEntry(testStamp(1), nil, []byte("MESSAGE=same"), []byte("PRIORITY=6"))
	require.NoError(t, err)

	assert.Equal(t, nData, j.NData())
	assert.Equal(t, int64(2), collector.DedupCount.Load())

	_, _, err = j.AppendEntry(testStamp(2), nil, []byte("MESSAGE=different"))
	require.NoError(t, err)
	assert.Equal(t, nData+1, j.NData())
}

func TestFindDataObject(t *testing.T) {
	j := openTestFile(t)

	_, _, err := j.AppendEntry(testStamp(0), nil, []byte("MESSAGE=findme"))
	require.NoError(t, err)

	p, err := j.FindDataObject([]byte("MESSAGE=findme"))
	require.NoError(t, err)
	assert.NotZero(t, p)

	payload, err := j.DataPayload(p)
	require.NoError(t, err)
	assert.Equal(t, []byte("MESSAGE=findme"), payload)

	_, err = j.FindDataObject([]byte("MESSAGE=absent"))
	require.ErrorIs(t, err, ErrNotFound)
}

func compressionRoundTrip(t *testing.T, algorithm compress.Algorithm) {
	t.Helper()

	path := testPath(t)
	collector := &BasicMetricsCollector{}

	j, err := Open(path, func(o *Options) {
		o.Compression = algorithm
		o.MetricsCollector = collector
	})
	require.NoError(t, err)

	// Comfortably above the compression threshold and repetitive.
	big := append([]byte("MESSAGE="), bytes.Repeat([]byte("abcdefgh"), 1024)...)
	small := []byte("PRIORITY=6")

	_, off, err := j.AppendEntry(testStamp(0), nil, big, small)
	require.NoError(t, err)

	ent, err := j.ReadEntry(off)
	require.NoError(t, err)
	require.Len(t, ent.Payloads, 2)

	assert.Equal(t, int64(1), collector.CompressionCount.Load(),
		"only the large payload should be stored compressed")
	assert.Less(t, collector.CompressionOut.Load(), collector.CompressionRaw.Load())

	// Dedup still works against the compressed object.
	_, _, err = j.AppendEntry(testStamp(1), nil, big)
	require.NoError(t, err)
	assert.Equal(t, int64(1), collector.DedupCount.Load())

	require.NoError(t, j.Close())

	// A reader picks the codec from the header.
	r, err := Open(path, func(o *Options) { o.ReadOnly = true })
	require.NoError(t, err)
	defer r.Close()

	ent, err = r.ReadEntry(off)
	require.NoError(t, err)
	found := false
	for _, p := range ent.Payloads {
		if bytes.Equal(p, big) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCompressionZstd(t *testing.T) { compressionRoundTrip(t, compress.Zstd) }
func TestCompressionLZ4(t *testing.T)  { compressionRoundTrip(t, compress.LZ4) }

func TestLifecycleStates(t *testing.T) {
	path := testPath(t)

	j, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, format.StateOnline, j.State())

	_, _, err = j.AppendEntry(testStamp(0), nil, []byte("MESSAGE=a"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	r, err := Open(path, func(o *Options) { o.ReadOnly = true })
	require.NoError(t, err)
	assert.Equal(t, format.StateOffline, r.State())
	require.NoError(t, r.Close())
}

func TestSecondWriterRejected(t *testing.T) {
	path := testPath(t)

	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	_, err = Open(path)
	require.ErrorIs(t, err, ErrBusy)
}

func TestReaderAlongsideWriter(t *testing.T) {
	path := testPath(t)

	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	_, off, err := j.AppendEntry(testStamp(0), nil, []byte("MESSAGE=live"))
	require.NoError(t, err)

	r, err := Open(path, func(o *Options) { o.ReadOnly = true })
	require.NoError(t, err)
	defer r.Close()

	ent, err := r.ReadEntry(off)
	require.NoError(t, err)
	assert.Equal(t, []byte("MESSAGE=live"), ent.Payloads[0])

	// Appends after the reader opened are visible too.
	_, off2, err := j.AppendEntry(testStamp(1), nil, []byte("MESSAGE=later"))
	require.NoError(t, err)

	ent, err = r.ReadEntry(off2)
	require.NoError(t, err)
	assert.Equal(t, []byte("MESSAGE=later"), ent.Payloads[0])
}

func TestGrowthPolicyCeiling(t *testing.T) {
	j := openTestFile(t, func(o *Options) {
		o.Metrics = Metrics{
			MaxUse:   DeriveFromFilesystem,
			MaxSize:  128 * 1024,
			MinSize:  DeriveFromFilesystem,
			KeepFree: 0,
		}
	})

	chunk := make([]byte, 16*1024)

	var hitCeiling bool
	for i := uint64(0); i < 64; i++ {
		_, err := rand.Read(chunk)
		require.NoError(t, err)

		payload := append([]byte("BLOB="), chunk...)
		_, _, err = j.AppendEntry(testStamp(i), nil, payload)
		if err != nil {
			require.ErrorIs(t, err, ErrFileTooBig)
			hitCeiling = true
			break
		}
	}
	require.True(t, hitCeiling, "append never hit the size ceiling")

	// The file stays consistent and readable after a rejected append.
	n := j.NEntries()
	require.NotZero(t, n)
	off, err := j.NextEntry(0, DirectionDown)
	require.NoError(t, err)
	_, err = j.ReadEntry(off)
	require.NoError(t, err)
}

func TestRotate(t *testing.T) {
	path := testPath(t)
	dir := filepath.Dir(path)

	j, err := Open(path)
	require.NoError(t, err)

	for i := uint64(0); i < 5; i++ {
		_, _, err = j.AppendEntry(testStamp(i), nil, []byte(fmt.Sprintf("MESSAGE=%d", i)))
		require.NoError(t, err)
	}
	seqnumID := j.SeqnumID()

	next, err := j.Rotate()
	require.NoError(t, err)
	defer next.Close()

	// The successor continues the sequence number space.
	assert.Equal(t, seqnumID, next.SeqnumID())
	assert.Equal(t, uint64(5), next.TailEntrySeqnum())
	assert.Equal(t, uint64(0), next.NEntries())

	sn, _, err := next.AppendEntry(testStamp(5), nil, []byte("MESSAGE=5"))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), sn)

	// Exactly one archive, named for the stream and its tail.
	archives, err := filepath.Glob(filepath.Join(dir, "test@*.journal"))
	require.NoError(t, err)
	require.Len(t, archives, 1)

	// The archive is readable but refuses write-opens.
	r, err := Open(archives[0], func(o *Options) { o.ReadOnly = true })
	require.NoError(t, err)
	assert.Equal(t, format.StateArchived, r.State())
	assert.Equal(t, uint64(5), r.NEntries())
	require.NoError(t, r.Close())

	_, err = Open(archives[0])
	require.ErrorIs(t, err, ErrArchived)
}

func TestRotateSuggested(t *testing.T) {
	j := openTestFile(t)

	assert.False(t, j.RotateSuggested(0))

	_, _, err := j.AppendEntry(&Timestamp{Realtime: 1, Monotonic: 1}, nil, []byte("MESSAGE=old"))
	require.NoError(t, err)

	// The single entry is ancient relative to any bounded age.
	assert.True(t, j.RotateSuggested(time.Hour))
	assert.False(t, j.RotateSuggested(0))
}

func TestOpenReliablyQuarantinesCorruptFile(t *testing.T) {
	path := testPath(t)
	dir := filepath.Dir(path)
	collector := &BasicMetricsCollector{}

	j, err := Open(path)
	require.NoError(t, err)
	_, _, err = j.AppendEntry(testStamp(0), nil, []byte("MESSAGE=doomed"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	// Clobber the signature.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("GARBAGE!"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path)
	require.ErrorIs(t, err, ErrBadMessage)

	j, err = OpenReliably(path, func(o *Options) { o.MetricsCollector = collector })
	require.NoError(t, err)
	defer j.Close()

	assert.Equal(t, uint64(0), j.NEntries())
	assert.Equal(t, int64(1), collector.QuarantineCount.Load())

	broken, err := filepath.Glob(filepath.Join(dir, "*"+SuffixBroken))
	require.NoError(t, err)
	require.Len(t, broken, 1, "damaged file should be set aside, not deleted")
}

func TestOpenReliablyPassesThroughHealthyFile(t *testing.T) {
	path := testPath(t)

	j, err := OpenReliably(path)
	require.NoError(t, err)
	_, _, err = j.AppendEntry(testStamp(0), nil, []byte("MESSAGE=a"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = OpenReliably(path)
	require.NoError(t, err)
	defer j.Close()
	assert.Equal(t, uint64(1), j.NEntries())
}

func TestTruncatedFileRejected(t *testing.T) {
	path := testPath(t)
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o640))

	_, err := Open(path, func(o *Options) { o.ReadOnly = true })
	require.ErrorIs(t, err, ErrTruncated)
}

func TestCrampedHashTableRejected(t *testing.T) {
	path := testPath(t)

	j, err := Open(path)
	require.NoError(t, err)
	_, _, err = j.AppendEntry(testStamp(0), nil, []byte("MESSAGE=a"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	// Shrink the declared data hash table below one bucket.
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	format.Header(b).SetDataHashTableSize(8)
	require.NoError(t, os.WriteFile(path, b, 0o640))

	_, err = Open(path, func(o *Options) { o.ReadOnly = true })
	require.ErrorIs(t, err, ErrBadMessage)
}

func TestOversizedObjectRejected(t *testing.T) {
	path := testPath(t)

	j, err := Open(path)
	require.NoError(t, err)
	_, off, err := j.AppendEntry(testStamp(0), nil, []byte("MESSAGE=a"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	// Declare an object size so large that offset plus size wraps.
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	format.Object(b[off:]).SetSize(^uint64(0) - 8)
	require.NoError(t, os.WriteFile(path, b, 0o640))

	r, err := Open(path, func(o *Options) { o.ReadOnly = true })
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadEntry(off)
	require.ErrorIs(t, err, ErrBadMessage)
}

func TestCopyEntry(t *testing.T) {
	src := openTestFile(t)
	dst := openTestFile(t)

	_, off, err := src.AppendEntry(testStamp(3), nil, []byte("MESSAGE=copied"), []byte("PRIORITY=3"))
	require.NoError(t, err)

	sn, dstOff, err := src.CopyEntry(dst, off, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sn)

	ent, err := dst.ReadEntry(dstOff)
	require.NoError(t, err)
	assert.Equal(t, testStamp(3).Realtime, ent.Realtime)
	assert.Equal(t, testStamp(3).Monotonic, ent.Monotonic)
	require.Len(t, ent.Payloads, 2)

	// Copying preserves the source boot ID.
	srcEnt, err := src.ReadEntry(off)
	require.NoError(t, err)
	assert.Equal(t, srcEnt.BootID, ent.BootID)

	_, _, err = src.CopyEntry(src, off, nil)
	require.Error(t, err)
}

func TestSealedFileVerifies(t *testing.T) {
	path := testPath(t)
	sealer := NewHMACSealer([]byte("0123456789abcdef"), time.Minute)

	j, err := Open(path, func(o *Options) { o.Sealer = sealer })
	require.NoError(t, err)

	for i := uint64(0); i < 20; i++ {
		// Walk realtime across several epochs to force interior tags.
		ts := &Timestamp{
			Realtime:  (1 + i) * 30 * 1_000_000,
			Monotonic: 1 + i,
		}
		_, _, err = j.AppendEntry(ts, nil, []byte(fmt.Sprintf("MESSAGE=%d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	r, err := Open(path, func(o *Options) { o.ReadOnly = true })
	require.NoError(t, err)
	defer r.Close()

	verified, err := r.VerifySeals(sealer)
	require.NoError(t, err)
	assert.Greater(t, verified, 1, "expected interior and final tags")

	// A different key must not verify.
	_, err = r.VerifySeals(NewHMACSealer([]byte("wrong key"), time.Minute))
	require.ErrorIs(t, err, ErrBadMessage)
}

func TestFieldsEnumeration(t *testing.T) {
	j := openTestFile(t)

	_, _, err := j.AppendEntry(testStamp(0), nil,
		[]byte("MESSAGE=a"), []byte("PRIORITY=6"), []byte("PRIORITY=3"))
	require.NoError(t, err)

	var names []string
	require.NoError(t, j.Fields(func(name []byte) bool {
		names = append(names, string(name))
		return true
	}))
	assert.ElementsMatch(t, []string{"MESSAGE", "PRIORITY"}, names)

	var values []string
	require.NoError(t, j.DataForField([]byte("PRIORITY"), func(payload []byte) bool {
		values = append(values, string(payload))
		return true
	}))
	assert.ElementsMatch(t, []string{"PRIORITY=6", "PRIORITY=3"}, values)

	err = j.DataForField([]byte("ABSENT"), func([]byte) bool { return true })
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDumpAndPrintHeader(t *testing.T) {
	j := openTestFile(t)

	_, _, err := j.AppendEntry(testStamp(0), nil, []byte("MESSAGE=dumped"))
	require.NoError(t, err)

	var hdr bytes.Buffer
	require.NoError(t, j.PrintHeader(&hdr))
	assert.Contains(t, hdr.String(), "State: ONLINE")
	assert.Contains(t, hdr.String(), "Entry objects: 1")

	var dump bytes.Buffer
	require.NoError(t, j.Dump(&dump))
	assert.Contains(t, dump.String(), "entry")
	assert.Contains(t, dump.String(), "data hash table")
}

func TestCutoffRealtime(t *testing.T) {
	j := openTestFile(t)

	_, _, err := j.CutoffRealtime()
	require.ErrorIs(t, err, ErrNotFound)

	for i := uint64(0); i < 3; i++ {
		_, _, err := j.AppendEntry(testStamp(i), nil, []byte(fmt.Sprintf("MESSAGE=%d", i)))
		require.NoError(t, err)
	}

	from, to, err := j.CutoffRealtime()
	require.NoError(t, err)
	assert.Equal(t, testStamp(0).Realtime, from)
	assert.Equal(t, testStamp(2).Realtime, to)
}

func TestCloseIsIdempotent(t *testing.T) {
	j := openTestFile(t)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
}

func TestReopenPreservesEntries(t *testing.T) {
	path := testPath(t)

	j, err := Open(path)
	require.NoError(t, err)
	for i := uint64(0); i < 50; i++ {
		_, _, err := j.AppendEntry(testStamp(i), nil, []byte(fmt.Sprintf("MESSAGE=%d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	assert.Equal(t, uint64(50), j.NEntries())

	// Iterate everything and verify ordering.
	var prev uint64
	var count int
	p := uint64(0)
	for {
		var err error
		p, err = j.NextEntry(p, DirectionDown)
		if errors.Is(err, ErrOutOfRange) {
			break
		}
		require.NoError(t, err)

		ent, err := j.ReadEntry(p)
		require.NoError(t, err)
		require.Greater(t, ent.Seqnum, prev)
		prev = ent.Seqnum
		count++
	}
	assert.Equal(t, 50, count)

	// And appends continue where they left off.
	sn, _, err := j.AppendEntry(testStamp(50), nil, []byte("MESSAGE=50"))
	require.NoError(t, err)
	assert.Equal(t, uint64(51), sn)
}
