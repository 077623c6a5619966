package journalfile

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/journalfile/id128"
)

// populate appends n entries with strictly increasing clocks. Entry i carries
// a unique MESSAGE payload and PRIORITY=0 or PRIORITY=1 by parity, plus a
// fixed boot payload. Returns the entry offsets in append order.
func populate(t *testing.T, j *JournalFile, n uint64, boot id128.ID) []uint64 {
	t.Helper()

	offsets := make([]uint64, 0, n)
	for i := uint64(0); i < n; i++ {
		_, off, err := j.AppendEntry(testStamp(i), nil,
			[]byte(fmt.Sprintf("MESSAGE=entry %d", i)),
			[]byte(fmt.Sprintf("PRIORITY=%d", i%2)),
			[]byte("_BOOT_ID="+boot.String()),
		)
		require.NoError(t, err)
		offsets = append(offsets, off)
	}
	return offsets
}

func testBootID(t *testing.T) id128.ID {
	t.Helper()
	id, err := id128.Parse("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	return id
}

func TestMoveToEntryBySeqnum(t *testing.T) {
	j := openTestFile(t)
	boot := testBootID(t)

	// Enough entries to chain several index arrays.
	offsets := populate(t, j, 300, boot)

	for _, seqnum := range []uint64{1, 2, 100, 299, 300} {
		off, err := j.MoveToEntryBySeqnum(seqnum, DirectionDown)
		require.NoError(t, err)
		assert.Equal(t, offsets[seqnum-1], off, "down seek to %d", seqnum)

		off, err = j.MoveToEntryBySeqnum(seqnum, DirectionUp)
		require.NoError(t, err)
		assert.Equal(t, offsets[seqnum-1], off, "up seek to %d", seqnum)
	}

	// Past the tail: nothing lies further down, the tail lies up.
	_, err := j.MoveToEntryBySeqnum(301, DirectionDown)
	require.ErrorIs(t, err, ErrOutOfRange)

	off, err := j.MoveToEntryBySeqnum(301, DirectionUp)
	require.NoError(t, err)
	assert.Equal(t, offsets[299], off)

	// Before the head: the head lies down, nothing lies up.
	off, err = j.MoveToEntryBySeqnum(0, DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, offsets[0], off)

	_, err = j.MoveToEntryBySeqnum(0, DirectionUp)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestMoveToEntryByRealtime(t *testing.T) {
	j := openTestFile(t)
	offsets := populate(t, j, 100, testBootID(t))

	// Entry timestamps are 1ms apart, so a needle between entry i and i+1
	// resolves to i+1 going down and i going up.
	for _, i := range []uint64{0, 1, 42, 98} {
		needle := testStamp(i).Realtime + 1

		off, err := j.MoveToEntryByRealtime(needle, DirectionDown)
		require.NoError(t, err)
		assert.Equal(t, offsets[i+1], off)

		off, err = j.MoveToEntryByRealtime(needle, DirectionUp)
		require.NoError(t, err)
		assert.Equal(t, offsets[i], off)
	}

	// Exact hits resolve to the entry itself, in both directions.
	off, err := j.MoveToEntryByRealtime(testStamp(50).Realtime, DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, offsets[50], off)

	off, err = j.MoveToEntryByRealtime(testStamp(50).Realtime, DirectionUp)
	require.NoError(t, err)
	assert.Equal(t, offsets[50], off)
}

func TestMoveToEntryByMonotonic(t *testing.T) {
	j := openTestFile(t)
	boot := testBootID(t)
	offsets := populate(t, j, 100, boot)

	off, err := j.MoveToEntryByMonotonic(boot, testStamp(10).Monotonic, DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, offsets[10], off)

	off, err = j.MoveToEntryByMonotonic(boot, testStamp(10).Monotonic+1, DirectionUp)
	require.NoError(t, err)
	assert.Equal(t, offsets[10], off)

	// An unknown boot is a miss, not an empty range.
	other, err := id128.Parse("ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	_, err = j.MoveToEntryByMonotonic(other, testStamp(10).Monotonic, DirectionDown)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMoveToEntryForData(t *testing.T) {
	j := openTestFile(t)
	offsets := populate(t, j, 100, testBootID(t))

	// Odd-numbered entries carry PRIORITY=1.
	needle := testStamp(40).Realtime

	off, err := j.MoveToEntryByRealtimeForData([]byte("PRIORITY=1"), needle, DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, offsets[41], off, "first odd entry at or after 40")

	off, err = j.MoveToEntryByRealtimeForData([]byte("PRIORITY=1"), needle, DirectionUp)
	require.NoError(t, err)
	assert.Equal(t, offsets[39], off, "last odd entry at or before 40")

	off, err = j.MoveToEntryBySeqnumForData([]byte("PRIORITY=0"), 42, DirectionUp)
	require.NoError(t, err)
	ent, err := j.ReadEntry(off)
	require.NoError(t, err)
	assert.Equal(t, uint64(41), ent.Seqnum, "last even entry with seqnum <= 42")

	_, err = j.MoveToEntryByRealtimeForData([]byte("PRIORITY=9"), needle, DirectionDown)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMoveToEntryByMonotonicForData(t *testing.T) {
	j := openTestFile(t)
	boot := testBootID(t)
	offsets := populate(t, j, 100, boot)

	// The entry must both carry the payload and be nearest the monotonic
	// needle, so the result converges across two indices.
	off, err := j.MoveToEntryByMonotonicForData([]byte("PRIORITY=1"), boot, testStamp(50).Monotonic, DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, offsets[51], off)

	off, err = j.MoveToEntryByMonotonicForData([]byte("PRIORITY=0"), boot, testStamp(50).Monotonic, DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, offsets[50], off)

	off, err = j.MoveToEntryByMonotonicForData([]byte("PRIORITY=1"), boot, testStamp(50).Monotonic, DirectionUp)
	require.NoError(t, err)
	assert.Equal(t, offsets[49], off)
}

func TestNextEntryIteration(t *testing.T) {
	j := openTestFile(t)
	offsets := populate(t, j, 50, testBootID(t))

	// Forward walk visits every entry in order.
	var forward []uint64
	p := uint64(0)
	for {
		var err error
		p, err = j.NextEntry(p, DirectionDown)
		if errors.Is(err, ErrOutOfRange) {
			break
		}
		require.NoError(t, err)
		forward = append(forward, p)
	}
	assert.Equal(t, offsets, forward)

	// Backward walk visits them in reverse.
	var backward []uint64
	p = 0
	for {
		var err error
		p, err = j.NextEntry(p, DirectionUp)
		if errors.Is(err, ErrOutOfRange) {
			break
		}
		require.NoError(t, err)
		backward = append(backward, p)
	}
	require.Len(t, backward, 50)
	for i := range backward {
		assert.Equal(t, offsets[49-i], backward[i])
	}
}

func TestNextEntryForDataIteration(t *testing.T) {
	j := openTestFile(t)
	offsets := populate(t, j, 50, testBootID(t))

	var got []uint64
	p := uint64(0)
	for {
		var err error
		p, err = j.NextEntryForData([]byte("PRIORITY=1"), p, DirectionDown)
		if errors.Is(err, ErrOutOfRange) {
			break
		}
		require.NoError(t, err)
		got = append(got, p)
	}

	var want []uint64
	for i := uint64(1); i < 50; i += 2 {
		want = append(want, offsets[i])
	}
	assert.Equal(t, want, got)

	_, err := j.NextEntryForData([]byte("PRIORITY=9"), 0, DirectionDown)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSkipEntry(t *testing.T) {
	j := openTestFile(t)
	offsets := populate(t, j, 20, testBootID(t))

	// From outside the range, skip 1 lands on the boundary entry.
	off, err := j.SkipEntry(0, DirectionDown, 1)
	require.NoError(t, err)
	assert.Equal(t, offsets[0], off)

	off, err = j.SkipEntry(0, DirectionUp, 1)
	require.NoError(t, err)
	assert.Equal(t, offsets[19], off)

	off, err = j.SkipEntry(offsets[5], DirectionDown, 10)
	require.NoError(t, err)
	assert.Equal(t, offsets[15], off)

	off, err = j.SkipEntry(offsets[15], DirectionUp, 10)
	require.NoError(t, err)
	assert.Equal(t, offsets[5], off)

	off, err = j.SkipEntry(offsets[7], DirectionDown, 0)
	require.NoError(t, err)
	assert.Equal(t, offsets[7], off)

	_, err = j.SkipEntry(offsets[15], DirectionDown, 10)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = j.SkipEntry(offsets[5], DirectionUp, 10)
	require.ErrorIs(t, err, ErrOutOfRange)

	// A skip large enough to wrap the index arithmetic is out of range,
	// not a wrapped hit.
	_, err = j.SkipEntry(offsets[5], DirectionDown, ^uint64(0))
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = j.SkipEntry(offsets[5], DirectionUp, ^uint64(0))
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestMoveToEntryByOffset(t *testing.T) {
	j := openTestFile(t)
	offsets := populate(t, j, 20, testBootID(t))

	// A needle between two entry offsets resolves to the neighbor in the
	// seek direction.
	needle := offsets[9] + 8

	off, err := j.MoveToEntryByOffset(needle, DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, offsets[10], off)

	off, err = j.MoveToEntryByOffset(needle, DirectionUp)
	require.NoError(t, err)
	assert.Equal(t, offsets[9], off)

	off, err = j.MoveToEntryByOffsetForData([]byte("PRIORITY=0"), needle, DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, offsets[10], off, "entry 10 is even")
}

func TestCutoffMonotonic(t *testing.T) {
	j := openTestFile(t)
	boot := testBootID(t)
	populate(t, j, 10, boot)

	from, to, err := j.CutoffMonotonic(boot)
	require.NoError(t, err)
	assert.Equal(t, testStamp(0).Monotonic, from)
	assert.Equal(t, testStamp(9).Monotonic, to)

	other, err := id128.Parse("ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	_, _, err = j.CutoffMonotonic(other)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNextEntryOnEmptyFile(t *testing.T) {
	j := openTestFile(t)

	_, err := j.NextEntry(0, DirectionDown)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = j.NextEntry(0, DirectionUp)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestSeekAgainstLinearScan(t *testing.T) {
	j := openTestFile(t)
	const n = 128
	offsets := populate(t, j, n, testBootID(t))

	realtimeOf := func(off uint64) uint64 {
		ent, err := j.ReadEntry(off)
		require.NoError(t, err)
		return ent.Realtime
	}

	// Every needle between, at, before and after entry timestamps must
	// agree with a linear scan over the same entries.
	needles := []uint64{
		testStamp(0).Realtime - 500,
		testStamp(0).Realtime,
		testStamp(17).Realtime + 1,
		testStamp(63).Realtime,
		testStamp(64).Realtime - 1,
		testStamp(n - 1).Realtime,
		testStamp(n - 1).Realtime + 500,
	}

	for _, needle := range needles {
		// Linear reference: first entry >= needle, last entry <= needle.
		var wantDown, wantUp uint64
		var haveDown, haveUp bool
		for _, off := range offsets {
			rt := realtimeOf(off)
			if !haveDown && rt >= needle {
				wantDown, haveDown = off, true
			}
			if rt <= needle {
				wantUp, haveUp = off, true
			}
		}

		off, err := j.MoveToEntryByRealtime(needle, DirectionDown)
		if haveDown {
			require.NoError(t, err, "down needle %d", needle)
			assert.Equal(t, wantDown, off, "down needle %d", needle)
		} else {
			require.ErrorIs(t, err, ErrOutOfRange, "down needle %d", needle)
		}

		off, err = j.MoveToEntryByRealtime(needle, DirectionUp)
		if haveUp {
			require.NoError(t, err, "up needle %d", needle)
			assert.Equal(t, wantUp, off, "up needle %d", needle)
		} else {
			require.ErrorIs(t, err, ErrOutOfRange, "up needle %d", needle)
		}
	}
}
