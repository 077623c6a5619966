package journalfile

import (
	"errors"
	"fmt"

	"github.com/hupe1980/journalfile/format"
	"github.com/hupe1980/journalfile/id128"
)

// Direction selects which of the candidate entries a seek resolves to when
// the needle falls between entries.
type Direction int

const (
	// DirectionDown resolves to the earliest entry at or after the needle.
	DirectionDown Direction = iota
	// DirectionUp resolves to the latest entry at or before the needle.
	DirectionUp
)

func (d Direction) String() string {
	if d == DirectionUp {
		return "up"
	}
	return "down"
}

type testResult int

const (
	testFound testResult = iota
	testLeft
	testRight
)

// testFunc orders the entry at offset p against the needle. testLeft means
// the entry sorts before the needle, testRight after, testFound equal.
type testFunc func(j *JournalFile, p, needle uint64) (testResult, error)

func testObjectOffset(j *JournalFile, p, needle uint64) (testResult, error) {
	switch {
	case p == needle:
		return testFound, nil
	case p < needle:
		return testLeft, nil
	default:
		return testRight, nil
	}
}

func testObjectSeqnum(j *JournalFile, p, needle uint64) (testResult, error) {
	o, err := j.moveToObject(format.ObjectEntry, p)
	if err != nil {
		return 0, err
	}
	sq := o.Entry().Seqnum()
	switch {
	case sq == needle:
		return testFound, nil
	case sq < needle:
		return testLeft, nil
	default:
		return testRight, nil
	}
}

func testObjectRealtime(j *JournalFile, p, needle uint64) (testResult, error) {
	o, err := j.moveToObject(format.ObjectEntry, p)
	if err != nil {
		return 0, err
	}
	rt := o.Entry().Realtime()
	switch {
	case rt == needle:
		return testFound, nil
	case rt < needle:
		return testLeft, nil
	default:
		return testRight, nil
	}
}

func testObjectMonotonic(j *JournalFile, p, needle uint64) (testResult, error) {
	o, err := j.moveToObject(format.ObjectEntry, p)
	if err != nil {
		return 0, err
	}
	m := o.Entry().Monotonic()
	switch {
	case m == needle:
		return testFound, nil
	case m < needle:
		return testLeft, nil
	default:
		return testRight, nil
	}
}

// arrayGet returns the i-th item offset of the chained array rooted at first.
// ok is false when i is past the end.
func (j *JournalFile) arrayGet(first, i uint64) (uint64, bool, error) {
	a := first
	for a > 0 {
		o, err := j.moveToObject(format.ObjectEntryArray, a)
		if err != nil {
			return 0, false, err
		}
		ea := o.EntryArray()
		k := ea.NItems()
		if i < k {
			p := ea.Item(i)
			if p == 0 {
				return 0, false, fmt.Errorf("%w: zero item in entry array at %#x", ErrBadMessage, a)
			}
			return p, true, nil
		}
		i -= k
		a = ea.NextOffset()
	}
	return 0, false, nil
}

// arrayGetPlusOne is arrayGet over an index whose first item lives inline in
// extra.
func (j *JournalFile) arrayGetPlusOne(extra, first, i uint64) (uint64, bool, error) {
	if i == 0 {
		if extra == 0 {
			return 0, false, nil
		}
		return extra, true, nil
	}
	return j.arrayGet(first, i-1)
}

// bisectResult reports where a bisection landed.
type bisectResult struct {
	offset uint64
	idx    uint64
}

// arrayBisect runs the generic bisection over the chained array rooted at
// first, holding n items in ascending test order. It finds the boundary item
// for needle under direction: going down, the first item not left of the
// needle; going up, the last item not right of it. ok is false when no item
// qualifies.
//
// Arrays in the chain are skipped wholesale when their last item still tests
// left, so the cost is logarithmic in the items of the final array plus the
// chain length. Items that fail to resolve cut the search short at the last
// readable prefix rather than failing the whole seek.
func (j *JournalFile) arrayBisect(first, n, needle uint64, test testFunc, direction Direction) (bisectResult, bool, error) {
	var (
		t           uint64
		lastP       uint64
		subtractOne bool
	)

	a := first
	for a > 0 && n > 0 {
		o, err := j.moveToObject(format.ObjectEntryArray, a)
		if err != nil {
			return bisectResult{}, false, err
		}
		ea := o.EntryArray()
		k := ea.NItems()
		next := ea.NextOffset()

		// Testing an item maps other windows, which may recycle the one
		// the array lives in. Every item access re-resolves the array.
		item := func(i uint64) (uint64, error) {
			o, err := j.moveToObject(format.ObjectEntryArray, a)
			if err != nil {
				return 0, err
			}
			return o.EntryArray().Item(i), nil
		}

		right := k
		if right > n {
			right = n
		}
		if right == 0 {
			return bisectResult{}, false, nil
		}

		i := right - 1
		lp, err := item(i)
		if err != nil {
			return bisectResult{}, false, err
		}
		res, err := j.testItem(lp, needle, test, direction)
		if err != nil {
			if errors.Is(err, ErrBadMessage) {
				// Truncate the search to the readable prefix of
				// this array.
				n = i
				continue
			}
			return bisectResult{}, false, err
		}

		if res == testRight {
			left := uint64(0)
			right--

			for left != right {
				i = (left + right) / 2
				p, err := item(i)
				if err != nil {
					return bisectResult{}, false, err
				}
				res, err = j.testItem(p, needle, test, direction)
				if err != nil {
					return bisectResult{}, false, err
				}
				if res == testRight {
					right = i
				} else {
					left = i + 1
				}
			}

			if direction == DirectionUp {
				subtractOne = true
			}
			return j.bisectFinish(item, t, left, subtractOne, lastP)
		}

		if k >= n {
			// Needle is past everything indexed.
			if direction == DirectionUp {
				return j.bisectFinish(item, t, n-1, false, lastP)
			}
			return bisectResult{}, false, nil
		}

		lastP = lp
		n -= k
		t += k
		a = next
	}

	return bisectResult{}, false, nil
}

// testItem applies test and collapses testFound into the direction the caller
// bisects by: an exact hit is kept by stopping just past it.
func (j *JournalFile) testItem(p, needle uint64, test testFunc, direction Direction) (testResult, error) {
	if p == 0 {
		return 0, fmt.Errorf("%w: zero item offset while bisecting", ErrBadMessage)
	}
	res, err := test(j, p, needle)
	if err != nil {
		return 0, err
	}
	if res == testFound {
		if direction == DirectionDown {
			return testRight, nil
		}
		return testLeft, nil
	}
	return res, nil
}

func (j *JournalFile) bisectFinish(item func(uint64) (uint64, error), t, i uint64, subtractOne bool, lastP uint64) (bisectResult, bool, error) {
	if subtractOne && t == 0 && i == 0 {
		return bisectResult{}, false, nil
	}

	var p uint64
	var err error
	switch {
	case subtractOne && i == 0:
		p = lastP
	case subtractOne:
		p, err = item(i - 1)
	default:
		p, err = item(i)
	}
	if err != nil {
		return bisectResult{}, false, err
	}
	if p == 0 {
		return bisectResult{}, false, fmt.Errorf("%w: zero item offset at bisection boundary", ErrBadMessage)
	}

	idx := t + i
	if subtractOne {
		idx--
	}
	return bisectResult{offset: p, idx: idx}, true, nil
}

// arrayBisectPlusOne extends arrayBisect to an index whose first item is the
// inline extra slot.
func (j *JournalFile) arrayBisectPlusOne(extra, first, n, needle uint64, test testFunc, direction Direction) (bisectResult, bool, error) {
	if n == 0 {
		return bisectResult{}, false, nil
	}

	stepBack := false
	res, err := j.testItem(extra, needle, test, direction)
	if err != nil {
		return bisectResult{}, false, err
	}

	// Going up, a left-sorting extra is the fallback if no chained item
	// qualifies.
	if res == testLeft && direction == DirectionUp {
		stepBack = true
	}

	if res == testRight {
		if direction == DirectionDown {
			return bisectResult{offset: extra, idx: 0}, true, nil
		}
		return bisectResult{}, false, nil
	}

	r, ok, err := j.arrayBisect(first, n-1, needle, test, direction)
	if err != nil {
		return bisectResult{}, false, err
	}
	if !ok {
		if stepBack {
			return bisectResult{offset: extra, idx: 0}, true, nil
		}
		return bisectResult{}, false, nil
	}

	r.idx++
	return r, true, nil
}

// dataIndex snapshots a data object's per-payload index roots.
func (j *JournalFile) dataIndex(dataOffset uint64) (extra, first, n uint64, err error) {
	o, err := j.moveToObject(format.ObjectData, dataOffset)
	if err != nil {
		return 0, 0, 0, err
	}
	d := o.Data()
	return d.EntryOffset(), d.EntryArrayOffset(), d.NEntries(), nil
}

// MoveToEntryByOffset seeks to the indexed entry nearest the given file
// offset in the given direction. The offset does not need to name an entry.
func (j *JournalFile) MoveToEntryByOffset(p uint64, direction Direction) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	r, ok, err := j.arrayBisect(j.header.EntryArrayOffset(), j.header.NEntries(), p, testObjectOffset, direction)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrOutOfRange
	}
	return r.offset, nil
}

// MoveToEntryByOffsetForData is MoveToEntryByOffset restricted to entries
// that carry the given payload.
func (j *JournalFile) MoveToEntryByOffsetForData(data []byte, p uint64, direction Direction) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.moveToEntryForData(data, p, testObjectOffset, direction)
}

// MoveToEntryBySeqnum seeks to the entry nearest the given sequence number in
// the given direction and returns its offset. ErrOutOfRange means no entry
// lies in that direction.
func (j *JournalFile) MoveToEntryBySeqnum(seqnum uint64, direction Direction) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	r, ok, err := j.arrayBisect(j.header.EntryArrayOffset(), j.header.NEntries(), seqnum, testObjectSeqnum, direction)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrOutOfRange
	}
	return r.offset, nil
}

// MoveToEntryByRealtime seeks to the entry nearest the given wall clock
// timestamp, in microseconds, in the given direction.
func (j *JournalFile) MoveToEntryByRealtime(realtime uint64, direction Direction) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	r, ok, err := j.arrayBisect(j.header.EntryArrayOffset(), j.header.NEntries(), realtime, testObjectRealtime, direction)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrOutOfRange
	}
	return r.offset, nil
}

func bootIDPayload(bootID id128.ID) []byte {
	return []byte("_BOOT_ID=" + bootID.String())
}

// MoveToEntryByMonotonic seeks within the entries of a single boot to the one
// nearest the given monotonic timestamp. Monotonic timestamps are only
// ordered within one boot, so the search runs over the index of the boot's
// _BOOT_ID payload. ErrNotFound means the boot is unknown to this file.
func (j *JournalFile) MoveToEntryByMonotonic(bootID id128.ID, monotonic uint64, direction Direction) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	p, found, err := j.findDataObjectWithHash(bootIDPayload(bootID), hash64(bootIDPayload(bootID)))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrNotFound
	}

	extra, first, n, err := j.dataIndex(p)
	if err != nil {
		return 0, err
	}
	r, ok, err := j.arrayBisectPlusOne(extra, first, n, monotonic, testObjectMonotonic, direction)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrOutOfRange
	}
	return r.offset, nil
}

// MoveToEntryBySeqnumForData is MoveToEntryBySeqnum restricted to entries
// that carry the given payload.
func (j *JournalFile) MoveToEntryBySeqnumForData(data []byte, seqnum uint64, direction Direction) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.moveToEntryForData(data, seqnum, testObjectSeqnum, direction)
}

// MoveToEntryByRealtimeForData is MoveToEntryByRealtime restricted to entries
// that carry the given payload.
func (j *JournalFile) MoveToEntryByRealtimeForData(data []byte, realtime uint64, direction Direction) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.moveToEntryForData(data, realtime, testObjectRealtime, direction)
}

func (j *JournalFile) moveToEntryForData(data []byte, needle uint64, test testFunc, direction Direction) (uint64, error) {
	p, found, err := j.findDataObjectWithHash(data, hash64(data))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrNotFound
	}

	extra, first, n, err := j.dataIndex(p)
	if err != nil {
		return 0, err
	}
	r, ok, err := j.arrayBisectPlusOne(extra, first, n, needle, test, direction)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrOutOfRange
	}
	return r.offset, nil
}

// monotonicConvergeMax bounds the alternating bisection below. Each round
// strictly advances the candidate offset, so termination only needs a cap
// against pathological on-disk state.
const monotonicConvergeMax = 64

// MoveToEntryByMonotonicForData seeks within the entries that carry the given
// payload to the one nearest the monotonic timestamp of the given boot. The
// result must lie in both the payload's index and the boot's index, so the
// two are bisected alternately until they agree on an offset.
func (j *JournalFile) MoveToEntryByMonotonicForData(data []byte, bootID id128.ID, monotonic uint64, direction Direction) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	boot := bootIDPayload(bootID)
	bp, found, err := j.findDataObjectWithHash(boot, hash64(boot))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrNotFound
	}

	dp, found, err := j.findDataObjectWithHash(data, hash64(data))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrNotFound
	}

	// Seed with the boot entry nearest the monotonic needle.
	extra, first, n, err := j.dataIndex(bp)
	if err != nil {
		return 0, err
	}
	r, ok, err := j.arrayBisectPlusOne(extra, first, n, monotonic, testObjectMonotonic, direction)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrOutOfRange
	}
	z := r.offset

	for iter := 0; iter < monotonicConvergeMax; iter++ {
		extra, first, n, err = j.dataIndex(dp)
		if err != nil {
			return 0, err
		}
		r, ok, err = j.arrayBisectPlusOne(extra, first, n, z, testObjectOffset, direction)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ErrOutOfRange
		}
		p := r.offset

		extra, first, n, err = j.dataIndex(bp)
		if err != nil {
			return 0, err
		}
		r, ok, err = j.arrayBisectPlusOne(extra, first, n, p, testObjectOffset, direction)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ErrOutOfRange
		}
		q := r.offset

		if p == q {
			return q, nil
		}
		z = q
	}

	return 0, fmt.Errorf("%w: monotonic seek did not converge", ErrBadMessage)
}

// NextEntry returns the offset of the entry adjacent to the one at p in the
// given direction. p == 0 starts from the head (down) or tail (up) of the
// file. ErrOutOfRange means there is no further entry.
func (j *JournalFile) NextEntry(p uint64, direction Direction) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := j.header.NEntries()
	if n == 0 {
		return 0, ErrOutOfRange
	}

	var i uint64
	if p == 0 {
		if direction == DirectionDown {
			i = 0
		} else {
			i = n - 1
		}
	} else {
		r, ok, err := j.arrayBisect(j.header.EntryArrayOffset(), n, p, testObjectOffset, DirectionDown)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: entry at %#x not indexed", ErrBadMessage, p)
		}
		i = r.idx
		if direction == DirectionDown {
			i++
			if i >= n {
				return 0, ErrOutOfRange
			}
		} else {
			if i == 0 {
				return 0, ErrOutOfRange
			}
			i--
		}
	}

	ofs, ok, err := j.arrayGet(j.header.EntryArrayOffset(), i)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrOutOfRange
	}

	// Offsets and index positions must agree on ordering.
	if p > 0 {
		if direction == DirectionDown && ofs <= p {
			return 0, fmt.Errorf("%w: entry order violated after %#x", ErrBadMessage, p)
		}
		if direction == DirectionUp && ofs >= p {
			return 0, fmt.Errorf("%w: entry order violated before %#x", ErrBadMessage, p)
		}
	}

	return ofs, nil
}

// SkipEntry is NextEntry taken skip times in one step: it returns the entry
// skip positions away from the one at p in the given direction. p == 0 counts
// from just outside the head (down) or tail (up), so skip == 1 lands on the
// first or last entry. skip == 0 returns p itself after validating it.
func (j *JournalFile) SkipEntry(p uint64, direction Direction, skip uint64) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := j.header.NEntries()
	if n == 0 {
		return 0, ErrOutOfRange
	}

	var i uint64
	if p == 0 {
		if skip == 0 {
			return 0, ErrOutOfRange
		}
		if direction == DirectionDown {
			i = skip - 1
		} else {
			if skip > n {
				return 0, ErrOutOfRange
			}
			i = n - skip
		}
	} else {
		r, ok, err := j.arrayBisect(j.header.EntryArrayOffset(), n, p, testObjectOffset, DirectionDown)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: entry at %#x not indexed", ErrBadMessage, p)
		}
		if direction == DirectionDown {
			// Checked before the addition so an adversarial skip
			// cannot wrap the index.
			if skip >= n-r.idx {
				return 0, ErrOutOfRange
			}
			i = r.idx + skip
		} else {
			if skip > r.idx {
				return 0, ErrOutOfRange
			}
			i = r.idx - skip
		}
	}
	if i >= n {
		return 0, ErrOutOfRange
	}

	ofs, ok, err := j.arrayGet(j.header.EntryArrayOffset(), i)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrOutOfRange
	}
	return ofs, nil
}

// NextEntryForData is NextEntry restricted to entries carrying the given
// payload. ErrNotFound means the payload is absent from the file.
func (j *JournalFile) NextEntryForData(data []byte, p uint64, direction Direction) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	dp, found, err := j.findDataObjectWithHash(data, hash64(data))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrNotFound
	}

	extra, first, n, err := j.dataIndex(dp)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrOutOfRange
	}

	var i uint64
	if p == 0 {
		if direction == DirectionDown {
			i = 0
		} else {
			i = n - 1
		}
	} else {
		r, ok, err := j.arrayBisectPlusOne(extra, first, n, p, testObjectOffset, DirectionDown)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: entry at %#x not in payload index", ErrBadMessage, p)
		}
		i = r.idx
		if direction == DirectionDown {
			i++
			if i >= n {
				return 0, ErrOutOfRange
			}
		} else {
			if i == 0 {
				return 0, ErrOutOfRange
			}
			i--
		}
	}

	ofs, ok, err := j.arrayGetPlusOne(extra, first, i)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrOutOfRange
	}
	return ofs, nil
}
