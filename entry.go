package journalfile

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hupe1980/journalfile/format"
	"github.com/hupe1980/journalfile/id128"
)

// Timestamp carries the dual clock reading stamped onto every entry, both in
// microseconds.
type Timestamp struct {
	// Realtime is wall clock time, CLOCK_REALTIME.
	Realtime uint64
	// Monotonic is the boot-relative clock, CLOCK_MONOTONIC.
	Monotonic uint64
}

// Now samples both clocks.
func Now() Timestamp {
	ts := Timestamp{Realtime: uint64(time.Now().UnixMicro())}
	var mono unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &mono); err == nil {
		ts.Monotonic = uint64(mono.Sec)*1000000 + uint64(mono.Nsec)/1000
	}
	return ts
}

// entrySeqnum picks the next entry sequence number. When an external counter
// is supplied it is reconciled with the file's own tail so that sequence
// numbers stay monotonic across rotated files sharing a seqnum ID.
func (j *JournalFile) entrySeqnum(seqnum *uint64) uint64 {
	r := j.header.TailEntrySeqnum() + 1

	if seqnum != nil {
		if *seqnum+1 > r {
			r = *seqnum + 1
		}
		*seqnum = r
	}

	j.header.SetTailEntrySeqnum(r)
	if j.header.HeadEntrySeqnum() == 0 {
		j.header.SetHeadEntrySeqnum(r)
	}
	return r
}

// AppendEntry appends one entry referencing the given payloads. Payloads are
// interned, so byte-identical ones are shared with earlier entries. ts may be
// nil to stamp the current clocks. seqnum, when non-nil, is an external
// sequence counter updated to the assigned value.
//
// Returns the assigned sequence number and the entry object's offset.
func (j *JournalFile) AppendEntry(ts *Timestamp, seqnum *uint64, payloads ...[]byte) (uint64, uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.writable {
		return 0, 0, ErrReadOnly
	}
	if len(payloads) == 0 {
		return 0, 0, fmt.Errorf("append entry: no payloads")
	}

	var stamp Timestamp
	if ts != nil {
		stamp = *ts
	} else {
		stamp = Now()
	}

	if j.tailMonotonicValid && stamp.Monotonic < j.header.TailEntryMonotonic() {
		return 0, 0, fmt.Errorf("%w: monotonic %d precedes tail %d",
			ErrClockRegression, stamp.Monotonic, j.header.TailEntryMonotonic())
	}

	if j.sealer != nil {
		if err := j.maybeAppendTag(stamp.Realtime); err != nil {
			return 0, 0, err
		}
	}

	items := make([]entryItem, 0, len(payloads))
	for _, payload := range payloads {
		p, hash, err := j.appendData(payload)
		if err != nil {
			return 0, 0, fmt.Errorf("append data: %w", err)
		}
		items = append(items, entryItem{offset: p, hash: hash})
	}

	sn, off, err := j.appendEntryInternal(stamp, j.header.BootID(), seqnum, items)
	if err != nil {
		j.collector.RecordAppend(len(payloads), err)
		return 0, 0, err
	}

	j.postChange()
	j.collector.RecordAppend(len(payloads), nil)
	return sn, off, nil
}

type entryItem struct {
	offset uint64
	hash   uint64
}

// appendEntryInternal writes the entry object and links it into all indices.
// Items are sorted by object offset and deduplicated first, which keeps the
// per-entry item list canonical. The entry's XOR hash covers exactly the items
// that are stored, so a duplicated payload contributes its hash once.
func (j *JournalFile) appendEntryInternal(ts Timestamp, bootID id128.ID, seqnum *uint64, items []entryItem) (uint64, uint64, error) {
	sort.Slice(items, func(a, b int) bool { return items[a].offset < items[b].offset })
	w := 0
	for i := range items {
		if w > 0 && items[w-1].offset == items[i].offset {
			continue
		}
		items[w] = items[i]
		w++
	}
	items = items[:w]

	var xorHash uint64
	for _, it := range items {
		xorHash ^= it.hash
	}

	osize := uint64(format.EntryItemsOffset + len(items)*format.EntryItemSize)
	o, p, err := j.appendObject(format.ObjectEntry, osize)
	if err != nil {
		return 0, 0, err
	}

	sn := j.entrySeqnum(seqnum)

	e := o.Entry()
	e.SetSeqnum(sn)
	e.SetRealtime(ts.Realtime)
	e.SetMonotonic(ts.Monotonic)
	e.SetBootID(bootID)
	e.SetXORHash(xorHash)
	for i, it := range items {
		e.SetItem(uint64(i), it.offset, it.hash)
	}

	if err := j.linkEntry(p, items); err != nil {
		return 0, 0, fmt.Errorf("link entry: %w", err)
	}

	return sn, p, nil
}

// linkEntry threads the entry at offset into the global index and into the
// per-payload index of every item, then advances the header clock tail.
func (j *JournalFile) linkEntry(offset uint64, items []entryItem) error {
	// Global index.
	err := j.linkEntryIntoArray(
		fieldRef{get: j.header.EntryArrayOffset, set: j.header.SetEntryArrayOffset},
		fieldRef{get: j.header.NEntries, set: j.header.SetNEntries},
		offset,
	)
	if err != nil {
		return err
	}

	for _, it := range items {
		if err := j.linkEntryItem(offset, it.offset); err != nil {
			return err
		}
	}

	o, err := j.moveToObject(format.ObjectEntry, offset)
	if err != nil {
		return err
	}
	e := o.Entry()

	if j.header.HeadEntryRealtime() == 0 {
		j.header.SetHeadEntryRealtime(e.Realtime())
	}
	j.header.SetTailEntryRealtime(e.Realtime())
	j.header.SetTailEntryMonotonic(e.Monotonic())
	// Monotonic ordering is only enforceable against entries of the
	// current boot.
	j.tailMonotonicValid = e.BootID() == j.header.BootID()

	return nil
}

// linkEntryItem chains the entry into the data object's own index.
func (j *JournalFile) linkEntryItem(entryOffset, dataOffset uint64) error {
	dataField := func(get func(format.DataObject) uint64, set func(format.DataObject, uint64)) fieldRef {
		return fieldRef{
			get: func() uint64 {
				o, err := j.moveToObject(format.ObjectData, dataOffset)
				if err != nil {
					return 0
				}
				return get(o.Data())
			},
			set: func(v uint64) {
				o, err := j.moveToObject(format.ObjectData, dataOffset)
				if err != nil {
					return
				}
				set(o.Data(), v)
			},
		}
	}

	return j.linkEntryIntoArrayPlusOne(
		dataField(format.DataObject.EntryOffset, format.DataObject.SetEntryOffset),
		dataField(format.DataObject.EntryArrayOffset, format.DataObject.SetEntryArrayOffset),
		dataField(format.DataObject.NEntries, format.DataObject.SetNEntries),
		entryOffset,
	)
}

// fieldRef is an updatable reference to a persistent 64-bit field. Getters
// and setters re-resolve the owning object on every call since appending an
// array may have remapped the window it lives in.
type fieldRef struct {
	get func() uint64
	set func(uint64)
}

// linkEntryIntoArray appends p as item number idx.get() of the chained array
// rooted at first, growing the chain with a doubled-capacity array when the
// tail is full, and then advances the counter.
func (j *JournalFile) linkEntryIntoArray(first, idx fieldRef, p uint64) error {
	hidx := idx.get()
	i := hidx

	var n, ap uint64
	a := first.get()
	for a > 0 {
		o, err := j.moveToObject(format.ObjectEntryArray, a)
		if err != nil {
			return err
		}
		ea := o.EntryArray()
		n = ea.NItems()
		if i < n {
			ea.SetItem(i, p)
			idx.set(hidx + 1)
			return nil
		}
		i -= n
		ap = a
		a = ea.NextOffset()
	}

	// All arrays full. Grow the chain by a doubled array; capacity is kept
	// proportional to the items already indexed.
	if hidx > n {
		n = (hidx + 1) * 2
	} else {
		n *= 2
	}
	if n < 4 {
		n = 4
	}

	osize := uint64(format.EntryArrayItemsOffset) + n*8
	o, q, err := j.appendObject(format.ObjectEntryArray, osize)
	if err != nil {
		return err
	}
	o.EntryArray().SetItem(i, p)

	if ap == 0 {
		first.set(q)
	} else {
		prev, err := j.moveToObject(format.ObjectEntryArray, ap)
		if err != nil {
			return err
		}
		prev.EntryArray().SetNextOffset(q)
	}

	j.header.SetNEntryArrays(j.header.NEntryArrays() + 1)
	idx.set(hidx + 1)
	return nil
}

// linkEntryIntoArrayPlusOne is linkEntryIntoArray with the first item stored
// inline in extra rather than in the chained arrays.
func (j *JournalFile) linkEntryIntoArrayPlusOne(extra, first, idx fieldRef, p uint64) error {
	n := idx.get()

	if n == 0 {
		extra.set(p)
	} else {
		shifted := n - 1
		ref := fieldRef{
			get: func() uint64 { return shifted },
			set: func(v uint64) { shifted = v },
		}
		if err := j.linkEntryIntoArray(first, ref, p); err != nil {
			return err
		}
	}

	idx.set(n + 1)
	return nil
}

// ReadEntry returns the metadata and payloads of the entry at offset.
// Payloads are decompressed and hash-verified copies.
func (j *JournalFile) ReadEntry(offset uint64) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readEntry(offset)
}

func (j *JournalFile) readEntry(offset uint64) (*Entry, error) {
	o, err := j.moveToObject(format.ObjectEntry, offset)
	if err != nil {
		return nil, err
	}
	e := o.Entry()

	ent := &Entry{
		Offset:    offset,
		Seqnum:    e.Seqnum(),
		Realtime:  e.Realtime(),
		Monotonic: e.Monotonic(),
		BootID:    e.BootID(),
	}

	n := e.NItems()
	offsets := make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		offsets[i] = e.ItemObjectOffset(i)
	}

	ent.Payloads = make([][]byte, 0, n)
	var xorHash uint64
	for _, dp := range offsets {
		payload, err := j.dataPayload(dp)
		if err != nil {
			return nil, err
		}
		xorHash ^= hash64(payload)
		ent.Payloads = append(ent.Payloads, payload)
	}

	// Re-resolve, reading payloads may have recycled the window.
	o, err = j.moveToObject(format.ObjectEntry, offset)
	if err != nil {
		return nil, err
	}
	if xorHash != o.Entry().XORHash() {
		return nil, fmt.Errorf("%w: entry at %#x fails XOR hash check", ErrBadMessage, offset)
	}

	return ent, nil
}

// Entry is a fully resolved log entry.
type Entry struct {
	Offset    uint64
	Seqnum    uint64
	Realtime  uint64
	Monotonic uint64
	BootID    id128.ID
	Payloads  [][]byte
}
