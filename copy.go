package journalfile

import (
	"fmt"
)

// CopyEntry reads the entry at offset and appends it to dst, preserving its
// timestamps and boot ID. Payloads are re-interned in dst, so they dedup
// against dst's own data table. A new sequence number is assigned from dst's
// space; seqnum, when non-nil, is the external counter for it.
//
// Returns the assigned sequence number and the new entry's offset in dst.
func (j *JournalFile) CopyEntry(dst *JournalFile, offset uint64, seqnum *uint64) (uint64, uint64, error) {
	if dst == j {
		return 0, 0, fmt.Errorf("copy entry: source and destination are the same file")
	}

	ent, err := j.ReadEntry(offset)
	if err != nil {
		return 0, 0, fmt.Errorf("copy entry at %#x: %w", offset, err)
	}

	dst.mu.Lock()
	defer dst.mu.Unlock()

	if !dst.writable {
		return 0, 0, ErrReadOnly
	}

	if dst.sealer != nil {
		if err := dst.maybeAppendTag(ent.Realtime); err != nil {
			return 0, 0, err
		}
	}

	items := make([]entryItem, 0, len(ent.Payloads))
	for _, payload := range ent.Payloads {
		p, hash, err := dst.appendData(payload)
		if err != nil {
			return 0, 0, fmt.Errorf("copy entry at %#x: append data: %w", offset, err)
		}
		items = append(items, entryItem{offset: p, hash: hash})
	}

	ts := Timestamp{Realtime: ent.Realtime, Monotonic: ent.Monotonic}
	sn, off, err := dst.appendEntryInternal(ts, ent.BootID, seqnum, items)
	if err != nil {
		dst.collector.RecordAppend(len(ent.Payloads), err)
		return 0, 0, err
	}

	dst.postChange()
	dst.collector.RecordAppend(len(ent.Payloads), nil)
	return sn, off, nil
}
