package journalfile

import (
	"fmt"
	"io"

	"github.com/hupe1980/journalfile/format"
)

// PrintHeader writes a human readable rendition of the header to w.
func (j *JournalFile) PrintHeader(w io.Writer) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	h := j.header

	var fill float64
	if s := h.DataHashTableSize(); s > 0 && h.HasCounts() {
		fill = 100 * float64(h.NData()) / float64(s/format.HashItemSize)
	}

	_, err := fmt.Fprintf(w,
		"File path: %s\n"+
			"File ID: %s\n"+
			"Machine ID: %s\n"+
			"Boot ID: %s\n"+
			"Sequential number ID: %s\n"+
			"State: %s\n"+
			"Compatible flags: %#x\n"+
			"Incompatible flags: %#x\n"+
			"Header size: %d\n"+
			"Arena size: %d\n"+
			"Data hash table size: %d\n"+
			"Field hash table size: %d\n"+
			"Head sequential number: %d\n"+
			"Tail sequential number: %d\n"+
			"Head realtime timestamp: %d\n"+
			"Tail realtime timestamp: %d\n"+
			"Tail monotonic timestamp: %d\n"+
			"Objects: %d\n"+
			"Entry objects: %d\n"+
			"Data objects: %d\n"+
			"Data hash table fill: %.1f%%\n"+
			"Field objects: %d\n"+
			"Tag objects: %d\n"+
			"Entry array objects: %d\n",
		j.path,
		h.FileID(), h.MachineID(), h.BootID(), h.SeqnumID(),
		h.State(),
		h.CompatibleFlags(), h.IncompatibleFlags(),
		h.HeaderSize(), h.ArenaSize(),
		h.DataHashTableSize(), h.FieldHashTableSize(),
		h.HeadEntrySeqnum(), h.TailEntrySeqnum(),
		h.HeadEntryRealtime(), h.TailEntryRealtime(), h.TailEntryMonotonic(),
		h.NObjects(), h.NEntries(),
		h.NData(), fill,
		h.NFields(), h.NTags(), h.NEntryArrays(),
	)
	return err
}

// Dump writes a line per object in arena order to w, with per-type detail.
// Intended for debugging damaged files, so it stops at the first object it
// cannot resolve and reports how far it got.
func (j *JournalFile) Dump(w io.Writer) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	p := firstObjectOffset(j.header)
	tail := j.header.TailObjectOffset()

	for p > 0 {
		o, err := j.moveToObject(format.ObjectUnused, p)
		if err != nil {
			fmt.Fprintf(w, "%#x: unreadable object: %v\n", p, err)
			return err
		}

		switch o.Type() {
		case format.ObjectData:
			d := o.Data()
			compressed := ""
			if o.Compressed() {
				compressed = " compressed"
			}
			fmt.Fprintf(w, "%#x: data size=%d hash=%#x n_entries=%d%s\n",
				p, o.Size(), d.Hash(), d.NEntries(), compressed)
		case format.ObjectField:
			f := o.Field()
			fmt.Fprintf(w, "%#x: field size=%d name=%q\n", p, o.Size(), f.Payload())
		case format.ObjectEntry:
			e := o.Entry()
			fmt.Fprintf(w, "%#x: entry size=%d seqnum=%d realtime=%d monotonic=%d items=%d\n",
				p, o.Size(), e.Seqnum(), e.Realtime(), e.Monotonic(), e.NItems())
		case format.ObjectEntryArray:
			ea := o.EntryArray()
			fmt.Fprintf(w, "%#x: entry array size=%d capacity=%d next=%#x\n",
				p, o.Size(), ea.NItems(), ea.NextOffset())
		case format.ObjectDataHashTable:
			fmt.Fprintf(w, "%#x: data hash table size=%d\n", p, o.Size())
		case format.ObjectFieldHashTable:
			fmt.Fprintf(w, "%#x: field hash table size=%d\n", p, o.Size())
		case format.ObjectTag:
			t := o.Tag()
			fmt.Fprintf(w, "%#x: tag size=%d seqnum=%d epoch=%d\n", p, o.Size(), t.Seqnum(), t.Epoch())
		default:
			fmt.Fprintf(w, "%#x: unknown object type %d size=%d\n", p, o.Type(), o.Size())
		}

		if p == tail {
			break
		}
		p += format.Align64(o.Size())
	}

	return nil
}

// Fields streams every interned field name to fn in hash table order,
// stopping early when fn returns false.
func (j *JournalFile) Fields(fn func(name []byte) bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.header.FieldHashTableSize() == 0 {
		return nil
	}

	for bucket := uint64(0); bucket < j.fieldHashTable.NBuckets(); bucket++ {
		p := j.fieldHashTable.Head(bucket)
		for p > 0 {
			o, err := j.moveToObject(format.ObjectField, p)
			if err != nil {
				return err
			}
			f := o.Field()
			if !fn(append([]byte(nil), f.Payload()...)) {
				return nil
			}
			p = f.NextHashOffset()
		}
	}
	return nil
}

// DataForField streams the distinct payloads of one field to fn, stopping
// early when fn returns false. Payloads arrive newest interned first.
func (j *JournalFile) DataForField(name []byte, fn func(payload []byte) bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	fp, found, err := j.findFieldObjectWithHash(name, hash64(name))
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	fo, err := j.moveToObject(format.ObjectField, fp)
	if err != nil {
		return err
	}
	p := fo.Field().HeadDataOffset()

	for p > 0 {
		payload, err := j.dataPayload(p)
		if err != nil {
			return err
		}
		if !fn(payload) {
			return nil
		}

		o, err := j.moveToObject(format.ObjectData, p)
		if err != nil {
			return err
		}
		p = o.Data().NextFieldOffset()
	}
	return nil
}
