package format

import "github.com/hupe1980/journalfile/id128"

// Header field offsets. New fields are only ever appended; older readers must
// keep working against files whose header stops at any of these boundaries.
const (
	hdrSignature           = 0
	hdrCompatibleFlags     = 8
	hdrIncompatibleFlags   = 12
	hdrState               = 16
	hdrFileID              = 24
	hdrMachineID           = 40
	hdrBootID              = 56
	hdrSeqnumID            = 72
	hdrHeaderSize          = 88
	hdrArenaSize           = 96
	hdrDataHashTableOff    = 104
	hdrDataHashTableSize   = 112
	hdrFieldHashTableOff   = 120
	hdrFieldHashTableSize  = 128
	hdrTailObjectOffset    = 136
	hdrNObjects            = 144
	hdrNEntries            = 152
	hdrTailEntrySeqnum     = 160
	hdrHeadEntrySeqnum     = 168
	hdrEntryArrayOffset    = 176
	hdrHeadEntryRealtime   = 184
	hdrTailEntryRealtime   = 192
	hdrTailEntryMonotonic  = 200
	hdrNData               = 208
	hdrNFields             = 216
	hdrNTags               = 224
	hdrNEntryArrays        = 232

	// HeaderSize is the size of a freshly written header.
	HeaderSize = 240

	// HeaderSizeMin is the smallest header this implementation can read.
	// n_data was the first field added after the initial format.
	HeaderSizeMin = hdrNData
)

// Header is a view over the fixed header at the start of a journal file.
// Mutations write through to the underlying (mapped) bytes.
type Header []byte

// Contains reports whether the on-disk header is large enough to carry the
// field at the given offset plus 8 bytes. Use the hdr* exported helpers below.
func (h Header) contains(fieldEnd uint64) bool {
	return h.HeaderSize() >= fieldEnd
}

// HasCounts reports whether the extended count fields (n_data and later
// additions) are present in this file's header.
func (h Header) HasCounts() bool { return h.contains(hdrNData + 8) }

// HasEntryArrayCount reports whether n_entry_arrays is present.
func (h Header) HasEntryArrayCount() bool { return h.contains(hdrNEntryArrays + 8) }

// HasFieldCount reports whether n_fields is present.
func (h Header) HasFieldCount() bool { return h.contains(hdrNFields + 8) }

// HasTagCount reports whether n_tags is present.
func (h Header) HasTagCount() bool { return h.contains(hdrNTags + 8) }

func (h Header) SignatureValid() bool {
	for i, c := range Signature {
		if h[hdrSignature+i] != c {
			return false
		}
	}
	return true
}

func (h Header) SetSignature() {
	copy(h[hdrSignature:hdrSignature+8], Signature[:])
}

func (h Header) CompatibleFlags() uint32      { return getU32(h, hdrCompatibleFlags) }
func (h Header) SetCompatibleFlags(v uint32)  { putU32(h, hdrCompatibleFlags, v) }
func (h Header) IncompatibleFlags() uint32    { return getU32(h, hdrIncompatibleFlags) }
func (h Header) SetIncompatibleFlags(v uint32) {
	putU32(h, hdrIncompatibleFlags, v)
}

func (h Header) State() State     { return State(h[hdrState]) }
func (h Header) SetState(s State) { h[hdrState] = uint8(s) }

func (h Header) id(off int) id128.ID {
	var id id128.ID
	copy(id[:], h[off:off+16])
	return id
}

func (h Header) setID(off int, id id128.ID) {
	copy(h[off:off+16], id[:])
}

func (h Header) FileID() id128.ID          { return h.id(hdrFileID) }
func (h Header) SetFileID(id id128.ID)     { h.setID(hdrFileID, id) }
func (h Header) MachineID() id128.ID       { return h.id(hdrMachineID) }
func (h Header) SetMachineID(id id128.ID)  { h.setID(hdrMachineID, id) }
func (h Header) BootID() id128.ID          { return h.id(hdrBootID) }
func (h Header) SetBootID(id id128.ID)     { h.setID(hdrBootID, id) }
func (h Header) SeqnumID() id128.ID        { return h.id(hdrSeqnumID) }
func (h Header) SetSeqnumID(id id128.ID)   { h.setID(hdrSeqnumID, id) }

func (h Header) HeaderSize() uint64     { return getU64(h, hdrHeaderSize) }
func (h Header) SetHeaderSize(v uint64) { putU64(h, hdrHeaderSize, v) }
func (h Header) ArenaSize() uint64      { return getU64(h, hdrArenaSize) }
func (h Header) SetArenaSize(v uint64)  { putU64(h, hdrArenaSize, v) }

func (h Header) DataHashTableOffset() uint64     { return getU64(h, hdrDataHashTableOff) }
func (h Header) SetDataHashTableOffset(v uint64) { putU64(h, hdrDataHashTableOff, v) }
func (h Header) DataHashTableSize() uint64       { return getU64(h, hdrDataHashTableSize) }
func (h Header) SetDataHashTableSize(v uint64)   { putU64(h, hdrDataHashTableSize, v) }

func (h Header) FieldHashTableOffset() uint64     { return getU64(h, hdrFieldHashTableOff) }
func (h Header) SetFieldHashTableOffset(v uint64) { putU64(h, hdrFieldHashTableOff, v) }
func (h Header) FieldHashTableSize() uint64       { return getU64(h, hdrFieldHashTableSize) }
func (h Header) SetFieldHashTableSize(v uint64)   { putU64(h, hdrFieldHashTableSize, v) }

func (h Header) TailObjectOffset() uint64     { return getU64(h, hdrTailObjectOffset) }
func (h Header) SetTailObjectOffset(v uint64) { putU64(h, hdrTailObjectOffset, v) }

func (h Header) NObjects() uint64     { return getU64(h, hdrNObjects) }
func (h Header) SetNObjects(v uint64) { putU64(h, hdrNObjects, v) }
func (h Header) NEntries() uint64     { return getU64(h, hdrNEntries) }
func (h Header) SetNEntries(v uint64) { putU64(h, hdrNEntries, v) }

func (h Header) TailEntrySeqnum() uint64     { return getU64(h, hdrTailEntrySeqnum) }
func (h Header) SetTailEntrySeqnum(v uint64) { putU64(h, hdrTailEntrySeqnum, v) }
func (h Header) HeadEntrySeqnum() uint64     { return getU64(h, hdrHeadEntrySeqnum) }
func (h Header) SetHeadEntrySeqnum(v uint64) { putU64(h, hdrHeadEntrySeqnum, v) }

func (h Header) EntryArrayOffset() uint64     { return getU64(h, hdrEntryArrayOffset) }
func (h Header) SetEntryArrayOffset(v uint64) { putU64(h, hdrEntryArrayOffset, v) }

func (h Header) HeadEntryRealtime() uint64     { return getU64(h, hdrHeadEntryRealtime) }
func (h Header) SetHeadEntryRealtime(v uint64) { putU64(h, hdrHeadEntryRealtime, v) }
func (h Header) TailEntryRealtime() uint64     { return getU64(h, hdrTailEntryRealtime) }
func (h Header) SetTailEntryRealtime(v uint64) { putU64(h, hdrTailEntryRealtime, v) }
func (h Header) TailEntryMonotonic() uint64    { return getU64(h, hdrTailEntryMonotonic) }
func (h Header) SetTailEntryMonotonic(v uint64) {
	putU64(h, hdrTailEntryMonotonic, v)
}

func (h Header) NData() uint64 {
	if !h.HasCounts() {
		return 0
	}
	return getU64(h, hdrNData)
}

func (h Header) SetNData(v uint64) {
	if h.HasCounts() {
		putU64(h, hdrNData, v)
	}
}

func (h Header) NFields() uint64 {
	if !h.HasFieldCount() {
		return 0
	}
	return getU64(h, hdrNFields)
}

func (h Header) SetNFields(v uint64) {
	if h.HasFieldCount() {
		putU64(h, hdrNFields, v)
	}
}

func (h Header) NTags() uint64 {
	if !h.HasTagCount() {
		return 0
	}
	return getU64(h, hdrNTags)
}

func (h Header) SetNTags(v uint64) {
	if h.HasTagCount() {
		putU64(h, hdrNTags, v)
	}
}

func (h Header) NEntryArrays() uint64 {
	if !h.HasEntryArrayCount() {
		return 0
	}
	return getU64(h, hdrNEntryArrays)
}

func (h Header) SetNEntryArrays(v uint64) {
	if h.HasEntryArrayCount() {
		putU64(h, hdrNEntryArrays, v)
	}
}
