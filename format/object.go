package format

import "github.com/hupe1980/journalfile/id128"

// ObjectHeaderSize is the size of the common header every object starts with:
// {type u8, flags u8, reserved[6], size le64}.
const ObjectHeaderSize = 16

// Per-type payload offsets, relative to the start of the object.
const (
	// DATA: hash, next_hash_offset, next_field_offset, entry_offset,
	// entry_array_offset, n_entries, payload...
	dataHash             = 16
	dataNextHashOffset   = 24
	dataNextFieldOffset  = 32
	dataEntryOffset      = 40
	dataEntryArrayOffset = 48
	dataNEntries         = 56

	// DataPayloadOffset is where a data object's payload bytes begin.
	DataPayloadOffset = 64

	// FIELD: hash, next_hash_offset, head_data_offset, payload...
	fieldHash           = 16
	fieldNextHashOffset = 24
	fieldHeadDataOffset = 32

	// FieldPayloadOffset is where a field object's name bytes begin.
	FieldPayloadOffset = 40

	// ENTRY: seqnum, realtime, monotonic, boot_id, xor_hash, items...
	entrySeqnum    = 16
	entryRealtime  = 24
	entryMonotonic = 32
	entryBootID    = 40
	entryXORHash   = 56

	// EntryItemsOffset is where an entry object's item array begins.
	EntryItemsOffset = 64

	// EntryItemSize is the size of one {object_offset, hash} item.
	EntryItemSize = 16

	// ENTRY_ARRAY: next_entry_array_offset, items...
	entryArrayNext = 16

	// EntryArrayItemsOffset is where an entry array's offset slots begin.
	EntryArrayItemsOffset = 24

	// HASH_TABLE: items...
	// HashTableItemsOffset is where a hash table's bucket array begins.
	HashTableItemsOffset = 16

	// HashItemSize is the size of one {head_hash_offset, tail_hash_offset}
	// bucket.
	HashItemSize = 16

	// TAG: seqnum, epoch, tag...
	tagSeqnum = 16
	tagEpoch  = 24

	// TagOffset is where a tag object's authentication bytes begin.
	TagOffset = 32

	// TagSize is the size of the authentication tag itself.
	TagSize = 32

	// TagObjectSize is the full size of a tag object.
	TagObjectSize = TagOffset + TagSize
)

// MinimumObjectSize returns the smallest valid on-disk size for an object of
// the given type. Unknown types only need the common header.
func MinimumObjectSize(t ObjectType) uint64 {
	switch t {
	case ObjectData:
		return DataPayloadOffset
	case ObjectField:
		return FieldPayloadOffset
	case ObjectEntry:
		return EntryItemsOffset
	case ObjectDataHashTable, ObjectFieldHashTable:
		return HashTableItemsOffset
	case ObjectEntryArray:
		return EntryArrayItemsOffset
	case ObjectTag:
		return TagObjectSize
	default:
		return ObjectHeaderSize
	}
}

// Object is a view over one object in the arena, starting at its common
// header. The slice covers at least the common header; for fully resolved
// objects it covers the whole declared size.
type Object []byte

func (o Object) Type() ObjectType  { return ObjectType(o[0]) }
func (o Object) SetType(t ObjectType) { o[0] = uint8(t) }
func (o Object) Flags() uint8      { return o[1] }
func (o Object) SetFlags(f uint8)  { o[1] = f }
func (o Object) Size() uint64      { return getU64(o, 8) }
func (o Object) SetSize(v uint64)  { putU64(o, 8, v) }

// Compressed reports whether the object's payload is stored compressed.
func (o Object) Compressed() bool { return o.Flags()&ObjectCompressedMask != 0 }

// Data reinterprets the object as a data object.
func (o Object) Data() DataObject { return DataObject(o) }

// Field reinterprets the object as a field object.
func (o Object) Field() FieldObject { return FieldObject(o) }

// Entry reinterprets the object as an entry object.
func (o Object) Entry() EntryObject { return EntryObject(o) }

// EntryArray reinterprets the object as an entry array object.
func (o Object) EntryArray() EntryArrayObject { return EntryArrayObject(o) }

// Tag reinterprets the object as a tag object.
func (o Object) Tag() TagObject { return TagObject(o) }

// DataObject is a deduplicated payload blob. It is simultaneously a node of
// its hash bucket's chain and the root of its own per-payload entry index.
type DataObject []byte

func (o DataObject) Hash() uint64        { return getU64(o, dataHash) }
func (o DataObject) SetHash(v uint64)    { putU64(o, dataHash, v) }
func (o DataObject) NextHashOffset() uint64 { return getU64(o, dataNextHashOffset) }
func (o DataObject) SetNextHashOffset(v uint64) {
	putU64(o, dataNextHashOffset, v)
}
func (o DataObject) NextFieldOffset() uint64 { return getU64(o, dataNextFieldOffset) }
func (o DataObject) SetNextFieldOffset(v uint64) {
	putU64(o, dataNextFieldOffset, v)
}
func (o DataObject) EntryOffset() uint64     { return getU64(o, dataEntryOffset) }
func (o DataObject) SetEntryOffset(v uint64) { putU64(o, dataEntryOffset, v) }
func (o DataObject) EntryArrayOffset() uint64 {
	return getU64(o, dataEntryArrayOffset)
}
func (o DataObject) SetEntryArrayOffset(v uint64) {
	putU64(o, dataEntryArrayOffset, v)
}
func (o DataObject) NEntries() uint64     { return getU64(o, dataNEntries) }
func (o DataObject) SetNEntries(v uint64) { putU64(o, dataNEntries, v) }

// Payload returns the stored (possibly compressed) payload bytes.
func (o DataObject) Payload() []byte {
	return o[DataPayloadOffset:Object(o).Size()]
}

// FieldObject is a deduplicated bare field name.
type FieldObject []byte

func (o FieldObject) Hash() uint64     { return getU64(o, fieldHash) }
func (o FieldObject) SetHash(v uint64) { putU64(o, fieldHash, v) }
func (o FieldObject) NextHashOffset() uint64 {
	return getU64(o, fieldNextHashOffset)
}
func (o FieldObject) SetNextHashOffset(v uint64) {
	putU64(o, fieldNextHashOffset, v)
}
func (o FieldObject) HeadDataOffset() uint64 {
	return getU64(o, fieldHeadDataOffset)
}
func (o FieldObject) SetHeadDataOffset(v uint64) {
	putU64(o, fieldHeadDataOffset, v)
}

// Payload returns the field name bytes.
func (o FieldObject) Payload() []byte {
	return o[FieldPayloadOffset:Object(o).Size()]
}

// EntryObject is one log record.
type EntryObject []byte

func (o EntryObject) Seqnum() uint64        { return getU64(o, entrySeqnum) }
func (o EntryObject) SetSeqnum(v uint64)    { putU64(o, entrySeqnum, v) }
func (o EntryObject) Realtime() uint64      { return getU64(o, entryRealtime) }
func (o EntryObject) SetRealtime(v uint64)  { putU64(o, entryRealtime, v) }
func (o EntryObject) Monotonic() uint64     { return getU64(o, entryMonotonic) }
func (o EntryObject) SetMonotonic(v uint64) { putU64(o, entryMonotonic, v) }

func (o EntryObject) BootID() id128.ID {
	var id id128.ID
	copy(id[:], o[entryBootID:entryBootID+16])
	return id
}

func (o EntryObject) SetBootID(id id128.ID) {
	copy(o[entryBootID:entryBootID+16], id[:])
}

func (o EntryObject) XORHash() uint64     { return getU64(o, entryXORHash) }
func (o EntryObject) SetXORHash(v uint64) { putU64(o, entryXORHash, v) }

// NItems returns the number of {object_offset, hash} items in this entry.
func (o EntryObject) NItems() uint64 {
	return (Object(o).Size() - EntryItemsOffset) / EntryItemSize
}

func (o EntryObject) ItemObjectOffset(i uint64) uint64 {
	return getU64(o, EntryItemsOffset+int(i)*EntryItemSize)
}

func (o EntryObject) ItemHash(i uint64) uint64 {
	return getU64(o, EntryItemsOffset+int(i)*EntryItemSize+8)
}

func (o EntryObject) SetItem(i uint64, objectOffset, hash uint64) {
	putU64(o, EntryItemsOffset+int(i)*EntryItemSize, objectOffset)
	putU64(o, EntryItemsOffset+int(i)*EntryItemSize+8, hash)
}

// EntryArrayObject is one segment of a chained index array.
type EntryArrayObject []byte

func (o EntryArrayObject) NextOffset() uint64     { return getU64(o, entryArrayNext) }
func (o EntryArrayObject) SetNextOffset(v uint64) { putU64(o, entryArrayNext, v) }

// NItems returns the capacity of this segment in offset slots.
func (o EntryArrayObject) NItems() uint64 {
	return (Object(o).Size() - EntryArrayItemsOffset) / 8
}

func (o EntryArrayObject) Item(i uint64) uint64 {
	return getU64(o, EntryArrayItemsOffset+int(i)*8)
}

func (o EntryArrayObject) SetItem(i uint64, v uint64) {
	putU64(o, EntryArrayItemsOffset+int(i)*8, v)
}

// HashTable is a view over the bucket array of a hash table object. The view
// starts at the items, not at the object header, and stays mapped for the
// lifetime of an open journal file.
type HashTable []byte

// NBuckets returns the number of buckets in the table.
func (t HashTable) NBuckets() uint64 { return uint64(len(t)) / HashItemSize }

func (t HashTable) Head(bucket uint64) uint64 {
	return getU64(t, int(bucket)*HashItemSize)
}

func (t HashTable) SetHead(bucket uint64, v uint64) {
	putU64(t, int(bucket)*HashItemSize, v)
}

func (t HashTable) Tail(bucket uint64) uint64 {
	return getU64(t, int(bucket)*HashItemSize+8)
}

func (t HashTable) SetTail(bucket uint64, v uint64) {
	putU64(t, int(bucket)*HashItemSize+8, v)
}

// TagObject is a periodic authentication checkpoint written by an external
// sealer. This package only understands its layout.
type TagObject []byte

func (o TagObject) Seqnum() uint64     { return getU64(o, tagSeqnum) }
func (o TagObject) SetSeqnum(v uint64) { putU64(o, tagSeqnum, v) }
func (o TagObject) Epoch() uint64      { return getU64(o, tagEpoch) }
func (o TagObject) SetEpoch(v uint64)  { putU64(o, tagEpoch, v) }

// Tag returns the authentication tag bytes.
func (o TagObject) Tag() []byte { return o[TagOffset : TagOffset+TagSize] }

func (o TagObject) SetTag(tag []byte) {
	copy(o[TagOffset:TagOffset+TagSize], tag)
}
