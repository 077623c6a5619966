// Package format defines the on-disk binary layout of journal files.
//
// A journal file is a fixed header followed by an arena of self-describing,
// 64-bit aligned objects. All multi-byte fields are little-endian. The types
// in this package are views over raw bytes (typically a memory-mapped window);
// they never copy and never own the underlying storage.
package format

import "encoding/binary"

// Signature identifies a journal file. It occupies the first 8 bytes.
var Signature = [8]byte{'J', 'R', 'N', 'L', 'G', 'O', 'F', '1'}

// State describes the lifecycle state of a journal file.
type State uint8

const (
	// StateOffline marks a file that was closed cleanly.
	StateOffline State = 0
	// StateOnline marks a file that is open for writing.
	StateOnline State = 1
	// StateArchived marks a rotated file. Archived files are read-only.
	StateArchived State = 2

	stateMax = 3
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "OFFLINE"
	case StateOnline:
		return "ONLINE"
	case StateArchived:
		return "ARCHIVED"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	return s < stateMax
}

// Header flags. Incompatible flags must be understood by every reader;
// compatible flags only by writers.
const (
	// IncompatibleCompressedZstd indicates zstd-compressed data objects.
	IncompatibleCompressedZstd uint32 = 1 << 0
	// IncompatibleCompressedLZ4 indicates lz4-compressed data objects.
	IncompatibleCompressedLZ4 uint32 = 1 << 1

	// IncompatibleAny is the mask of all known incompatible flags.
	IncompatibleAny = IncompatibleCompressedZstd | IncompatibleCompressedLZ4

	// CompatibleSealed indicates the file carries authentication tags.
	CompatibleSealed uint32 = 1 << 0

	// CompatibleAny is the mask of all known compatible flags.
	CompatibleAny = CompatibleSealed
)

// ObjectType identifies the kind of an object in the arena.
type ObjectType uint8

const (
	// ObjectUnused marks space that carries no object. Never valid on disk.
	ObjectUnused ObjectType = iota
	// ObjectData is a deduplicated FIELD=value payload.
	ObjectData
	// ObjectField is a deduplicated bare field name.
	ObjectField
	// ObjectEntry is one log record.
	ObjectEntry
	// ObjectDataHashTable is the bucket array for data objects.
	ObjectDataHashTable
	// ObjectFieldHashTable is the bucket array for field objects.
	ObjectFieldHashTable
	// ObjectEntryArray is a fixed-capacity chainable array of offsets.
	ObjectEntryArray
	// ObjectTag is a periodic authentication checkpoint.
	ObjectTag

	objectTypeMax
)

func (t ObjectType) String() string {
	switch t {
	case ObjectData:
		return "DATA"
	case ObjectField:
		return "FIELD"
	case ObjectEntry:
		return "ENTRY"
	case ObjectDataHashTable:
		return "DATA_HASH_TABLE"
	case ObjectFieldHashTable:
		return "FIELD_HASH_TABLE"
	case ObjectEntryArray:
		return "ENTRY_ARRAY"
	case ObjectTag:
		return "TAG"
	default:
		return "UNUSED"
	}
}

// Object flags. The compression bits mirror the header's incompatible flags.
const (
	// ObjectCompressedZstd marks a data payload stored zstd-compressed.
	ObjectCompressedZstd uint8 = 1 << 0
	// ObjectCompressedLZ4 marks a data payload stored lz4-compressed.
	ObjectCompressedLZ4 uint8 = 1 << 1

	// ObjectCompressedMask selects the compression bits of object flags.
	ObjectCompressedMask = ObjectCompressedZstd | ObjectCompressedLZ4
)

// Align64 rounds n up to the next multiple of 8.
func Align64(n uint64) uint64 {
	return (n + 7) &^ 7
}

// Valid64 reports whether offset is usable as an object offset: nonzero and
// 64-bit aligned.
func Valid64(offset uint64) bool {
	return offset != 0 && offset&7 == 0
}

func getU32(b []byte, off int) uint32  { return binary.LittleEndian.Uint32(b[off : off+4]) }
func putU32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}
func getU64(b []byte, off int) uint64 { return binary.LittleEndian.Uint64(b[off : off+8]) }
func putU64(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:off+8], v)
}
