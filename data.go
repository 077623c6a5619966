package journalfile

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/hupe1980/journalfile/compress"
	"github.com/hupe1980/journalfile/format"
)

func hash64(data []byte) uint64 { return xxhash.Sum64(data) }

// codecForObject returns the decoder for a stored payload's compression
// flags, or nil for uncompressed payloads.
func codecForObject(o format.Object) (compress.Codec, error) {
	switch o.Flags() & format.ObjectCompressedMask {
	case 0:
		return nil, nil
	case format.ObjectCompressedZstd:
		return compress.ForAlgorithm(compress.Zstd)
	case format.ObjectCompressedLZ4:
		return compress.ForAlgorithm(compress.LZ4)
	default:
		return nil, fmt.Errorf("%w: object compression flags %#x", ErrUnsupported, o.Flags())
	}
}

// findDataObjectWithHash probes the data hash table for a byte-identical
// payload. Candidates on the bucket chain are compared in full, decompressing
// first when stored compressed.
func (j *JournalFile) findDataObjectWithHash(data []byte, hash uint64) (uint64, bool, error) {
	if j.header.DataHashTableSize() == 0 {
		return 0, false, fmt.Errorf("%w: no data hash table", ErrBadMessage)
	}

	bucket := hash % j.dataHashTable.NBuckets()
	p := j.dataHashTable.Head(bucket)

	for p > 0 {
		o, err := j.moveToObject(format.ObjectData, p)
		if err != nil {
			return 0, false, err
		}
		d := o.Data()

		if d.Hash() != hash {
			p = d.NextHashOffset()
			continue
		}

		if o.Compressed() {
			codec, err := codecForObject(o)
			if err != nil {
				return 0, false, err
			}
			raw, err := codec.Decompress(d.Payload())
			if err != nil {
				return 0, false, fmt.Errorf("%w: data object at %#x: %v", ErrBadMessage, p, err)
			}
			if bytes.Equal(raw, data) {
				return p, true, nil
			}
		} else if bytes.Equal(d.Payload(), data) {
			return p, true, nil
		}

		p = d.NextHashOffset()
	}

	return 0, false, nil
}

// FindDataObject returns the offset of the data object holding exactly data,
// or ErrNotFound.
func (j *JournalFile) FindDataObject(data []byte) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	p, found, err := j.findDataObjectWithHash(data, hash64(data))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrNotFound
	}
	return p, nil
}

// appendData interns a payload: returns the existing byte-identical data
// object or appends and links a new one. The returned hash is the hash of the
// uncompressed payload.
func (j *JournalFile) appendData(data []byte) (offset uint64, hash uint64, err error) {
	hash = hash64(data)

	p, found, err := j.findDataObjectWithHash(data, hash)
	if err != nil {
		return 0, 0, err
	}
	if found {
		j.collector.RecordDedup(len(data))
		return p, hash, nil
	}

	osize := uint64(format.DataPayloadOffset + len(data))
	o, p, err := j.appendObject(format.ObjectData, osize)
	if err != nil {
		return 0, 0, err
	}
	d := o.Data()
	d.SetHash(hash)

	stored := false
	if j.codec != nil && len(data) >= compress.SizeThreshold {
		if out, ok := j.codec.Compress(data); ok {
			o.SetSize(uint64(format.DataPayloadOffset + len(out)))
			switch j.algorithm {
			case compress.Zstd:
				o.SetFlags(o.Flags() | format.ObjectCompressedZstd)
			case compress.LZ4:
				o.SetFlags(o.Flags() | format.ObjectCompressedLZ4)
			}
			copy(o[format.DataPayloadOffset:], out)
			stored = true
			j.collector.RecordCompression(len(data), len(out))
			j.logger.Debug("compressed data object", "raw", len(data), "stored", len(out))
		}
	}
	if !stored && len(data) > 0 {
		copy(o[format.DataPayloadOffset:], data)
	}

	if err := j.linkData(p, hash); err != nil {
		return 0, 0, err
	}

	if err := j.linkDataToField(p, data); err != nil {
		return 0, 0, err
	}

	return p, hash, nil
}

// linkData appends the data object at offset to the tail of its hash bucket's
// chain and resets its index roots.
func (j *JournalFile) linkData(offset, hash uint64) error {
	o, err := j.moveToObject(format.ObjectData, offset)
	if err != nil {
		return err
	}
	d := o.Data()
	d.SetNextHashOffset(0)
	d.SetNextFieldOffset(0)
	d.SetEntryOffset(0)
	d.SetEntryArrayOffset(0)
	d.SetNEntries(0)

	bucket := hash % j.dataHashTable.NBuckets()
	tail := j.dataHashTable.Tail(bucket)
	if tail == 0 {
		// Only entry in the bucket.
		j.dataHashTable.SetHead(bucket, offset)
	} else {
		// Patch the pointer into the previous chain tail. This may
		// remap, so the fresh object is re-resolved above on reuse.
		prev, err := j.moveToObject(format.ObjectData, tail)
		if err != nil {
			return err
		}
		prev.Data().SetNextHashOffset(offset)
	}
	j.dataHashTable.SetTail(bucket, offset)

	j.header.SetNData(j.header.NData() + 1)
	return nil
}

// fieldName extracts the field name of a FIELD=value payload. Payloads
// without a separator have no field and are not threaded into the field
// index.
func fieldName(payload []byte) []byte {
	if i := bytes.IndexByte(payload, '='); i > 0 {
		return payload[:i]
	}
	return nil
}

// linkDataToField interns the payload's field name and pushes the data object
// onto that field's chain of distinct values.
func (j *JournalFile) linkDataToField(dataOffset uint64, payload []byte) error {
	name := fieldName(payload)
	if name == nil {
		return nil
	}

	fp, err := j.appendField(name)
	if err != nil {
		return err
	}

	fo, err := j.moveToObject(format.ObjectField, fp)
	if err != nil {
		return err
	}
	head := fo.Field().HeadDataOffset()

	do, err := j.moveToObject(format.ObjectData, dataOffset)
	if err != nil {
		return err
	}
	do.Data().SetNextFieldOffset(head)

	fo, err = j.moveToObject(format.ObjectField, fp)
	if err != nil {
		return err
	}
	fo.Field().SetHeadDataOffset(dataOffset)

	return nil
}

// findFieldObjectWithHash probes the field hash table for a field name.
func (j *JournalFile) findFieldObjectWithHash(name []byte, hash uint64) (uint64, bool, error) {
	if j.header.FieldHashTableSize() == 0 {
		return 0, false, fmt.Errorf("%w: no field hash table", ErrBadMessage)
	}

	bucket := hash % j.fieldHashTable.NBuckets()
	p := j.fieldHashTable.Head(bucket)

	for p > 0 {
		o, err := j.moveToObject(format.ObjectField, p)
		if err != nil {
			return 0, false, err
		}
		f := o.Field()

		if f.Hash() == hash && bytes.Equal(f.Payload(), name) {
			return p, true, nil
		}
		p = f.NextHashOffset()
	}

	return 0, false, nil
}

// FindFieldObject returns the offset of the field object for name, or
// ErrNotFound.
func (j *JournalFile) FindFieldObject(name []byte) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	p, found, err := j.findFieldObjectWithHash(name, hash64(name))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrNotFound
	}
	return p, nil
}

// appendField interns a bare field name. Field names are never compressed.
func (j *JournalFile) appendField(name []byte) (uint64, error) {
	hash := hash64(name)

	p, found, err := j.findFieldObjectWithHash(name, hash)
	if err != nil {
		return 0, err
	}
	if found {
		return p, nil
	}

	osize := uint64(format.FieldPayloadOffset + len(name))
	o, p, err := j.appendObject(format.ObjectField, osize)
	if err != nil {
		return 0, err
	}
	f := o.Field()
	f.SetHash(hash)
	copy(o[format.FieldPayloadOffset:], name)

	// Link into the field hash table, tail insert like data objects.
	bucket := hash % j.fieldHashTable.NBuckets()
	tail := j.fieldHashTable.Tail(bucket)
	if tail == 0 {
		j.fieldHashTable.SetHead(bucket, p)
	} else {
		prev, err := j.moveToObject(format.ObjectField, tail)
		if err != nil {
			return 0, err
		}
		prev.Field().SetNextHashOffset(p)
	}
	j.fieldHashTable.SetTail(bucket, p)

	j.header.SetNFields(j.header.NFields() + 1)
	return p, nil
}

// DataPayload returns the decompressed payload of the data object at offset,
// after verifying the stored hash. The returned slice is a copy.
func (j *JournalFile) DataPayload(offset uint64) ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dataPayload(offset)
}

func (j *JournalFile) dataPayload(offset uint64) ([]byte, error) {
	o, err := j.moveToObject(format.ObjectData, offset)
	if err != nil {
		return nil, err
	}
	d := o.Data()

	var raw []byte
	if o.Compressed() {
		codec, err := codecForObject(o)
		if err != nil {
			return nil, err
		}
		raw, err = codec.Decompress(d.Payload())
		if err != nil {
			return nil, fmt.Errorf("%w: data object at %#x: %v", ErrBadMessage, offset, err)
		}
	} else {
		raw = bytes.Clone(d.Payload())
	}

	if hash64(raw) != d.Hash() {
		return nil, fmt.Errorf("%w: data object at %#x fails hash check", ErrBadMessage, offset)
	}
	return raw, nil
}
