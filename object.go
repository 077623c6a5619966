package journalfile

import (
	"errors"
	"fmt"

	"github.com/hupe1980/journalfile/format"
	"github.com/hupe1980/journalfile/internal/mmap"
	"golang.org/x/sys/unix"
)

// moveTo returns a mapped view of [offset, offset+size). When the range
// reaches beyond the last known file size the size is refreshed first, since
// the writer may have grown the file behind a reader's back; only then is the
// range rejected.
func (j *JournalFile) moveTo(offset, size uint64, keepAlways bool) ([]byte, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: empty object range", ErrBadMessage)
	}
	if offset+size < offset {
		return nil, fmt.Errorf("%w: object range at %#x overflows", ErrBadMessage, offset)
	}

	if offset+size > uint64(j.lastSize) {
		st, err := j.f.Stat()
		if err != nil {
			return nil, err
		}
		j.lastSize = st.Size()
		j.cache.SetFileSize(j.lastSize)
	}

	b, err := j.cache.Get(int64(offset), int64(size), keepAlways)
	if errors.Is(err, mmap.ErrOutOfBounds) {
		return nil, fmt.Errorf("%w: [%#x, %#x) beyond file of %d bytes",
			ErrOutOfRange, offset, offset+size, j.lastSize)
	}
	return b, err
}

// moveToObject resolves and validates the object at offset. With a concrete
// expected type a mismatch is a malformed-object error; pass
// format.ObjectUnused to accept any type.
func (j *JournalFile) moveToObject(expected format.ObjectType, offset uint64) (format.Object, error) {
	// Objects may only be located at multiples of 64 bit.
	if !format.Valid64(offset) {
		return nil, fmt.Errorf("%w: unaligned object offset %#x", ErrBadMessage, offset)
	}

	b, err := j.moveTo(offset, format.ObjectHeaderSize, false)
	if err != nil {
		return nil, err
	}
	o := format.Object(b)

	s := o.Size()
	if s < format.ObjectHeaderSize {
		return nil, fmt.Errorf("%w: object at %#x declares %d bytes", ErrBadMessage, offset, s)
	}
	if o.Type() == format.ObjectUnused {
		return nil, fmt.Errorf("%w: unused object at %#x", ErrBadMessage, offset)
	}
	if s < format.MinimumObjectSize(o.Type()) {
		return nil, fmt.Errorf("%w: %s object at %#x too small (%d bytes)",
			ErrBadMessage, o.Type(), offset, s)
	}
	if expected != format.ObjectUnused && o.Type() != expected {
		return nil, fmt.Errorf("%w: object at %#x is %s, expected %s",
			ErrBadMessage, offset, o.Type(), expected)
	}

	if s > format.ObjectHeaderSize {
		b, err = j.moveTo(offset, s, false)
		if err != nil {
			return nil, err
		}
		o = format.Object(b)
	}

	return o, nil
}

// allocate grows the arena to cover [offset, offset+size), enforcing the
// growth policy. The file is never shrunk.
func (j *JournalFile) allocate(offset, size uint64) error {
	oldSize := j.header.HeaderSize() + j.header.ArenaSize()

	newSize := pageAlign(offset + size)
	if newSize < j.header.HeaderSize() {
		newSize = j.header.HeaderSize()
	}

	if newSize <= oldSize {
		return nil
	}

	if j.metrics.MaxSize > 0 && newSize > j.metrics.MaxSize {
		return fmt.Errorf("%w: %d > max_size %d", ErrFileTooBig, newSize, j.metrics.MaxSize)
	}

	if newSize > j.metrics.MinSize && j.metrics.KeepFree > 0 {
		var st unix.Statfs_t
		if err := unix.Fstatfs(int(j.f.Fd()), &st); err == nil {
			available := uint64(st.Bavail) * uint64(st.Bsize)
			if available >= j.metrics.KeepFree {
				available -= j.metrics.KeepFree
			} else {
				available = 0
			}
			if newSize-oldSize > available {
				return fmt.Errorf("%w: growth of %d bytes would undercut keep_free",
					ErrFileTooBig, newSize-oldSize)
			}
		}
	}

	if err := allocateFileRange(j.f, int64(oldSize), int64(newSize-oldSize)); err != nil {
		return fmt.Errorf("journalfile: grow file: %w", err)
	}

	st, err := j.f.Stat()
	if err != nil {
		return err
	}
	j.lastSize = st.Size()
	j.cache.SetFileSize(j.lastSize)

	j.header.SetArenaSize(newSize - j.header.HeaderSize())

	return nil
}

// appendObject allocates a zero-initialized object of the given type and size
// at the tail of the arena and returns its view and offset.
func (j *JournalFile) appendObject(typ format.ObjectType, size uint64) (format.Object, uint64, error) {
	if size < format.ObjectHeaderSize {
		return nil, 0, fmt.Errorf("%w: object size %d below header size", ErrBadMessage, size)
	}

	p := j.header.TailObjectOffset()
	if p == 0 {
		p = j.header.HeaderSize()
	} else {
		tail, err := j.moveToObject(format.ObjectUnused, p)
		if err != nil {
			return nil, 0, err
		}
		p += format.Align64(tail.Size())
	}

	if err := j.allocate(p, size); err != nil {
		return nil, 0, err
	}

	b, err := j.moveTo(p, size, false)
	if err != nil {
		return nil, 0, err
	}
	o := format.Object(b)

	zero(o[:format.ObjectHeaderSize])
	o.SetType(typ)
	o.SetSize(size)

	j.header.SetTailObjectOffset(p)
	j.header.SetNObjects(j.header.NObjects() + 1)

	return o, p, nil
}

// postChange triggers a change notification for observers that cannot see
// memory-mapped writes: inotify does not deliver IN_MODIFY for mmap stores,
// so a no-op truncate to the current size is used to raise it.
func (j *JournalFile) postChange() {
	if err := unix.Ftruncate(int(j.f.Fd()), j.lastSize); err != nil {
		j.logger.Error("failed to truncate file to its own size", "error", err)
	}
}

func pageAlign(n uint64) uint64 {
	pages := uint64(pageSize())
	return (n + pages - 1) &^ (pages - 1)
}
