package journalfile

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hupe1980/journalfile/format"
)

// Sealer produces authentication tags over ranges of the arena. Tags are
// written as tag objects whenever the sealing epoch advances and once more on
// close, so a verifier holding the sealing secret can detect retroactive
// edits up to the last tag.
type Sealer interface {
	// Epoch maps a wall clock timestamp in microseconds to a sealing
	// epoch. Epochs must be non-decreasing in the timestamp.
	Epoch(realtime uint64) uint64

	// Seal authenticates material, the canonical byte stream of a range's
	// immutable object content. The tag must be exactly format.TagSize
	// bytes.
	Seal(epoch uint64, material []byte) ([]byte, error)
}

// HMACSealer seals with HMAC-SHA256 under a fixed key, advancing the epoch at
// a fixed wall clock interval. It offers no forward security: a leaked key
// allows re-sealing. Key rotation needs to happen outside the file.
type HMACSealer struct {
	key      []byte
	interval uint64
}

// NewHMACSealer returns a sealer keyed with key that starts a new epoch every
// interval. A zero interval keeps everything in epoch 0, so tags are only
// written on close.
func NewHMACSealer(key []byte, interval time.Duration) *HMACSealer {
	return &HMACSealer{key: key, interval: uint64(interval.Microseconds())}
}

func (s *HMACSealer) Epoch(realtime uint64) uint64 {
	if s.interval == 0 {
		return 0
	}
	return realtime / s.interval
}

func (s *HMACSealer) Seal(epoch uint64, material []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.key)
	var e [8]byte
	binary.LittleEndian.PutUint64(e[:], epoch)
	mac.Write(e[:])
	mac.Write(material)
	return mac.Sum(nil)[:format.TagSize], nil
}

// sealMaterial walks the objects in [start, end), which must fall on object
// boundaries, and collects the bytes that never change once written: object
// headers, data and field hashes and payloads, whole entries, and tag
// metadata. Hash tables, entry arrays and the link fields of data and field
// objects are rewritten by later appends and are excluded, as is the stored
// tag itself.
func (j *JournalFile) sealMaterial(start, end uint64) ([]byte, error) {
	var buf bytes.Buffer

	p := start
	for p < end {
		o, err := j.moveToObject(format.ObjectUnused, p)
		if err != nil {
			return nil, err
		}
		size := o.Size()

		buf.Write(o[:format.ObjectHeaderSize])
		switch o.Type() {
		case format.ObjectData:
			buf.Write(o[format.ObjectHeaderSize : format.ObjectHeaderSize+8]) // hash
			buf.Write(o[format.DataPayloadOffset:size])
		case format.ObjectField:
			buf.Write(o[format.ObjectHeaderSize : format.ObjectHeaderSize+8]) // hash
			buf.Write(o[format.FieldPayloadOffset:size])
		case format.ObjectEntry:
			buf.Write(o[format.ObjectHeaderSize:size])
		case format.ObjectTag:
			buf.Write(o[format.ObjectHeaderSize:format.TagOffset]) // seqnum, epoch
		}

		p += format.Align64(size)
	}

	return buf.Bytes(), nil
}

// maybeAppendTag closes out the previous epoch with a tag when the clock has
// crossed into a new one. Called before every entry append on sealed files.
func (j *JournalFile) maybeAppendTag(realtime uint64) error {
	epoch := j.sealer.Epoch(realtime)
	if epoch <= j.lastEpoch {
		return nil
	}

	if err := j.appendTagInternal(j.lastEpoch); err != nil {
		return err
	}
	j.lastEpoch = epoch
	return nil
}

// appendTag seals everything written since the last tag. Used for the final
// tag on close.
func (j *JournalFile) appendTag() error {
	return j.appendTagInternal(j.sealer.Epoch(j.header.TailEntryRealtime()))
}

func (j *JournalFile) appendTagInternal(epoch uint64) error {
	start := j.sealedUpTo
	if start == 0 {
		start = j.header.HeaderSize()
	}

	end := start
	if p := j.header.TailObjectOffset(); p > 0 {
		o, err := j.moveToObject(format.ObjectUnused, p)
		if err != nil {
			return err
		}
		end = p + format.Align64(o.Size())
	}

	material, err := j.sealMaterial(start, end)
	if err != nil {
		return err
	}
	tag, err := j.sealer.Seal(epoch, material)
	if err != nil {
		return fmt.Errorf("seal epoch %d: %w", epoch, err)
	}
	if len(tag) != format.TagSize {
		return fmt.Errorf("seal epoch %d: tag has %d bytes, want %d", epoch, len(tag), format.TagSize)
	}

	o, p, err := j.appendObject(format.ObjectTag, format.TagObjectSize)
	if err != nil {
		return err
	}
	t := o.Tag()
	t.SetSeqnum(j.header.TailEntrySeqnum())
	t.SetEpoch(epoch)
	t.SetTag(tag)

	j.header.SetNTags(j.header.NTags() + 1)
	j.sealedUpTo = p + format.Align64(format.TagObjectSize)

	j.logger.Debug("appended tag", "epoch", epoch, "offset", p)
	return nil
}

// VerifySeals recomputes every tag in object order and compares it against
// the stored one. It returns the number of verified tags. ErrBadMessage
// reports the first mismatch.
func (j *JournalFile) VerifySeals(sealer Sealer) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.header.CompatibleFlags()&format.CompatibleSealed == 0 {
		return 0, nil
	}

	verified := 0
	start := j.header.HeaderSize()
	p := firstObjectOffset(j.header)

	for p > 0 {
		o, err := j.moveToObject(format.ObjectUnused, p)
		if err != nil {
			return verified, err
		}
		typ := o.Type()
		size := format.Align64(o.Size())

		if typ == format.ObjectTag {
			epoch := o.Tag().Epoch()

			material, err := j.sealMaterial(start, p)
			if err != nil {
				return verified, err
			}
			tag, err := sealer.Seal(epoch, material)
			if err != nil {
				return verified, err
			}

			// Re-resolve, collecting the material may have recycled
			// the tag's window.
			o, err = j.moveToObject(format.ObjectTag, p)
			if err != nil {
				return verified, err
			}
			if !hmac.Equal(tag, o.Tag().Tag()) {
				return verified, fmt.Errorf("%w: tag at %#x does not verify", ErrBadMessage, p)
			}
			verified++
			start = p + size
		}

		if p == j.header.TailObjectOffset() {
			break
		}
		p += size
	}

	return verified, nil
}

// firstObjectOffset is where the arena's first object lives, directly behind
// the header.
func firstObjectOffset(h format.Header) uint64 {
	if h.TailObjectOffset() == 0 {
		return 0
	}
	return format.Align64(h.HeaderSize())
}
