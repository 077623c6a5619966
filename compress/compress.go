// Package compress provides the payload compression codecs used by journal
// files. Only data payloads above SizeThreshold are compressed; the codec in
// effect is recorded per object via flag bits, so a single file always uses a
// single codec but readers pick the decoder per object.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// SizeThreshold is the minimum payload size worth compressing. Below this the
// framing overhead eats the savings.
const SizeThreshold = 512

// ErrUnsupported is returned when a payload was stored with a codec this build
// does not provide.
var ErrUnsupported = errors.New("compress: unsupported codec")

// Algorithm selects a compression codec.
type Algorithm uint8

const (
	// None disables payload compression.
	None Algorithm = iota
	// Zstd selects the zstd codec (default).
	Zstd
	// LZ4 selects the lz4 block codec.
	LZ4
)

func (a Algorithm) String() string {
	switch a {
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return "none"
	}
}

// Codec compresses and decompresses payload blobs. Compressed blobs are
// self-describing: Decompress needs no out-of-band original length.
type Codec interface {
	Algorithm() Algorithm

	// Compress returns the compressed form of src, or ok=false when
	// compression would not shrink the payload.
	Compress(src []byte) (out []byte, ok bool)

	// Decompress reverses Compress.
	Decompress(src []byte) ([]byte, error)
}

// ForAlgorithm returns the codec for a, or ErrUnsupported.
func ForAlgorithm(a Algorithm) (Codec, error) {
	switch a {
	case Zstd:
		return zstdCodec{}, nil
	case LZ4:
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupported, a)
	}
}

// Shared zstd coders. EncodeAll/DecodeAll on these are safe for concurrent
// use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

type zstdCodec struct{}

func (zstdCodec) Algorithm() Algorithm { return Zstd }

func (zstdCodec) Compress(src []byte) ([]byte, bool) {
	out := zstdEncoder.EncodeAll(src, make([]byte, 0, len(src)))
	if len(out) >= len(src) {
		return nil, false
	}
	return out, true
}

func (zstdCodec) Decompress(src []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("compress: zstd decompress: %w", err)
	}
	return out, nil
}

// lz4Codec uses the lz4 block format with an 8-byte little-endian original
// length prefix, since blocks do not carry their decompressed size.
type lz4Codec struct{}

func (lz4Codec) Algorithm() Algorithm { return LZ4 }

func (lz4Codec) Compress(src []byte) ([]byte, bool) {
	var c lz4.Compressor
	buf := make([]byte, 8+lz4.CompressBlockBound(len(src)))
	binary.LittleEndian.PutUint64(buf[:8], uint64(len(src)))
	n, err := c.CompressBlock(src, buf[8:])
	if err != nil || n == 0 || 8+n >= len(src) {
		return nil, false
	}
	return buf[:8+n], true
}

func (lz4Codec) Decompress(src []byte) ([]byte, error) {
	if len(src) < 8 {
		return nil, fmt.Errorf("compress: lz4 blob too short")
	}
	size := binary.LittleEndian.Uint64(src[:8])
	const maxDecompressed = 1 << 30
	if size > maxDecompressed {
		return nil, fmt.Errorf("compress: lz4 declared size %d too large", size)
	}
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(src[8:], out)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4 decompress: %w", err)
	}
	if uint64(n) != size {
		return nil, fmt.Errorf("compress: lz4 size mismatch: got %d, want %d", n, size)
	}
	return out, nil
}
