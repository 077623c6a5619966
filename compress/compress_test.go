package compress

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForAlgorithm(t *testing.T) {
	for _, a := range []Algorithm{Zstd, LZ4} {
		c, err := ForAlgorithm(a)
		require.NoError(t, err)
		assert.Equal(t, a, c.Algorithm())
	}

	_, err := ForAlgorithm(None)
	require.ErrorIs(t, err, ErrUnsupported)
	_, err = ForAlgorithm(Algorithm(99))
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("journal entry payload "), 200)

	for _, a := range []Algorithm{Zstd, LZ4} {
		t.Run(a.String(), func(t *testing.T) {
			c, err := ForAlgorithm(a)
			require.NoError(t, err)

			out, ok := c.Compress(compressible)
			require.True(t, ok)
			require.Less(t, len(out), len(compressible))

			back, err := c.Decompress(out)
			require.NoError(t, err)
			assert.Equal(t, compressible, back)
		})
	}
}

func TestIncompressibleDataRejected(t *testing.T) {
	noise := make([]byte, 4096)
	_, err := rand.Read(noise)
	require.NoError(t, err)

	for _, a := range []Algorithm{Zstd, LZ4} {
		t.Run(a.String(), func(t *testing.T) {
			c, err := ForAlgorithm(a)
			require.NoError(t, err)

			_, ok := c.Compress(noise)
			assert.False(t, ok, "random data must not count as compressible")
		})
	}
}

func TestLZ4BlobValidation(t *testing.T) {
	c, err := ForAlgorithm(LZ4)
	require.NoError(t, err)

	_, err = c.Decompress([]byte{1, 2, 3})
	require.Error(t, err, "truncated length prefix")

	// A declared size beyond the sanity cap is rejected before allocating.
	huge := make([]byte, 16)
	for i := 0; i < 8; i++ {
		huge[i] = 0xff
	}
	_, err = c.Decompress(huge)
	require.Error(t, err)
}

func TestAlgorithmString(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "zstd", Zstd.String())
	assert.Equal(t, "lz4", LZ4.String())
}
