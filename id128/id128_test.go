package id128

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	id, err := Parse("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", id.String())

	// UUID form with dashes is accepted too.
	dashed, err := Parse("01234567-89ab-cdef-0123-456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, id, dashed)

	_, err = Parse("too short")
	require.Error(t, err)
	_, err = Parse("zz23456789abcdef0123456789abcdef")
	require.Error(t, err)
}

func TestZero(t *testing.T) {
	assert.True(t, Zero.IsZero())

	id, err := Parse("00000000000000000000000000000001")
	require.NoError(t, err)
	assert.False(t, id.IsZero())
}

func TestRandom(t *testing.T) {
	a, err := Random()
	require.NoError(t, err)
	b, err := Random()
	require.NoError(t, err)

	assert.False(t, a.IsZero())
	assert.NotEqual(t, a, b)
}

func TestMachineStable(t *testing.T) {
	a, err := Machine()
	require.NoError(t, err)
	b, err := Machine()
	require.NoError(t, err)

	assert.False(t, a.IsZero())
	assert.Equal(t, a, b, "machine ID must be stable within a process")
}

func TestBootStable(t *testing.T) {
	a, err := Boot()
	require.NoError(t, err)
	b, err := Boot()
	require.NoError(t, err)

	assert.False(t, a.IsZero())
	assert.Equal(t, a, b, "boot ID must be stable within a process")
}
