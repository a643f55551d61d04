package objectid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opdag/vcscore/objectid"
)

func TestHexPrefixPrefixes(t *testing.T) {
	p, ok := objectid.NewHexPrefix("")
	require.True(t, ok)
	assert.Equal(t, []byte{}, p.MinPrefixBytes())

	p, ok = objectid.NewHexPrefix("1")
	require.True(t, ok)
	assert.Equal(t, []byte{0x10}, p.MinPrefixBytes())

	p, ok = objectid.NewHexPrefix("12")
	require.True(t, ok)
	assert.Equal(t, []byte{0x12}, p.MinPrefixBytes())

	p, ok = objectid.NewHexPrefix("123")
	require.True(t, ok)
	assert.Equal(t, []byte{0x12, 0x30}, p.MinPrefixBytes())

	_, ok = objectid.NewHexPrefix("0x123")
	assert.False(t, ok)

	_, ok = objectid.NewHexPrefix("foobar")
	assert.False(t, ok)
}

func TestHexPrefixMatches(t *testing.T) {
	id, err := objectid.FromHex("1234")
	require.NoError(t, err)

	for _, prefix := range []string{"", "1", "12", "123", "1234"} {
		p, ok := objectid.NewHexPrefix(prefix)
		require.True(t, ok)
		assert.True(t, p.Matches(id), "prefix %q should match", prefix)
	}
	for _, prefix := range []string{"12345", "a", "1a", "12a", "123a"} {
		p, ok := objectid.NewHexPrefix(prefix)
		require.True(t, ok)
		assert.False(t, p.Matches(id), "prefix %q should not match", prefix)
	}
}

func TestPrefixResolutionPlus(t *testing.T) {
	none := objectid.NoMatchResolution[int]()
	single := objectid.SingleMatchResolution(7)
	ambiguous := objectid.AmbiguousMatchResolution[int]()

	assert.Equal(t, single, objectid.Plus(none, single))
	assert.Equal(t, single, objectid.Plus(single, none))
	assert.Equal(t, none, objectid.Plus(none, none))
	assert.Equal(t, objectid.AmbiguousMatch, objectid.Plus(single, objectid.SingleMatchResolution(8)).Kind())
	assert.Equal(t, objectid.AmbiguousMatch, objectid.Plus(ambiguous, single).Kind())
	assert.Equal(t, objectid.AmbiguousMatch, objectid.Plus(single, ambiguous).Kind())
}
