package index_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opdag/vcscore/index"
	"github.com/opdag/vcscore/objectid"
)

func id(t *testing.T, hex string) objectid.ID {
	t.Helper()
	v, err := objectid.FromHex(hex)
	require.NoError(t, err)
	return v
}

func mustPrefix(t *testing.T, s string) objectid.HexPrefix {
	t.Helper()
	p, ok := objectid.NewHexPrefix(s)
	require.True(t, ok)
	return p
}

func buildSegment(t *testing.T, commits [][2]string) *index.Index {
	t.Helper()
	seg := index.NewRootSegment()
	for _, c := range commits {
		commitID := id(t, c[0])
		changeID := id(t, c[1])
		seg.AddCommit(commitID, changeID, nil)
	}
	return index.New(seg)
}

func TestResolveCommitIDPrefixUnique(t *testing.T) {
	ix := buildSegment(t, [][2]string{
		{"aabbcc", "01"},
		{"aabbdd", "02"},
		{"bb0000", "03"},
	})
	res := ix.ResolveCommitIDPrefix(mustPrefix(t, "bb"))
	got, ok := res.Value()
	require.True(t, ok)
	assert.Equal(t, "bb0000", got.Hex())
}

func TestResolveCommitIDPrefixAmbiguous(t *testing.T) {
	ix := buildSegment(t, [][2]string{
		{"aabbcc", "01"},
		{"aabbdd", "02"},
	})
	res := ix.ResolveCommitIDPrefix(mustPrefix(t, "aa"))
	assert.Equal(t, objectid.AmbiguousMatch, res.Kind())
}

func TestResolveCommitIDPrefixNoMatch(t *testing.T) {
	ix := buildSegment(t, [][2]string{{"aabbcc", "01"}})
	res := ix.ResolveCommitIDPrefix(mustPrefix(t, "ff"))
	assert.Equal(t, objectid.NoMatch, res.Kind())
}

// TestResolveChangeIDPrefixSharedChangeIsNotAmbiguous covers the scenario
// this package's ResolveChangeIDPrefix was specifically written to get
// right: two different commits sharing one change id (e.g. an amend)
// resolve to a single, non-ambiguous set containing both commits.
func TestResolveChangeIDPrefixSharedChangeIsNotAmbiguous(t *testing.T) {
	ix := buildSegment(t, [][2]string{
		{"aabbcc", "0101"},
		{"aabbdd", "0101"},
	})
	res := ix.ResolveChangeIDPrefix(mustPrefix(t, "0101"))
	got, ok := res.Value()
	require.True(t, ok)
	assert.Len(t, got, 2)
}

func TestResolveChangeIDPrefixDistinctChangesAreAmbiguous(t *testing.T) {
	ix := buildSegment(t, [][2]string{
		{"aabbcc", "0101"},
		{"aabbdd", "0102"},
	})
	res := ix.ResolveChangeIDPrefix(mustPrefix(t, "01"))
	assert.Equal(t, objectid.AmbiguousMatch, res.Kind())
}

func TestResolveChangeIDPrefixNoMatch(t *testing.T) {
	ix := buildSegment(t, [][2]string{{"aabbcc", "0101"}})
	res := ix.ResolveChangeIDPrefix(mustPrefix(t, "ff"))
	assert.Equal(t, objectid.NoMatch, res.Kind())
}

// TestResolveChangeIDPrefixAcrossSegments exercises the cross-segment
// union path: the same change id appears in both the parent (frozen) and
// child (mutable) segments, as happens when a change is amended after its
// first commit was already sealed into an earlier segment.
func TestResolveChangeIDPrefixAcrossSegments(t *testing.T) {
	parent := index.NewRootSegment()
	parent.AddCommit(id(t, "aabbcc"), id(t, "0101"), nil)
	child := index.NewSegment(parent)
	child.AddCommit(id(t, "aabbdd"), id(t, "0101"), nil)
	ix := index.New(child)

	res := ix.ResolveChangeIDPrefix(mustPrefix(t, "0101"))
	got, ok := res.Value()
	require.True(t, ok)
	assert.Len(t, got, 2)
}
