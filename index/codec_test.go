package index_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opdag/vcscore/index"
)

const (
	testCommitIDLen = 1
	testChangeIDLen = 1
)

func TestEncodeDecodeSegmentRoundTrip(t *testing.T) {
	seg := index.NewRootSegment()
	root := seg.AddCommit(id(t, "aa"), id(t, "01"), nil)
	left := seg.AddCommit(id(t, "bb"), id(t, "02"), []index.Position{root})
	right := seg.AddCommit(id(t, "cc"), id(t, "03"), []index.Position{root})
	seg.AddCommit(id(t, "dd"), id(t, "04"), []index.Position{left, right})

	encoded := index.EncodeSegment(seg, testCommitIDLen, testChangeIDLen)
	decoded, err := index.DecodeSegment(encoded, testCommitIDLen, testChangeIDLen, nil)
	require.NoError(t, err)

	ix := index.New(decoded)
	assert.Equal(t, index.Position(4), ix.Len())
	assert.True(t, ix.IsAncestor(id(t, "aa"), id(t, "dd")))
	assert.True(t, ix.IsAncestor(id(t, "bb"), id(t, "dd")))
	assert.True(t, ix.IsAncestor(id(t, "cc"), id(t, "dd")))
	assert.False(t, ix.IsAncestor(id(t, "bb"), id(t, "cc")))

	res := ix.ResolveCommitIDPrefix(mustPrefix(t, "dd"))
	got, ok := res.Value()
	require.True(t, ok)
	assert.Equal(t, "dd", got.Hex())
}

// TestEncodeDecodeSegmentRoundTripManyParents exercises the
// parent-overflow path (more than two parents, e.g. an octopus merge).
func TestEncodeDecodeSegmentRoundTripManyParents(t *testing.T) {
	seg := index.NewRootSegment()
	p1 := seg.AddCommit(id(t, "11"), id(t, "01"), nil)
	p2 := seg.AddCommit(id(t, "22"), id(t, "02"), nil)
	p3 := seg.AddCommit(id(t, "33"), id(t, "03"), nil)
	p4 := seg.AddCommit(id(t, "44"), id(t, "04"), nil)
	merge := seg.AddCommit(id(t, "55"), id(t, "05"), []index.Position{p1, p2, p3, p4})

	encoded := index.EncodeSegment(seg, testCommitIDLen, testChangeIDLen)
	decoded, err := index.DecodeSegment(encoded, testCommitIDLen, testChangeIDLen, nil)
	require.NoError(t, err)

	ix := index.New(decoded)
	assert.Equal(t, []index.Position{p1, p2, p3, p4}, ix.ParentsOfPosition(merge))
}

func TestDecodeSegmentRejectsTruncatedData(t *testing.T) {
	seg := index.NewRootSegment()
	seg.AddCommit(id(t, "aa"), id(t, "01"), nil)
	encoded := index.EncodeSegment(seg, testCommitIDLen, testChangeIDLen)

	_, err := index.DecodeSegment(encoded[:len(encoded)-2], testCommitIDLen, testChangeIDLen, nil)
	assert.ErrorIs(t, err, index.ErrCorruptSegment)
}

// TestEncodeDecodeSegmentStacksOnParent exercises decoding a child segment
// that references positions in an already-loaded parent segment.
func TestEncodeDecodeSegmentStacksOnParent(t *testing.T) {
	parent := index.NewRootSegment()
	root := parent.AddCommit(id(t, "aa"), id(t, "01"), nil)

	child := index.NewSegment(parent)
	child.AddCommit(id(t, "bb"), id(t, "02"), []index.Position{root})

	encodedChild := index.EncodeSegment(child, testCommitIDLen, testChangeIDLen)
	decodedChild, err := index.DecodeSegment(encodedChild, testCommitIDLen, testChangeIDLen, parent)
	require.NoError(t, err)

	ix := index.New(decodedChild)
	assert.True(t, ix.IsAncestor(id(t, "aa"), id(t, "bb")))
}
