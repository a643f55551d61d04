package index_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opdag/vcscore/index"
	"github.com/opdag/vcscore/objectid"
)

// linear builds A -> B -> C (C is the root/oldest, A the newest head) and
// returns the index plus each commit's position.
func linear(t *testing.T) (*index.Index, map[string]index.Position) {
	t.Helper()
	seg := index.NewRootSegment()
	pos := map[string]index.Position{}
	c := seg.AddCommit(id(t, "cc"), id(t, "c1"), nil)
	pos["c"] = c
	b := seg.AddCommit(id(t, "bb"), id(t, "b1"), []index.Position{c})
	pos["b"] = b
	a := seg.AddCommit(id(t, "aa"), id(t, "a1"), []index.Position{b})
	pos["a"] = a
	return index.New(seg), pos
}

func TestIsAncestorLinear(t *testing.T) {
	ix, _ := linear(t)
	assert.True(t, ix.IsAncestor(id(t, "cc"), id(t, "aa")))
	assert.True(t, ix.IsAncestor(id(t, "bb"), id(t, "aa")))
	assert.True(t, ix.IsAncestor(id(t, "aa"), id(t, "aa")))
	assert.False(t, ix.IsAncestor(id(t, "aa"), id(t, "cc")))
}

func TestGenerationLinear(t *testing.T) {
	ix, pos := linear(t)
	assert.Equal(t, uint32(0), ix.GenerationOfPosition(pos["c"]))
	assert.Equal(t, uint32(1), ix.GenerationOfPosition(pos["b"]))
	assert.Equal(t, uint32(2), ix.GenerationOfPosition(pos["a"]))
}

// diamond builds:
//
//	root -> left  -\
//	             merge
//	root -> right -/
func diamond(t *testing.T) *index.Index {
	t.Helper()
	seg := index.NewRootSegment()
	root := seg.AddCommit(id(t, "aa"), id(t, "a1"), nil)
	left := seg.AddCommit(id(t, "bb"), id(t, "b1"), []index.Position{root})
	right := seg.AddCommit(id(t, "cc"), id(t, "c1"), []index.Position{root})
	seg.AddCommit(id(t, "dd"), id(t, "d1"), []index.Position{left, right})
	return index.New(seg)
}

func TestHeadsOfSetDropsAncestors(t *testing.T) {
	ix := diamond(t)
	heads := ix.HeadsOfSet([]objectid.ID{id(t, "aa"), id(t, "bb"), id(t, "cc"), id(t, "dd")})
	assert.Len(t, heads, 1)
	assert.Equal(t, "dd", heads[0].Hex())
}

func TestCommonAncestorsDiamond(t *testing.T) {
	ix := diamond(t)
	common := ix.CommonAncestors([]objectid.ID{id(t, "bb")}, []objectid.ID{id(t, "cc")})
	assert.Len(t, common, 1)
	assert.Equal(t, "aa", common[0].Hex())
}

func TestWalkRevsExcludesUnwanted(t *testing.T) {
	ix, _ := linear(t)
	got := ix.WalkRevs([]objectid.ID{id(t, "aa")}, []objectid.ID{id(t, "bb")})
	assert.Len(t, got, 1)
	assert.Equal(t, "aa", got[0].Hex())
}

func TestWalkRevsOrderIsChildrenBeforeParents(t *testing.T) {
	ix, _ := linear(t)
	got := ix.WalkRevs([]objectid.ID{id(t, "aa")}, nil)
	var hexes []string
	for _, g := range got {
		hexes = append(hexes, g.Hex())
	}
	assert.Equal(t, []string{"aa", "bb", "cc"}, hexes)
}

func TestDescendantsAndAncestorsDiamond(t *testing.T) {
	ix := diamond(t)
	desc := ix.Descendants([]objectid.ID{id(t, "bb")})
	var hexes []string
	for _, d := range desc {
		hexes = append(hexes, d.Hex())
	}
	assert.ElementsMatch(t, []string{"bb", "dd"}, hexes)

	anc := ix.Ancestors([]objectid.ID{id(t, "dd")})
	hexes = nil
	for _, a := range anc {
		hexes = append(hexes, a.Hex())
	}
	assert.ElementsMatch(t, []string{"aa", "bb", "cc", "dd"}, hexes)
}

func TestParentsAndChildrenDiamond(t *testing.T) {
	ix := diamond(t)
	parents := ix.Parents([]objectid.ID{id(t, "dd")})
	var hexes []string
	for _, p := range parents {
		hexes = append(hexes, p.Hex())
	}
	assert.ElementsMatch(t, []string{"bb", "cc"}, hexes)

	children := ix.Children([]objectid.ID{id(t, "aa")})
	hexes = nil
	for _, c := range children {
		hexes = append(hexes, c.Hex())
	}
	assert.ElementsMatch(t, []string{"bb", "cc"}, hexes)
}

func TestAllIDsCoversEveryCommit(t *testing.T) {
	ix := diamond(t)
	all := ix.AllIDs()
	assert.Len(t, all, 4)
}

func TestHasIDAndPositionOf(t *testing.T) {
	ix, pos := linear(t)
	assert.True(t, ix.HasID(id(t, "bb")))
	assert.False(t, ix.HasID(id(t, "ff")))
	p, ok := ix.PositionOf(id(t, "bb"))
	assert.True(t, ok)
	assert.Equal(t, pos["b"], p)
}
