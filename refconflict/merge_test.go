package refconflict_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/refconflict"
)

// flatAncestry is a test double for refconflict.AncestryIndex: ancestry
// is declared explicitly via edges, with no transitive closure beyond what
// is registered (sufficient for these unit-level conflict scenarios).
type flatAncestry struct {
	ancestorOf map[string]map[string]bool // ancestorOf[a][b] == a is an ancestor of b
}

func newFlatAncestry() *flatAncestry {
	return &flatAncestry{ancestorOf: map[string]map[string]bool{}}
}

func (f *flatAncestry) declare(ancestor, descendant objectid.ID) {
	if f.ancestorOf[ancestor.Hex()] == nil {
		f.ancestorOf[ancestor.Hex()] = map[string]bool{}
	}
	f.ancestorOf[ancestor.Hex()][descendant.Hex()] = true
}

func (f *flatAncestry) IsAncestor(a, b objectid.ID) bool {
	return f.ancestorOf[a.Hex()][b.Hex()]
}

func TestMergeRefTargetsTrivialFastForward(t *testing.T) {
	x, y := id(t, "aa"), id(t, "bb")
	idx := newFlatAncestry()
	got := refconflict.MergeRefTargets(idx, refconflict.Normal(y), refconflict.Normal(x), refconflict.Normal(x))
	got2, ok := got.AsNormal()
	assert.True(t, ok)
	assert.Equal(t, y, got2)
}

// TestMergeRefTargetsTrueConflict: base=X, left sets Y, right sets Z,
// neither ancestor of the other -> conflict.
func TestMergeRefTargetsTrueConflict(t *testing.T) {
	x, y, z := id(t, "aa"), id(t, "bb"), id(t, "cc")
	idx := newFlatAncestry()
	got := refconflict.MergeRefTargets(idx, refconflict.Normal(y), refconflict.Normal(x), refconflict.Normal(z))
	assert.True(t, got.HasConflict())
	assert.ElementsMatch(t, []objectid.ID{x}, got.RemovedIDs())
	assert.ElementsMatch(t, []objectid.ID{y, z}, got.AddedIDs())
}

// TestMergeRefTargetsDescendantWins: when one add is an ancestor of the
// other add, and a remove is an ancestor of the ancestor add, the
// conflict simplifies to just the descendant.
func TestMergeRefTargetsDescendantWins(t *testing.T) {
	x, y, z := id(t, "aa"), id(t, "bb"), id(t, "cc")
	idx := newFlatAncestry()
	idx.declare(y, z) // y is an ancestor of z (z is the descendant)
	idx.declare(x, y) // the base x is an ancestor of y

	// Simulate: left advanced x -> y, right advanced x -> z (z a descendant
	// of y), so the raw concatenation before cancellation is
	// removes=[x], adds=[y,z]; rule (b) should drop y (the ancestor add)
	// together with the remove x (ancestor of y), leaving just z.
	conflict := refconflict.FromConflict(refconflict.Conflict[refconflict.OptionalCommitID]{
		Removes: []refconflict.OptionalCommitID{refconflict.Some(x)},
		Adds:    []refconflict.OptionalCommitID{refconflict.Some(y), refconflict.Some(z)},
	})
	simplifiedBase := refconflict.Absent()
	got := refconflict.MergeRefTargets(idx, conflict, simplifiedBase, refconflict.Absent())
	resolved, ok := got.AsNormal()
	assert.True(t, ok)
	assert.Equal(t, z, resolved)
}
