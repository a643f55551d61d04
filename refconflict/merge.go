package refconflict

import "github.com/opdag/vcscore/objectid"

// AncestryIndex is the minimal ancestry query the ref-merge algorithm needs.
// It is satisfied by index.Index; refconflict does not import index to keep
// the dependency direction index -> refconflict (an Index query answers
// "is a an ancestor of b", and this package consumes that answer; it never
// needs to construct or walk the index itself).
type AncestryIndex interface {
	IsAncestor(a, b objectid.ID) bool
}

// MergeRefTargets performs a 3-way merge of ref targets: left, base and
// right are merged under idx, producing a conflicted ref when no trivial
// resolution exists.
func MergeRefTargets(idx AncestryIndex, left, base, right RefTarget) RefTarget {
	leftVal, leftOK := left.conflict.AsResolved()
	baseVal, baseOK := base.conflict.AsResolved()
	rightVal, rightOK := right.conflict.AsResolved()
	if leftOK && baseOK && rightOK {
		if resolved, ok := TrivialMerge(
			[]OptionalCommitID{baseVal},
			[]OptionalCommitID{leftVal, rightVal},
			EqualOptionalCommitID,
		); ok {
			return RefTarget{conflict: Resolved(resolved)}
		}
	}

	var removes, adds []OptionalCommitID
	removes = append(removes, left.conflict.Removes...)
	adds = append(adds, left.conflict.Adds...)
	// The base is subtracted: its adds count as removes and vice versa.
	removes = append(removes, base.conflict.Adds...)
	adds = append(adds, base.conflict.Removes...)
	removes = append(removes, right.conflict.Removes...)
	adds = append(adds, right.conflict.Adds...)

	for {
		removeIdx, addIdx, found := findPairToRemove(idx, removes, adds)
		if !found {
			break
		}
		if removeIdx >= 0 {
			removes = append(removes[:removeIdx], removes[removeIdx+1:]...)
		}
		adds = append(adds[:addIdx], adds[addIdx+1:]...)
	}

	switch {
	case len(adds) == 0:
		return Absent()
	case len(adds) == 1 && len(removes) == 0:
		return RefTarget{conflict: Resolved(adds[0])}
	default:
		return RefTarget{conflict: Conflict[OptionalCommitID]{Removes: removes, Adds: adds}}
	}
}

// findPairToRemove finds the next (remove, add) pair that cancels, under
// two rules: (a) an add equal to a remove cancels both; (b) among two
// ancestor-related adds, the ancestor one drops along with a remove that
// is its own ancestor (picking the descendant side to survive).
//
// removeIdx is -1 when rule (b) fires with no matching remove to also drop.
func findPairToRemove(idx AncestryIndex, removes, adds []OptionalCommitID) (removeIdx, addIdx int, found bool) {
	for ri, remove := range removes {
		for ai, add := range adds {
			if EqualOptionalCommitID(remove, add) {
				return ri, ai, true
			}
		}
	}

	isAncestor := func(a, b OptionalCommitID) bool {
		if !a.Present || !b.Present {
			return false
		}
		return idx.IsAncestor(a.ID, b.ID)
	}

	for i1, add1 := range adds {
		for i2 := i1 + 1; i2 < len(adds); i2++ {
			add2 := adds[i2]
			var firstIsAncestor bool
			switch {
			case EqualOptionalCommitID(add1, add2) || isAncestor(add1, add2):
				firstIsAncestor = true
			case isAncestor(add2, add1):
				firstIsAncestor = false
			default:
				continue
			}
			if len(removes) == 0 {
				if firstIsAncestor {
					return -1, i1, true
				}
				return -1, i2, true
			}
			for ri, remove := range removes {
				if firstIsAncestor && isAncestor(remove, add1) {
					return ri, i1, true
				}
				if !firstIsAncestor && isAncestor(remove, add2) {
					return ri, i2, true
				}
			}
		}
	}
	return 0, 0, false
}
