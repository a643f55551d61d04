package refconflict

import "github.com/opdag/vcscore/objectid"

// OptionalCommitID is the `Option<CommitId>` of a RefTarget slot: Present is
// false for "points at nothing" (used to represent a branch/tag deletion
// inside a conflict, or the fully-absent ref).
type OptionalCommitID struct {
	ID      objectid.ID
	Present bool
}

// Some wraps a present commit id.
func Some(id objectid.ID) OptionalCommitID {
	return OptionalCommitID{ID: id, Present: true}
}

// None is the absent slot.
func None() OptionalCommitID {
	return OptionalCommitID{}
}

// EqualOptionalCommitID is the equality used by Conflict[OptionalCommitID]
// operations.
func EqualOptionalCommitID(a, b OptionalCommitID) bool {
	if a.Present != b.Present {
		return false
	}
	if !a.Present {
		return true
	}
	return a.ID.Equal(b.ID)
}

// RefTarget wraps a Conflict[OptionalCommitID]: a (possibly conflicted)
// reference to zero or more commit ids.
type RefTarget struct {
	conflict Conflict[OptionalCommitID]
}

// Absent is the non-conflicting target pointing to no commit.
func Absent() RefTarget {
	return RefTarget{conflict: Resolved(None())}
}

// Normal is the non-conflicting target pointing to id.
func Normal(id objectid.ID) RefTarget {
	return RefTarget{conflict: Resolved(Some(id))}
}

// FromConflict wraps an already-built conflict value.
func FromConflict(c Conflict[OptionalCommitID]) RefTarget {
	return RefTarget{conflict: c}
}

// FromLegacyRefTargetForm normalizes removed/added commit ids read from a
// legacy on-disk representation.
func FromLegacyRefTargetForm(removes, adds []objectid.ID) RefTarget {
	toOpt := func(ids []objectid.ID) []OptionalCommitID {
		out := make([]OptionalCommitID, len(ids))
		for i, id := range ids {
			out[i] = Some(id)
		}
		return out
	}
	return RefTarget{conflict: FromLegacyForm(toOpt(removes), toOpt(adds), EqualOptionalCommitID)}
}

// AsNormal returns the id this target points to, if it is non-conflicting
// and present.
func (rt RefTarget) AsNormal() (objectid.ID, bool) {
	v, ok := rt.conflict.AsResolved()
	if !ok || !v.Present {
		return nil, false
	}
	return v.ID, true
}

// IsAbsent reports whether this target is the non-conflicting "no commit"
// value.
func (rt RefTarget) IsAbsent() bool {
	v, ok := rt.conflict.AsResolved()
	return ok && !v.Present
}

// IsPresent is the negation of IsAbsent: a conflicted target is always
// "present" since it has at least one commit id among its adds.
func (rt RefTarget) IsPresent() bool {
	return !rt.IsAbsent()
}

// HasConflict reports whether this target has more than one add.
func (rt RefTarget) HasConflict() bool {
	return !rt.conflict.IsResolved()
}

// RemovedIDs returns the present commit ids among the conflict's removes.
func (rt RefTarget) RemovedIDs() []objectid.ID {
	var out []objectid.ID
	for _, v := range rt.conflict.Removes {
		if v.Present {
			out = append(out, v.ID)
		}
	}
	return out
}

// AddedIDs returns the present commit ids among the conflict's adds.
func (rt RefTarget) AddedIDs() []objectid.ID {
	var out []objectid.ID
	for _, v := range rt.conflict.Adds {
		if v.Present {
			out = append(out, v.ID)
		}
	}
	return out
}

// AsConflict exposes the underlying conflict value.
func (rt RefTarget) AsConflict() Conflict[OptionalCommitID] {
	return rt.conflict
}

// Simplify cancels matching ids between removes and adds.
func (rt RefTarget) Simplify() RefTarget {
	return RefTarget{conflict: Simplify(rt.conflict, EqualOptionalCommitID)}
}

// Equal compares two targets structurally: same removes/adds in order.
// Callers that need set semantics should simplify both targets first.
func (rt RefTarget) Equal(other RefTarget) bool {
	if len(rt.conflict.Removes) != len(other.conflict.Removes) ||
		len(rt.conflict.Adds) != len(other.conflict.Adds) {
		return false
	}
	for i := range rt.conflict.Removes {
		if !EqualOptionalCommitID(rt.conflict.Removes[i], other.conflict.Removes[i]) {
			return false
		}
	}
	for i := range rt.conflict.Adds {
		if !EqualOptionalCommitID(rt.conflict.Adds[i], other.conflict.Adds[i]) {
			return false
		}
	}
	return true
}
