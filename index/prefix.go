package index

import (
	"sort"

	"github.com/opdag/vcscore/objectid"
)

// hexGTE reports whether id's bytes are >= the prefix's minimum bytes,
// used to seed a binary search over a byte-sorted index.
func hexGTE(id objectid.ID, p objectid.HexPrefix) bool {
	min := p.MinPrefixBytes()
	for i := 0; i < len(min); i++ {
		if i >= len(id) {
			return false
		}
		if id[i] != min[i] {
			return id[i] > min[i]
		}
	}
	return true
}

// segmentCommitIDPrefix resolves p within a single segment's own commit
// ids, returning NoMatch/SingleMatch(position)/AmbiguousMatch.
func (s *Segment) segmentCommitIDPrefix(p objectid.HexPrefix) objectid.PrefixResolution[Position] {
	lo := sort.Search(len(s.byCommitID), func(i int) bool {
		return hexGTE(s.commits[s.byCommitID[i]].commitID, p)
	})
	var match Position
	found, ambiguous := false, false
	for i := lo; i < len(s.byCommitID); i++ {
		idx := s.byCommitID[i]
		if !p.Matches(s.commits[idx].commitID) {
			break
		}
		if found {
			ambiguous = true
			break
		}
		match = s.Base + Position(idx)
		found = true
	}
	switch {
	case ambiguous:
		return objectid.AmbiguousMatchResolution[Position]()
	case found:
		return objectid.SingleMatchResolution(match)
	default:
		return objectid.NoMatchResolution[Position]()
	}
}

// changeIDMatch is one segment's change-id prefix lookup: every commit in
// this segment whose change id starts with the prefix, grouped. A
// prefix can legitimately match many commits that all share one change
// (change ids are stable across rewrites, so one change often has
// several commit records), which is not ambiguous; it only becomes
// ambiguous when the matched commits span more than one distinct change
// id.
type changeIDMatch struct {
	changeID  objectid.ID
	positions []Position
	ambiguous bool
}

func (s *Segment) segmentChangeIDPrefix(p objectid.HexPrefix) (changeIDMatch, bool) {
	lo := sort.Search(len(s.byChangeID), func(i int) bool {
		return hexGTE(s.commits[s.byChangeID[i]].changeID, p)
	})
	var m changeIDMatch
	any := false
	for i := lo; i < len(s.byChangeID); i++ {
		idx := s.byChangeID[i]
		changeID := s.commits[idx].changeID
		if !p.Matches(changeID) {
			break
		}
		if !any {
			m.changeID = changeID
			any = true
		} else if !m.changeID.Equal(changeID) {
			m.ambiguous = true
		}
		m.positions = append(m.positions, s.Base+Position(idx))
	}
	return m, any
}

// ResolveCommitIDPrefix resolves a commit-id prefix across the whole
// stack: results from each segment are combined with objectid.Plus.
func (ix *Index) ResolveCommitIDPrefix(p objectid.HexPrefix) objectid.PrefixResolution[objectid.ID] {
	result := objectid.NoMatchResolution[objectid.ID]()
	for seg := ix.top; seg != nil; seg = seg.Parent {
		segResult := seg.segmentCommitIDPrefix(p)
		var asID objectid.PrefixResolution[objectid.ID]
		switch {
		case segResult.Kind() == objectid.AmbiguousMatch:
			asID = objectid.AmbiguousMatchResolution[objectid.ID]()
		default:
			if pos, ok := segResult.Value(); ok {
				asID = objectid.SingleMatchResolution(ix.commitIDAt(pos))
			} else {
				asID = objectid.NoMatchResolution[objectid.ID]()
			}
		}
		result = objectid.Plus(result, asID)
	}
	return result
}

// ResolveChangeIDPrefix resolves p against change ids, returning every
// commit sharing a matched change. Unlike ResolveCommitIDPrefix, this does not use
// objectid.Plus: that helper assumes two segments reporting SingleMatch
// always means two distinct ids, which holds for commit ids (one commit
// lives in exactly one segment) but not for change ids (one change's
// commits can legitimately be spread across segments), so matches for
// the same change id across segments are unioned instead of treated as
// ambiguous.
func (ix *Index) ResolveChangeIDPrefix(p objectid.HexPrefix) objectid.PrefixResolution[[]objectid.ID] {
	var acc changeIDMatch
	haveMatch := false
	ambiguous := false
	for seg := ix.top; seg != nil; seg = seg.Parent {
		m, ok := seg.segmentChangeIDPrefix(p)
		if !ok {
			continue
		}
		if m.ambiguous {
			ambiguous = true
			continue
		}
		if !haveMatch {
			acc = m
			haveMatch = true
			continue
		}
		if acc.changeID.Equal(m.changeID) {
			acc.positions = append(acc.positions, m.positions...)
		} else {
			ambiguous = true
		}
	}
	switch {
	case ambiguous:
		return objectid.AmbiguousMatchResolution[[]objectid.ID]()
	case haveMatch:
		return objectid.SingleMatchResolution(ix.idsOf(acc.positions))
	default:
		return objectid.NoMatchResolution[[]objectid.ID]()
	}
}
