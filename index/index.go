// Package index implements the commit index: a layered stack of
// immutable segments plus an optional mutable tail, answering ancestry
// and prefix-resolution queries in roughly constant or logarithmic time
// without walking the backend.
package index

import (
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/opdag/vcscore/objectid"
)

// Position is a dense integer assigned to a commit when it is added to
// the index, in insertion order; positions are never reused.
type Position uint32

type commitRecord struct {
	commitID   objectid.ID
	changeID   objectid.ID
	generation uint32
	parents    []Position // may reference a lower segment or this one.
}

// Segment stores a contiguous range of positions starting at Base. The
// commits slice holds only this segment's own records; ancestor segments
// are reached through Parent.
type Segment struct {
	Parent *Segment
	Base   Position
	Name   string // the content-hash file name this segment is (or will be) stored under.

	commits []commitRecord

	// Secondary lookup structures: sorted-by-commit-id and
	// sorted-by-change-id index arrays into commits, maintained
	// incrementally by AddCommit.
	byCommitID []int
	byChangeID []int
}

// NewRootSegment creates an empty base segment with no parent.
func NewRootSegment() *Segment {
	return newSegment(nil)
}

// NewSegment creates an empty segment stacked on top of parent.
func NewSegment(parent *Segment) *Segment {
	return newSegment(parent)
}

func newSegment(parent *Segment) *Segment {
	base := Position(0)
	if parent != nil {
		base = parent.Base + Position(len(parent.commits))
	}
	return &Segment{Parent: parent, Base: base}
}

// length is the total number of positions covered by this segment and
// everything beneath it.
func (s *Segment) length() Position {
	if s == nil {
		return 0
	}
	return s.Base + Position(len(s.commits))
}

// AddCommit assigns the next position to a new commit. parentPositions
// must already be resolved: the caller is responsible for adding parents
// first (Store.Open adds commits in reverse topological order precisely
// to guarantee this).
func (s *Segment) AddCommit(commitID, changeID objectid.ID, parentPositions []Position) Position {
	gen := uint32(0)
	for _, p := range parentPositions {
		if g := s.generationOf(p); g+1 > gen {
			gen = g + 1
		}
	}
	pos := s.Base + Position(len(s.commits))
	idx := len(s.commits)
	s.commits = append(s.commits, commitRecord{commitID: commitID, changeID: changeID, generation: gen, parents: parentPositions})
	s.insertSorted(idx)
	return pos
}

func (s *Segment) insertSorted(idx int) {
	rec := s.commits[idx]
	ci := sort.Search(len(s.byCommitID), func(i int) bool {
		return s.commits[s.byCommitID[i]].commitID.Hex() >= rec.commitID.Hex()
	})
	s.byCommitID = append(s.byCommitID, 0)
	copy(s.byCommitID[ci+1:], s.byCommitID[ci:])
	s.byCommitID[ci] = idx

	hi := sort.Search(len(s.byChangeID), func(i int) bool {
		return s.commits[s.byChangeID[i]].changeID.Hex() >= rec.changeID.Hex()
	})
	s.byChangeID = append(s.byChangeID, 0)
	copy(s.byChangeID[hi+1:], s.byChangeID[hi:])
	s.byChangeID[hi] = idx
}

func (s *Segment) recordAt(pos Position) (commitRecord, bool) {
	for seg := s; seg != nil; seg = seg.Parent {
		if pos >= seg.Base {
			idx := int(pos - seg.Base)
			if idx < len(seg.commits) {
				return seg.commits[idx], true
			}
			return commitRecord{}, false
		}
	}
	return commitRecord{}, false
}

func (s *Segment) generationOf(pos Position) uint32 {
	rec, ok := s.recordAt(pos)
	if !ok {
		return 0
	}
	return rec.generation
}

// Index answers ancestry and lookup queries over a Segment stack. The
// zero value is not usable; construct with New or via Store.Open.
type Index struct {
	top *Segment
}

// New wraps top (the newest segment, or the mutable tail if one is being
// built) as a queryable Index.
func New(top *Segment) *Index {
	return &Index{top: top}
}

// Len is the number of positions assigned in this index.
func (ix *Index) Len() Position {
	return ix.top.length()
}

// Top returns the newest segment backing this index, so a caller (the
// repo package's MutableRepo, building a mutable index overlay for a
// transaction) can stack a new mutable tail segment on top of it.
func (ix *Index) Top() *Segment {
	return ix.top
}

func (ix *Index) positionOf(id objectid.ID) (Position, bool) {
	for seg := ix.top; seg != nil; seg = seg.Parent {
		if lo := sort.Search(len(seg.byCommitID), func(i int) bool {
			return seg.commits[seg.byCommitID[i]].commitID.Hex() >= id.Hex()
		}); lo < len(seg.byCommitID) && seg.commits[seg.byCommitID[lo]].commitID.Equal(id) {
			return seg.Base + Position(seg.byCommitID[lo]), true
		}
	}
	return 0, false
}

// HasID reports whether id has been observed by this index.
func (ix *Index) HasID(id objectid.ID) bool {
	_, ok := ix.positionOf(id)
	return ok
}

// PositionOf returns id's position in this index.
func (ix *Index) PositionOf(id objectid.ID) (Position, bool) {
	return ix.positionOf(id)
}

// ParentsOfPosition returns the parent positions recorded for pos.
func (ix *Index) ParentsOfPosition(pos Position) []Position {
	rec, ok := ix.top.recordAt(pos)
	if !ok {
		return nil
	}
	return rec.parents
}

// GenerationOfPosition returns 0 for the root, else 1+max(parent
// generations).
func (ix *Index) GenerationOfPosition(pos Position) uint32 {
	return ix.top.generationOf(pos)
}

func (ix *Index) commitIDAt(pos Position) objectid.ID {
	rec, _ := ix.top.recordAt(pos)
	return rec.commitID
}

// CommitIDAt returns the commit id stored at pos, the public counterpart
// of commitIDAt for callers (e.g. the revset evaluator) outside this
// package that only have a Position from PositionOf/ParentsOfPosition.
func (ix *Index) CommitIDAt(pos Position) objectid.ID {
	return ix.commitIDAt(pos)
}

func (ix *Index) changeIDAt(pos Position) objectid.ID {
	rec, _ := ix.top.recordAt(pos)
	return rec.changeID
}

// IsAncestor reports whether a is an ancestor of (or equal to) b,
// satisfying refconflict.AncestryIndex. Quickly false when
// gen(a) >= gen(b); otherwise a bounded BFS over b's ancestors stopping
// once generation falls below gen(a).
func (ix *Index) IsAncestor(a, b objectid.ID) bool {
	pa, aok := ix.positionOf(a)
	pb, bok := ix.positionOf(b)
	if !aok || !bok {
		return false
	}
	return ix.isAncestorPos(pa, pb)
}

func (ix *Index) isAncestorPos(a, b Position) bool {
	if a == b {
		return true
	}
	genA := ix.GenerationOfPosition(a)
	if genA >= ix.GenerationOfPosition(b) {
		return false
	}
	seen := map[Position]bool{b: true}
	queue := []Position{b}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range ix.ParentsOfPosition(cur) {
			if p == a {
				return true
			}
			if seen[p] || ix.GenerationOfPosition(p) < genA {
				continue
			}
			seen[p] = true
			queue = append(queue, p)
		}
	}
	return false
}

// ancestorsBitset computes the position-keyed bitset of every strict and
// non-strict ancestor reachable from heads.
func (ix *Index) ancestorsBitset(heads []Position) *roaring.Bitmap {
	bm := roaring.NewBitmap()
	queue := append([]Position(nil), heads...)
	for len(queue) > 0 {
		cur := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if bm.Contains(uint32(cur)) {
			continue
		}
		bm.Add(uint32(cur))
		queue = append(queue, ix.ParentsOfPosition(cur)...)
	}
	return bm
}

func (ix *Index) positionsOf(ids []objectid.ID) []Position {
	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		if p, ok := ix.positionOf(id); ok {
			out = append(out, p)
		}
	}
	return out
}

// CommonAncestors computes heads(ancestors(A) ∩ ancestors(B)).
func (ix *Index) CommonAncestors(a, b []objectid.ID) []objectid.ID {
	bmA := ix.ancestorsBitset(ix.positionsOf(a))
	bmB := ix.ancestorsBitset(ix.positionsOf(b))
	common := roaring.And(bmA, bmB)
	positions := make([]Position, 0, common.GetCardinality())
	it := common.Iterator()
	for it.HasNext() {
		positions = append(positions, Position(it.Next()))
	}
	return ix.idsOf(ix.headsOfPositions(positions))
}

func (ix *Index) idsOf(positions []Position) []objectid.ID {
	out := make([]objectid.ID, len(positions))
	for i, p := range positions {
		out[i] = ix.commitIDAt(p)
	}
	return out
}

// headsOfPositions removes any position that is a strict ancestor of
// another: sort by generation descending, sweep with an ancestor-reach
// frontier.
func (ix *Index) headsOfPositions(positions []Position) []Position {
	sorted := append([]Position(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool {
		return ix.GenerationOfPosition(sorted[i]) > ix.GenerationOfPosition(sorted[j])
	})
	reachable := roaring.NewBitmap()
	var heads []Position
	for _, p := range sorted {
		if reachable.Contains(uint32(p)) {
			continue
		}
		heads = append(heads, p)
		for _, anc := range ix.ancestorsBitset([]Position{p}).ToArray() {
			reachable.Add(anc)
		}
	}
	return heads
}

// HeadsOfSet removes any element of ids that is a strict ancestor of
// another element.
func (ix *Index) HeadsOfSet(ids []objectid.ID) []objectid.ID {
	return ix.idsOf(ix.headsOfPositions(ix.positionsOf(ids)))
}

// rootsOfPositions removes any position that is a strict descendant of
// another, the dual of headsOfPositions used to implement the revset
// roots() function: sweeping by generation ascending and tracking each
// surviving root's descendant reach.
func (ix *Index) rootsOfPositions(positions []Position) []Position {
	sorted := append([]Position(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool {
		return ix.GenerationOfPosition(sorted[i]) < ix.GenerationOfPosition(sorted[j])
	})
	set := map[Position]bool{}
	for _, p := range positions {
		set[p] = true
	}
	descended := roaring.NewBitmap()
	var roots []Position
	for _, p := range sorted {
		if descended.Contains(uint32(p)) {
			continue
		}
		roots = append(roots, p)
		for _, d := range ix.Descendants([]objectid.ID{ix.commitIDAt(p)}) {
			if dp, ok := ix.positionOf(d); ok {
				descended.Add(uint32(dp))
			}
		}
	}
	return roots
}

// RootsOfSet removes any element of ids that is a strict descendant of
// another element of ids, the dual of HeadsOfSet.
func (ix *Index) RootsOfSet(ids []objectid.ID) []objectid.ID {
	return ix.idsOf(ix.rootsOfPositions(ix.positionsOf(ids)))
}

// WalkRevs yields commit ids reachable from wanted but not from unwanted,
// in reverse topological order (children before parents).
func (ix *Index) WalkRevs(wanted, unwanted []objectid.ID) []objectid.ID {
	excluded := ix.ancestorsBitset(ix.positionsOf(unwanted))
	wantedPositions := ix.positionsOf(wanted)

	visited := roaring.NewBitmap()
	var order []Position
	var visit func(p Position)
	visit = func(p Position) {
		if visited.Contains(uint32(p)) || excluded.Contains(uint32(p)) {
			return
		}
		visited.Add(uint32(p))
		for _, parent := range ix.ParentsOfPosition(p) {
			visit(parent)
		}
		order = append(order, p)
	}
	for _, p := range wantedPositions {
		visit(p)
	}
	// visit() appends parents-before-children (post-order); reverse for
	// children-before-parents.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return ix.idsOf(order)
}

// AllIDs returns every commit id currently in the index, order
// unspecified. Used to implement the revset `all()` function.
func (ix *Index) AllIDs() []objectid.ID {
	n := ix.Len()
	out := make([]objectid.ID, 0, n)
	for pos := Position(0); pos < n; pos++ {
		out = append(out, ix.commitIDAt(pos))
	}
	return out
}

// Ancestors returns every commit reachable from ids by following parent
// edges, ids themselves included, order unspecified. Used by the revset
// evaluator to implement `ancestors(x)` and the `::`/`..` range
// operators.
func (ix *Index) Ancestors(ids []objectid.ID) []objectid.ID {
	bm := ix.ancestorsBitset(ix.positionsOf(ids))
	positions := make([]Position, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		positions = append(positions, Position(it.Next()))
	}
	return ix.idsOf(positions)
}

// AncestorsWithin returns every commit reachable from ids by following
// parent edges at most depth steps (ids themselves count as depth 0),
// the bounded form behind `ancestors(x, depth)`.
func (ix *Index) AncestorsWithin(ids []objectid.ID, depth int) []objectid.ID {
	type frame struct {
		pos   Position
		steps int
	}
	seen := map[Position]bool{}
	var out []objectid.ID
	var queue []frame
	for _, p := range ix.positionsOf(ids) {
		queue = append(queue, frame{pos: p, steps: 0})
	}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if seen[f.pos] {
			continue
		}
		seen[f.pos] = true
		out = append(out, ix.commitIDAt(f.pos))
		if f.steps >= depth {
			continue
		}
		for _, parent := range ix.ParentsOfPosition(f.pos) {
			if !seen[parent] {
				queue = append(queue, frame{pos: parent, steps: f.steps + 1})
			}
		}
	}
	return out
}

// DescendantsWithin is the dual of AncestorsWithin, following child edges
// at most depth steps, behind `descendants(x, depth)`.
func (ix *Index) DescendantsWithin(ids []objectid.ID, depth int) []objectid.ID {
	children := ix.childrenAdjacency()
	type frame struct {
		pos   Position
		steps int
	}
	seen := map[Position]bool{}
	var out []objectid.ID
	var queue []frame
	for _, p := range ix.positionsOf(ids) {
		queue = append(queue, frame{pos: p, steps: 0})
	}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if seen[f.pos] {
			continue
		}
		seen[f.pos] = true
		out = append(out, ix.commitIDAt(f.pos))
		if f.steps >= depth {
			continue
		}
		for _, child := range children[f.pos] {
			if !seen[child] {
				queue = append(queue, frame{pos: child, steps: f.steps + 1})
			}
		}
	}
	return out
}

// childrenAdjacency builds a position -> children-positions map covering
// every commit currently in the index. Descendants has no cheaper way to
// answer "who has x as an ancestor" than inverting the parent edges once
// per call, since segments only store parent pointers.
func (ix *Index) childrenAdjacency() map[Position][]Position {
	children := map[Position][]Position{}
	n := ix.Len()
	for pos := Position(0); pos < n; pos++ {
		for _, parent := range ix.ParentsOfPosition(pos) {
			children[parent] = append(children[parent], pos)
		}
	}
	return children
}

// Descendants returns every commit reachable from ids by following child
// edges, ids themselves included, order unspecified.
func (ix *Index) Descendants(ids []objectid.ID) []objectid.ID {
	children := ix.childrenAdjacency()
	seen := roaring.NewBitmap()
	queue := append([]Position(nil), ix.positionsOf(ids)...)
	for len(queue) > 0 {
		cur := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if seen.Contains(uint32(cur)) {
			continue
		}
		seen.Add(uint32(cur))
		queue = append(queue, children[cur]...)
	}
	positions := make([]Position, 0, seen.GetCardinality())
	it := seen.Iterator()
	for it.HasNext() {
		positions = append(positions, Position(it.Next()))
	}
	return ix.idsOf(positions)
}

// Parents returns the immediate parent commit ids of every id in ids,
// deduplicated.
func (ix *Index) Parents(ids []objectid.ID) []objectid.ID {
	seen := map[string]bool{}
	var out []objectid.ID
	for _, id := range ids {
		pos, ok := ix.positionOf(id)
		if !ok {
			continue
		}
		for _, p := range ix.ParentsOfPosition(pos) {
			pid := ix.commitIDAt(p)
			if !seen[pid.Hex()] {
				seen[pid.Hex()] = true
				out = append(out, pid)
			}
		}
	}
	return out
}

// Children returns the immediate child commit ids of every id in ids,
// deduplicated.
func (ix *Index) Children(ids []objectid.ID) []objectid.ID {
	children := ix.childrenAdjacency()
	seen := map[string]bool{}
	var out []objectid.ID
	for _, id := range ids {
		pos, ok := ix.positionOf(id)
		if !ok {
			continue
		}
		for _, c := range children[pos] {
			cid := ix.commitIDAt(c)
			if !seen[cid.Hex()] {
				seen[cid.Hex()] = true
				out = append(out, cid)
			}
		}
	}
	return out
}
