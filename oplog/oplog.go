// Package oplog implements the operation engine: appending operations,
// resolving concurrent op heads by merging their views, and walking the
// operation DAG.
package oplog

import (
	"container/heap"
	"sort"
	"time"

	"github.com/sourcegraph/sourcegraph/lib/errors"

	"github.com/opdag/vcscore/index"
	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/opheads"
	"github.com/opdag/vcscore/opstore"
	"github.com/opdag/vcscore/view"
)

// Engine drives the operation log on top of an OpStore (content-addressed
// views/operations), an OpHeadsStore (the one mutable shared resource),
// and an index.Store (to answer the commit ancestry queries a view merge
// needs for ref-target simplification).
type Engine struct {
	ops   opstore.OpStore
	heads opheads.OpHeadsStore
	index *index.Store
}

// New returns an Engine over the given stores.
func New(ops opstore.OpStore, heads opheads.OpHeadsStore, idx *index.Store) *Engine {
	return &Engine{ops: ops, heads: heads, index: idx}
}

// InitRoot writes the root operation (no parents, referencing an empty
// view) and marks it the sole op head. Called once when a repository is
// first created.
func InitRoot(ops opstore.OpStore, heads opheads.OpHeadsStore) (objectid.ID, error) {
	viewID, err := ops.WriteView(view.New())
	if err != nil {
		return nil, errors.Wrap(err, "writing root view")
	}
	op := opstore.Operation{ViewID: viewID, Metadata: opstore.OperationMetadata{Description: "initialize repo"}}
	opID, err := ops.WriteOperation(op)
	if err != nil {
		return nil, errors.Wrap(err, "writing root operation")
	}
	if err := heads.AddOpHead(opID); err != nil {
		return nil, errors.Wrap(err, "adding root op head")
	}
	return opID, nil
}

// Head resolves the op log to a single current operation: heads that are
// ancestors of another head are dropped first; if more than one real head
// remains, their views are merged and the merge result is persisted as a
// new operation so the next caller again sees a single head.
func (e *Engine) Head() (objectid.ID, view.View, error) {
	raw, err := e.heads.GetOpHeads()
	if err != nil {
		return nil, view.View{}, err
	}
	if len(raw) == 0 {
		return nil, view.View{}, errors.New("op log: no op heads")
	}
	real, err := e.reduceToHeads(raw)
	if err != nil {
		return nil, view.View{}, err
	}
	if len(real) == 1 {
		v, err := e.viewOf(real[0])
		return real[0], v, err
	}
	return e.mergeHeads(real)
}

// Finish completes a transaction that started at baseOpID and produced
// newView. If no other op head has appeared since baseOpID, the new
// operation is a simple linear child of baseOpID. Otherwise the
// concurrently-discovered heads are merged into newView exactly as Head
// merges op heads, and the new operation gets one parent per surviving
// head (baseOpID plus every concurrent head), making it a merge operation
// in the same step that commits the transaction's own edits.
func (e *Engine) Finish(baseOpID objectid.ID, newView view.View, meta opstore.OperationMetadata) (objectid.ID, view.View, error) {
	currentHeads, err := e.heads.GetOpHeads()
	if err != nil {
		return nil, view.View{}, err
	}
	reducedCurrent, err := e.reduceToHeads(currentHeads)
	if err != nil {
		return nil, view.View{}, err
	}
	parents, err := e.reduceToHeads(append(append([]objectid.ID(nil), reducedCurrent...), baseOpID))
	if err != nil {
		return nil, view.View{}, err
	}
	hasBase := false
	var others []objectid.ID
	for _, p := range parents {
		if p.Hex() == baseOpID.Hex() {
			hasBase = true
			continue
		}
		others = append(others, p)
	}
	if !hasBase {
		// baseOpID was itself superseded by a concurrent op (any
		// operation written on top of it since this transaction
		// started); it must still anchor the transaction's own edits as
		// a parent.
		parents = append(parents, baseOpID)
	}

	merged := newView
	if len(others) > 0 {
		allIDs := append([]objectid.ID{baseOpID}, others...)
		base, err := e.commonBaseView(allIDs)
		if err != nil {
			return nil, view.View{}, err
		}
		idx, err := e.compositeIndex(allIDs)
		if err != nil {
			return nil, view.View{}, err
		}
		for _, o := range others {
			ov, err := e.viewOf(o)
			if err != nil {
				return nil, view.View{}, err
			}
			merged = view.Merge(idx, base, merged, ov)
		}
	}

	viewID, err := e.ops.WriteView(merged)
	if err != nil {
		return nil, view.View{}, errors.Wrap(err, "writing transaction view")
	}
	op := opstore.Operation{
		ViewID:   viewID,
		Parents:  parents,
		Metadata: meta,
	}
	opID, err := e.ops.WriteOperation(op)
	if err != nil {
		return nil, view.View{}, errors.Wrap(err, "writing transaction operation")
	}
	if err := e.heads.AddOpHead(opID); err != nil {
		return nil, view.View{}, errors.Wrap(err, "adding new op head")
	}
	for _, p := range parents {
		if err := e.heads.RemoveOpHead(p); err != nil {
			return nil, view.View{}, errors.Wrapf(err, "removing superseded op head %s", p.Hex())
		}
	}
	return opID, merged, nil
}

func (e *Engine) viewOf(opID objectid.ID) (view.View, error) {
	op, err := e.ops.ReadOperation(opID)
	if err != nil {
		return view.View{}, errors.Wrapf(err, "reading operation %s", opID.Hex())
	}
	v, err := e.ops.ReadView(op.ViewID)
	if err != nil {
		return view.View{}, errors.Wrapf(err, "reading view %s", op.ViewID.Hex())
	}
	return v, nil
}

// ancestorOpSet returns the set (including id itself) of every operation
// reachable by walking Operation.Parents from id, keyed by hex.
func (e *Engine) ancestorOpSet(id objectid.ID) (map[string]objectid.ID, error) {
	set := map[string]objectid.ID{}
	queue := []objectid.ID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		key := cur.Hex()
		if _, ok := set[key]; ok {
			continue
		}
		set[key] = cur
		op, err := e.ops.ReadOperation(cur)
		if err != nil {
			return nil, errors.Wrapf(err, "reading operation %s", cur.Hex())
		}
		queue = append(queue, op.Parents...)
	}
	return set, nil
}

// reduceToHeads drops every id that is a (strict) ancestor of another id
// in the same set, leaving the maximal elements under op-parent ancestry.
// Used both for op-head resolution and for finding the greatest common
// ancestor(s) of a set of operations.
func (e *Engine) reduceToHeads(ids []objectid.ID) ([]objectid.ID, error) {
	ancestorSets := make(map[string]map[string]objectid.ID, len(ids))
	for _, id := range ids {
		set, err := e.ancestorOpSet(id)
		if err != nil {
			return nil, err
		}
		ancestorSets[id.Hex()] = set
	}
	var heads []objectid.ID
	for _, id := range ids {
		dominated := false
		for _, other := range ids {
			if other.Hex() == id.Hex() {
				continue
			}
			if _, ok := ancestorSets[other.Hex()][id.Hex()]; ok {
				dominated = true
				break
			}
		}
		if !dominated {
			heads = append(heads, id)
		}
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i].Hex() < heads[j].Hex() })
	return dedupeIDs(heads), nil
}

func dedupeIDs(ids []objectid.ID) []objectid.ID {
	seen := map[string]bool{}
	out := make([]objectid.ID, 0, len(ids))
	for _, id := range ids {
		if seen[id.Hex()] {
			continue
		}
		seen[id.Hex()] = true
		out = append(out, id)
	}
	return out
}

// gcaOps computes the greatest common ancestor operation(s) of ids: the
// intersection of their ancestor sets, reduced to its maximal elements.
// More than one may remain; mergeViewsRecursive folds those recursively.
func (e *Engine) gcaOps(ids []objectid.ID) ([]objectid.ID, error) {
	var common map[string]objectid.ID
	for _, id := range ids {
		set, err := e.ancestorOpSet(id)
		if err != nil {
			return nil, err
		}
		if common == nil {
			common = set
			continue
		}
		for k := range common {
			if _, ok := set[k]; !ok {
				delete(common, k)
			}
		}
	}
	all := make([]objectid.ID, 0, len(common))
	for _, id := range common {
		all = append(all, id)
	}
	return e.reduceToHeads(all)
}

// compositeAncestryIndex answers IsAncestor across several per-operation
// commit indices: a view merge may need to compare commit ids that only
// one of the participating operations' indices actually covers.
type compositeAncestryIndex struct {
	indices []*index.Index
}

func (c compositeAncestryIndex) IsAncestor(a, b objectid.ID) bool {
	for _, ix := range c.indices {
		if ix.IsAncestor(a, b) {
			return true
		}
	}
	return false
}

func (e *Engine) compositeIndex(ids []objectid.ID) (compositeAncestryIndex, error) {
	out := compositeAncestryIndex{indices: make([]*index.Index, 0, len(ids))}
	for _, id := range ids {
		ix, err := e.index.Open(id)
		if err != nil {
			return compositeAncestryIndex{}, errors.Wrapf(err, "opening index at operation %s", id.Hex())
		}
		out.indices = append(out.indices, ix)
	}
	return out, nil
}

// mergeViewsRecursive folds ids' views into one, recursing on the common
// base when more than one GCA is found. It performs no writes; it is used
// both to compute the base view for an op-heads merge and, recursively,
// the base view for a multi-GCA merge.
func (e *Engine) mergeViewsRecursive(ids []objectid.ID) (view.View, error) {
	if len(ids) == 1 {
		return e.viewOf(ids[0])
	}
	base, err := e.commonBaseView(ids)
	if err != nil {
		return view.View{}, err
	}
	idx, err := e.compositeIndex(ids)
	if err != nil {
		return view.View{}, err
	}
	merged, err := e.viewOf(ids[0])
	if err != nil {
		return view.View{}, err
	}
	for _, id := range ids[1:] {
		v, err := e.viewOf(id)
		if err != nil {
			return view.View{}, err
		}
		merged = view.Merge(idx, base, merged, v)
	}
	return merged, nil
}

func (e *Engine) commonBaseView(ids []objectid.ID) (view.View, error) {
	gcaIDs, err := e.gcaOps(ids)
	if err != nil {
		return view.View{}, err
	}
	if len(gcaIDs) == 0 {
		return view.New(), nil
	}
	return e.mergeViewsRecursive(gcaIDs)
}

// mergeHeads performs the full op-merge over a reduced, already-
// dominance-free set of op heads: merge their views, write the merged
// view and a new merge operation, then add the new head and remove the
// superseded ones, in that order, so the head set never goes empty.
func (e *Engine) mergeHeads(heads []objectid.ID) (objectid.ID, view.View, error) {
	merged, err := e.mergeViewsRecursive(heads)
	if err != nil {
		return nil, view.View{}, err
	}

	viewID, err := e.ops.WriteView(merged)
	if err != nil {
		return nil, view.View{}, errors.Wrap(err, "writing merged view")
	}
	// The merge operation must be a pure function of the merged heads so
	// that two clients racing on the same pair write byte-identical
	// operations: its timestamp is the latest end time among the heads,
	// never the local clock.
	var latest time.Time
	for _, h := range heads {
		op, err := e.ops.ReadOperation(h)
		if err != nil {
			return nil, view.View{}, errors.Wrapf(err, "reading operation %s", h.Hex())
		}
		if op.Metadata.EndTime.After(latest) {
			latest = op.Metadata.EndTime
		}
	}
	op := opstore.Operation{
		ViewID:  viewID,
		Parents: append([]objectid.ID(nil), heads...),
		Metadata: opstore.OperationMetadata{
			StartTime:   latest,
			EndTime:     latest,
			Description: "merge operation",
		},
	}
	opID, err := e.ops.WriteOperation(op)
	if err != nil {
		return nil, view.View{}, errors.Wrap(err, "writing merge operation")
	}
	if err := e.heads.AddOpHead(opID); err != nil {
		return nil, view.View{}, errors.Wrap(err, "adding merged op head")
	}
	for _, h := range heads {
		if err := e.heads.RemoveOpHead(h); err != nil {
			return nil, view.View{}, errors.Wrapf(err, "removing superseded op head %s", h.Hex())
		}
	}
	return opID, merged, nil
}

type opHeapItem struct {
	id objectid.ID
	op opstore.Operation
}

type opHeap []opHeapItem

func (h opHeap) Len() int            { return len(h) }
func (h opHeap) Less(i, j int) bool  { return h[i].op.Metadata.EndTime.After(h[j].op.Metadata.EndTime) }
func (h opHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *opHeap) Push(x interface{}) { *h = append(*h, x.(opHeapItem)) }
func (h *opHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// WalkAncestors yields every operation reachable from heads exactly once,
// ordered by end time descending via a timestamp heap.
func (e *Engine) WalkAncestors(heads []objectid.ID) ([]objectid.ID, error) {
	h := &opHeap{}
	heap.Init(h)
	seen := map[string]bool{}
	push := func(id objectid.ID) error {
		if seen[id.Hex()] {
			return nil
		}
		seen[id.Hex()] = true
		op, err := e.ops.ReadOperation(id)
		if err != nil {
			return errors.Wrapf(err, "reading operation %s", id.Hex())
		}
		heap.Push(h, opHeapItem{id: id, op: op})
		return nil
	}
	for _, hd := range heads {
		if err := push(hd); err != nil {
			return nil, err
		}
	}
	var order []objectid.ID
	for h.Len() > 0 {
		item := heap.Pop(h).(opHeapItem)
		order = append(order, item.id)
		for _, p := range item.op.Parents {
			if err := push(p); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}
