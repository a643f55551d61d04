// Package rewrite implements descendant rebase, commit duplication,
// abandonment and parent-list simplification: the operations that keep a
// repo's visible commits consistent after the repo package's
// CommitBuilder.Write rewrites or abandons a commit mid-transaction.
//
// rewrite depends on repo (it drives a *repo.MutableRepo) and index (it
// walks descendants and ancestry through *index.Index); repo never
// imports rewrite, so callers that recorded rewrites via
// MutRepo().RecordRewrittenCommit/RecordAbandonedCommit must call
// RebaseDescendants themselves before Transaction.Finish.
package rewrite

import (
	"sort"

	"github.com/sourcegraph/sourcegraph/lib/errors"

	"github.com/opdag/vcscore/index"
	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/refconflict"
	"github.com/opdag/vcscore/repo"
)

// EmptyBehaviour controls what happens to a rebased commit that becomes a
// no-op change (its tree equals its sole parent's tree): kept as an empty
// commit or abandoned outright.
type EmptyBehaviour int

const (
	KeepEmpty EmptyBehaviour = iota
	AbandonNewlyEmpty
)

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

func sameIDs(a, b []objectid.ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// resolveParents maps each of parents through rewrites (old hex -> final
// replacement id(s)), flattening the fan-out an abandoned commit with
// several parents produces, and dedupes the result. A replacement that
// itself has an entry in rewrites (a commit rewritten twice, or an
// abandoned commit whose parent was rebased later in the same pass) is
// chased recursively to its final image.
func resolveParents(rewrites map[string][]objectid.ID, parents []objectid.ID) []objectid.ID {
	var out []objectid.ID
	for _, p := range parents {
		if repl, ok := rewrites[p.Hex()]; ok {
			out = append(out, resolveParents(rewrites, repl)...)
		} else {
			out = append(out, p)
		}
	}
	return dedupeIDs(out)
}

// SimplifyParents drops any parent that is an ancestor of another parent
// in the same list, using idx for the ancestry check.
// Exported so callers building parent lists outside a rebase (e.g. a
// manual merge-commit construction) can reuse the same rule.
func SimplifyParents(idx *index.Index, parents []objectid.ID) []objectid.ID {
	keep := make([]bool, len(parents))
	for i := range keep {
		keep[i] = true
	}
	for i := range parents {
		if !keep[i] {
			continue
		}
		for j := range parents {
			if i == j || !keep[j] {
				continue
			}
			if idx.IsAncestor(parents[i], parents[j]) {
				keep[i] = false
				break
			}
		}
	}
	out := make([]objectid.ID, 0, len(parents))
	for i, p := range parents {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

// RebaseDescendants runs the full descendant-rebase pass over every
// commit MutRepo().RecordRewrittenCommit/RecordAbandonedCommit has
// accumulated so far in tx: for each descendant of a rewritten/abandoned
// commit, not itself already one of the rewritten/abandoned commits, its
// parent list is remapped and simplified, a new commit is written if
// anything changed, and every branch/tag/git-ref/workspace pointing into
// the rewritten set is advanced to its final image.
func RebaseDescendants(tx *repo.Transaction, behavior EmptyBehaviour) error {
	mr := tx.MutRepo()
	rewrites := mr.Rewrites()
	if len(rewrites) == 0 {
		return nil
	}
	idx := mr.Index()
	be := mr.Backend()

	oldIDs := make([]objectid.ID, 0, len(rewrites))
	for hex := range rewrites {
		id, err := objectid.FromHex(hex)
		if err != nil {
			return errors.Wrap(err, "decoding rewritten commit id")
		}
		oldIDs = append(oldIDs, id)
	}

	descendants := idx.Descendants(oldIDs)
	var toRebase []objectid.ID
	for _, d := range descendants {
		if _, ok := rewrites[d.Hex()]; ok {
			continue // one of the rewritten/abandoned commits itself, not a descendant to move.
		}
		toRebase = append(toRebase, d)
	}
	sort.Slice(toRebase, func(i, j int) bool {
		pi, _ := idx.PositionOf(toRebase[i])
		pj, _ := idx.PositionOf(toRebase[j])
		return pi < pj
	})

	for _, cid := range toRebase {
		c, err := be.ReadCommit(cid)
		if err != nil {
			return errors.Wrapf(err, "reading commit %s", cid.Hex())
		}

		newParents := SimplifyParents(idx, resolveParents(rewrites, c.Parents))
		if sameIDs(newParents, c.Parents) {
			continue // parents (and, since we never touch it, the tree) unchanged: nothing to rewrite.
		}

		if behavior == AbandonNewlyEmpty && len(newParents) == 1 {
			parentCommit, err := be.ReadCommit(newParents[0])
			if err != nil {
				return errors.Wrapf(err, "reading commit %s", newParents[0].Hex())
			}
			if parentCommit.RootTree.Equal(c.RootTree) {
				mr.RecordAbandonedCommit(cid, newParents)
				continue
			}
		}

		newID, err := mr.RewriteCommit(cid, c).SetParents(newParents).Write()
		if err != nil {
			return errors.Wrapf(err, "rewriting commit %s", cid.Hex())
		}
		mr.RecordRewrittenCommit(cid, newID)
	}

	advanceRefs(mr, rewrites)
	advanceHeads(mr, rewrites)
	return nil
}

// advanceHeads is the HeadIDs/PublicHeadIDs half of the closing
// invariant: after a rebase, no head may point at a superseded id. Any
// old id that was itself a head is replaced by its final image(s).
// CommitBuilder.Write already dropped a rewritten commit's parents
// from HeadIDs when it gained a new child, but a rewritten commit that
// was a head in its own right (nothing else points at it as a parent) is
// only cleaned up here.
func advanceHeads(mr *repo.MutableRepo, rewrites map[string][]objectid.ID) {
	v := mr.View()
	for oldHex, repl := range rewrites {
		if _, ok := v.HeadIDs[oldHex]; ok {
			delete(v.HeadIDs, oldHex)
			for _, r := range resolveParents(rewrites, repl) {
				v.HeadIDs[r.Hex()] = r
			}
		}
		if _, ok := v.PublicHeadIDs[oldHex]; ok {
			delete(v.PublicHeadIDs, oldHex)
			for _, r := range resolveParents(rewrites, repl) {
				v.PublicHeadIDs[r.Hex()] = r
			}
		}
	}
}

func resolvedTarget(rewrites map[string][]objectid.ID, rt refconflict.RefTarget) (refconflict.RefTarget, bool) {
	id, ok := rt.AsNormal()
	if !ok {
		return rt, false
	}
	repl, ok := rewrites[id.Hex()]
	if !ok {
		return rt, false
	}
	repl = resolveParents(rewrites, repl)
	if len(repl) == 1 {
		return refconflict.Normal(repl[0]), true
	}
	removes := make([]objectid.ID, len(repl)-1)
	for i := range removes {
		removes[i] = id
	}
	return refconflict.FromLegacyRefTargetForm(removes, repl), true
}

// advanceRefs moves each branch/tag/git-ref/wc commit pointing into the
// rewritten set to its latest image. A ref whose old target was
// abandoned with more than one replacement parent becomes a conflicted
// ref, the same shape produced when two concurrent operations disagree
// about a ref's target.
func advanceRefs(mr *repo.MutableRepo, rewrites map[string][]objectid.ID) {
	v := mr.View()
	for name, rt := range v.LocalBranches {
		if merged, changed := resolvedTarget(rewrites, rt); changed {
			v.LocalBranches[name] = merged
		}
	}
	for name, rt := range v.Tags {
		if merged, changed := resolvedTarget(rewrites, rt); changed {
			v.Tags[name] = merged
		}
	}
	for name, rt := range v.GitRefs {
		if merged, changed := resolvedTarget(rewrites, rt); changed {
			v.GitRefs[name] = merged
		}
	}
	if merged, changed := resolvedTarget(rewrites, v.GitHead); changed {
		v.GitHead = merged
	}
	for remote, rv := range v.RemoteViews {
		for name, rt := range rv.Branches {
			if merged, changed := resolvedTarget(rewrites, rt); changed {
				rv.Branches[name] = merged
			}
		}
		for name, rt := range rv.Tags {
			if merged, changed := resolvedTarget(rewrites, rt); changed {
				rv.Tags[name] = merged
			}
		}
		v.RemoteViews[remote] = rv
	}
	for ws, rt := range v.WCCommitIDs {
		if merged, changed := resolvedTarget(rewrites, rt); changed {
			v.WCCommitIDs[ws] = merged
		}
	}
}
