package rewrite

import (
	"github.com/sourcegraph/sourcegraph/lib/errors"

	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/repo"
)

// RebaseAfterMerge covers the cross-process race a single transaction
// can't see: two processes start transactions from the same operation,
// one rewrites a commit and the other builds a new descendant of the
// commit's old id, and neither sees the other's edit before finishing.
// Transaction.Finish still merges their views, but a view merge alone
// can't know "old" was superseded: that fact only exists as the
// rewritten commit's own Predecessors field, readable once both
// operations are visible in one index. RebaseAfterMerge scans every
// commit this transaction's index knows about for one recording a
// predecessor that is itself in the index, seeds
// MutRepo().RecordRewrittenCommit for each such pair and runs
// RebaseDescendants, so the new child's parent ends up the rewritten
// commit instead of the one it superseded.
//
// A predecessor with more than one live successor is a divergence: it is
// left alone rather than auto-resolved, since auto-picking one successor
// would silently discard the other.
func RebaseAfterMerge(tx *repo.Transaction, behavior EmptyBehaviour) error {
	mr := tx.MutRepo()
	idx := mr.Index()
	be := mr.Backend()

	successors := map[string][]objectid.ID{}
	for _, id := range idx.AllIDs() {
		c, err := be.ReadCommit(id)
		if err != nil {
			return errors.Wrapf(err, "reading commit %s", id.Hex())
		}
		for _, pred := range c.Predecessors {
			if idx.HasID(pred) {
				successors[pred.Hex()] = append(successors[pred.Hex()], id)
			}
		}
	}

	rewrites := mr.Rewrites()
	for oldHex, succs := range successors {
		if len(succs) != 1 {
			continue
		}
		if _, already := rewrites[oldHex]; already {
			continue
		}
		oldID, err := objectid.FromHex(oldHex)
		if err != nil {
			return errors.Wrap(err, "decoding commit id")
		}
		mr.RecordRewrittenCommit(oldID, succs[0])
	}

	return RebaseDescendants(tx, behavior)
}
