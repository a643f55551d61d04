package rewrite

import (
	"github.com/sourcegraph/sourcegraph/lib/errors"

	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/repo"
)

// Duplicate creates a new, independent commit carrying id's tree,
// description and parents but a fresh change id: it does not touch id or
// any of its descendants, and does not need a RebaseDescendants pass of
// its own.
func Duplicate(tx *repo.Transaction, id objectid.ID) (objectid.ID, error) {
	mr := tx.MutRepo()
	c, err := mr.Backend().ReadCommit(id)
	if err != nil {
		return nil, errors.Wrapf(err, "reading commit %s", id.Hex())
	}
	newID, err := mr.DuplicateCommit(id, c).Write()
	if err != nil {
		return nil, errors.Wrapf(err, "duplicating commit %s", id.Hex())
	}
	return newID, nil
}

// Abandon records id as abandoned: its own parent list is simplified and
// recorded as the replacement for id, so a subsequent RebaseDescendants
// call moves every descendant of id onto id's parents instead, and any
// branch/wc pointing directly at id is advanced the same way. Abandon
// does not remove id from the backend (commits are immutable and only
// garbage-collected out of band); it only changes what's reachable from
// the view.
func Abandon(tx *repo.Transaction, id objectid.ID) error {
	mr := tx.MutRepo()
	c, err := mr.Backend().ReadCommit(id)
	if err != nil {
		return errors.Wrapf(err, "reading commit %s", id.Hex())
	}
	parents := SimplifyParents(mr.Index(), append([]objectid.ID(nil), c.Parents...))
	mr.RecordAbandonedCommit(id, parents)

	v := mr.View()
	if _, isHead := v.HeadIDs[id.Hex()]; isHead {
		delete(v.HeadIDs, id.Hex())
		for _, p := range parents {
			v.HeadIDs[p.Hex()] = p
		}
	}
	return nil
}
