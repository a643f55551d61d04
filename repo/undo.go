package repo

import (
	"github.com/sourcegraph/sourcegraph/lib/errors"

	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/refconflict"
)

// Undo writes a new operation whose view is the state before opID ran:
// the view of opID's parent, with the current git_refs and git_head kept
// as-is. Keeping the git-tracking state current (rather than rewinding it
// too) avoids re-importing refs a colocated git repo has already moved
// past, the same reasoning as ForgetBranch leaving git_refs untouched.
//
// Undoing a merge operation (more than one parent) is rejected: there is
// no single "before" view to restore.
func (r *ReadonlyRepo) Undo(opID objectid.ID) (*ReadonlyRepo, error) {
	op, err := r.opStore.ReadOperation(opID)
	if err != nil {
		return nil, errors.Wrapf(err, "reading operation %s", opID.Hex())
	}
	if len(op.Parents) != 1 {
		return nil, errors.Newf("cannot undo operation %s with %d parents", opID.Hex(), len(op.Parents))
	}
	parentOp, err := r.opStore.ReadOperation(op.Parents[0])
	if err != nil {
		return nil, errors.Wrapf(err, "reading operation %s", op.Parents[0].Hex())
	}
	restored, err := r.opStore.ReadView(parentOp.ViewID)
	if err != nil {
		return nil, errors.Wrapf(err, "reading view %s", parentOp.ViewID.Hex())
	}

	restored = restored.Clone()
	restored.GitRefs = make(map[string]refconflict.RefTarget, len(r.view.GitRefs))
	for name, rt := range r.view.GitRefs {
		restored.GitRefs[name] = rt
	}
	restored.GitHead = r.view.GitHead

	tx := r.StartTransaction("undo operation " + opID.Hex())
	tx.MutRepo().ReplaceView(restored)
	return tx.Finish("")
}
