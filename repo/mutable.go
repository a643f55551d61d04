package repo

import (
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/sourcegraph/lib/errors"

	"github.com/opdag/vcscore/backend"
	"github.com/opdag/vcscore/index"
	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/refconflict"
	"github.com/opdag/vcscore/view"
)

// MutableRepo holds the copy-on-write View clone and mutable index
// overlay a Transaction mutates. No other handle observes these edits
// until the transaction finishes and advertises a new operation through
// OpHeadsStore.
type MutableRepo struct {
	backend  backend.Backend
	settings UserSettings

	view view.View

	// tail is the mutable segment stacked on the base ReadonlyRepo's top
	// segment; index wraps it so commits created mid-transaction are
	// immediately visible to ancestry queries run against this handle.
	tail  *index.Segment
	index *index.Index

	// rewritten/abandoned accumulate the rewrite map across the whole
	// transaction: rewritten[old.Hex()] holds the replacement id(s)
	// recorded for old: one id for a clean rewrite, more than one when
	// old was abandoned and its parents themselves fan out. Entries are
	// stored as recorded, not chain-resolved: a replacement may itself
	// have an entry. RecordRewrittenCommit/RecordAbandonedCommit
	// seed these directly; the rewrite package's descendant-rebase pass
	// reads and extends them.
	rewritten map[string][]objectid.ID
	abandoned map[string]bool
}

// View exposes the mutable view for direct field edits. SetLocalBranch
// and friends go through it, but a caller with a narrower need (e.g.
// the rewrite package advancing refs after a rebase) may also read and
// write it directly.
func (mr *MutableRepo) View() *view.View { return &mr.view }

// Index is the mutable index overlay: every commit written through this
// MutableRepo so far, stacked on the transaction's base index.
func (mr *MutableRepo) Index() *index.Index { return mr.index }

// Backend is the ObjectStore commits/trees are read from and written to.
func (mr *MutableRepo) Backend() backend.Backend { return mr.backend }

// Settings returns the identity stamped onto commits built through this
// MutableRepo.
func (mr *MutableRepo) Settings() UserSettings { return mr.settings }

func (mr *MutableRepo) freshChangeID() objectid.ID {
	n := mr.backend.ChangeIDLength()
	buf := make([]byte, 0, n+16)
	for len(buf) < n {
		id := uuid.New()
		buf = append(buf, id[:]...)
	}
	return objectid.ID(buf[:n])
}

func (mr *MutableRepo) signature(now time.Time) backend.Signature {
	return backend.Signature{Name: mr.settings.Name, Email: mr.settings.Email, Timestamp: now}
}

// indexCommit records a freshly-written commit in the mutable index
// overlay so later queries in this transaction (including the next
// CommitBuilder's own parent lookups) see it.
func (mr *MutableRepo) indexCommit(id, changeID objectid.ID, parents []objectid.ID) {
	positions := make([]index.Position, 0, len(parents))
	for _, p := range parents {
		if pos, ok := mr.index.PositionOf(p); ok {
			positions = append(positions, pos)
		}
	}
	mr.tail.AddCommit(id, changeID, positions)
}

// addHead records a newly-written commit as a head and drops any of its
// parents that were previously heads: a commit with no children yet is a
// head, and once it gains a child, the parent no longer is.
func (mr *MutableRepo) addHead(id objectid.ID, parents []objectid.ID) {
	mr.view.HeadIDs[id.Hex()] = id
	for _, p := range parents {
		delete(mr.view.HeadIDs, p.Hex())
	}
}

// CommitBuilder incrementally assembles a backend.Commit before writing
// it: NewCommit/RewriteCommit seed it with settings-derived defaults,
// chained setters override individual fields, and Write() performs the
// actual backend write plus the head/index bookkeeping.
type CommitBuilder struct {
	mr     *MutableRepo
	commit backend.Commit
}

// NewCommit seeds a CommitBuilder for a brand-new logical change: a fresh
// change id, author/committer from settings, no predecessors.
func (mr *MutableRepo) NewCommit(parents []objectid.ID, treeID objectid.ID) *CommitBuilder {
	now := time.Now().UTC()
	sig := mr.signature(now)
	return &CommitBuilder{mr: mr, commit: backend.Commit{
		Parents:   append([]objectid.ID(nil), parents...),
		RootTree:  treeID,
		ChangeID:  mr.freshChangeID(),
		Author:    sig,
		Committer: sig,
	}}
}

// RewriteCommit seeds a CommitBuilder that inherits old's change id and
// records old's id as a predecessor. The committer identity is refreshed
// to settings/now; the author is preserved unless the caller overrides
// it, since rewriting a commit is not authoring new content.
func (mr *MutableRepo) RewriteCommit(oldID objectid.ID, old backend.Commit) *CommitBuilder {
	now := time.Now().UTC()
	c := old
	c.Predecessors = append(append([]objectid.ID(nil), old.Predecessors...), oldID)
	c.Committer = mr.signature(now)
	return &CommitBuilder{mr: mr, commit: c}
}

// DuplicateCommit seeds a CommitBuilder for a new, independent logical
// change that starts from old's content: unlike RewriteCommit, it gets a
// fresh change id (it is a new commit, not a new version of the same
// one), but old.id() is still recorded as its sole predecessor so obslog-
// style history can trace where it came from.
func (mr *MutableRepo) DuplicateCommit(oldID objectid.ID, old backend.Commit) *CommitBuilder {
	now := time.Now().UTC()
	sig := mr.signature(now)
	c := old
	c.ChangeID = mr.freshChangeID()
	c.Predecessors = []objectid.ID{oldID}
	c.Author = sig
	c.Committer = sig
	return &CommitBuilder{mr: mr, commit: c}
}

func (b *CommitBuilder) SetParents(parents []objectid.ID) *CommitBuilder {
	b.commit.Parents = append([]objectid.ID(nil), parents...)
	return b
}

func (b *CommitBuilder) SetTree(treeID objectid.ID) *CommitBuilder {
	b.commit.RootTree = treeID
	return b
}

func (b *CommitBuilder) SetChangeID(id objectid.ID) *CommitBuilder {
	b.commit.ChangeID = id
	return b
}

func (b *CommitBuilder) SetDescription(description string) *CommitBuilder {
	b.commit.Description = description
	return b
}

func (b *CommitBuilder) SetAuthor(sig backend.Signature) *CommitBuilder {
	b.commit.Author = sig
	return b
}

func (b *CommitBuilder) SetCommitter(sig backend.Signature) *CommitBuilder {
	b.commit.Committer = sig
	return b
}

func (b *CommitBuilder) SetPredecessors(ids []objectid.ID) *CommitBuilder {
	b.commit.Predecessors = append([]objectid.ID(nil), ids...)
	return b
}

func (b *CommitBuilder) Parents() []objectid.ID { return b.commit.Parents }
func (b *CommitBuilder) TreeID() objectid.ID     { return b.commit.RootTree }
func (b *CommitBuilder) ChangeID() objectid.ID   { return b.commit.ChangeID }

// Write commits the built commit to the backend and performs the head
// bookkeeping: the new id becomes a head, and any parent that was a head
// is no longer one.
func (b *CommitBuilder) Write() (objectid.ID, error) {
	id, err := b.mr.backend.WriteCommit(b.commit)
	if err != nil {
		return nil, errors.Wrap(err, "writing commit")
	}
	b.mr.indexCommit(id, b.commit.ChangeID, b.commit.Parents)
	b.mr.addHead(id, b.commit.Parents)
	return id, nil
}

// SetLocalBranch sets branch name's RefTarget.
func (mr *MutableRepo) SetLocalBranch(name string, target refconflict.RefTarget) {
	mr.view.LocalBranches[name] = target
}

// RemoveLocalBranch deletes branch name entirely.
func (mr *MutableRepo) RemoveLocalBranch(name string) {
	delete(mr.view.LocalBranches, name)
}

// ForgetBranch removes the local branch but intentionally leaves any
// git_refs entry of the same name untouched, to avoid resurrecting the
// branch from the git-tracking ref in a colocated repo.
func (mr *MutableRepo) ForgetBranch(name string) {
	delete(mr.view.LocalBranches, name)
}

// SetRemoteBranch sets remote's tracked branch name.
func (mr *MutableRepo) SetRemoteBranch(remote, name string, target refconflict.RefTarget) {
	rv := mr.view.RemoteViews[remote]
	if rv.Branches == nil {
		rv.Branches = map[string]refconflict.RefTarget{}
	}
	rv.Branches[name] = target
	mr.view.RemoteViews[remote] = rv
}

// RemoveRemoteBranch deletes remote's tracked branch name.
func (mr *MutableRepo) RemoveRemoteBranch(remote, name string) {
	rv, ok := mr.view.RemoteViews[remote]
	if !ok {
		return
	}
	delete(rv.Branches, name)
	mr.view.RemoteViews[remote] = rv
}

// SetRemoteTag sets remote's tracked tag name.
func (mr *MutableRepo) SetRemoteTag(remote, name string, target refconflict.RefTarget) {
	rv := mr.view.RemoteViews[remote]
	if rv.Tags == nil {
		rv.Tags = map[string]refconflict.RefTarget{}
	}
	rv.Tags[name] = target
	mr.view.RemoteViews[remote] = rv
}

// SetTag sets tag name's RefTarget.
func (mr *MutableRepo) SetTag(name string, target refconflict.RefTarget) {
	mr.view.Tags[name] = target
}

// RemoveTag deletes tag name.
func (mr *MutableRepo) RemoveTag(name string) {
	delete(mr.view.Tags, name)
}

// SetGitRef sets a git ref's RefTarget.
func (mr *MutableRepo) SetGitRef(fullname string, target refconflict.RefTarget) {
	mr.view.GitRefs[fullname] = target
}

// RemoveGitRef deletes a git ref.
func (mr *MutableRepo) RemoveGitRef(fullname string) {
	delete(mr.view.GitRefs, fullname)
}

// SetGitHead sets the colocated git HEAD target.
func (mr *MutableRepo) SetGitHead(target refconflict.RefTarget) {
	mr.view.GitHead = target
}

// SetWCCommit associates workspace ws with commit id.
func (mr *MutableRepo) SetWCCommit(ws view.WorkspaceID, id objectid.ID) {
	mr.view.WCCommitIDs[ws] = refconflict.Normal(id)
}

// RemoveWorkspace forgets workspace ws entirely.
func (mr *MutableRepo) RemoveWorkspace(ws view.WorkspaceID) {
	delete(mr.view.WCCommitIDs, ws)
}

// CheckOut moves workspace ws's working-copy commit to commit: the old
// wc commit is detached from HeadIDs and the new one is added.
func (mr *MutableRepo) CheckOut(ws view.WorkspaceID, commit objectid.ID) {
	if old, ok := mr.view.WCCommitIDs[ws]; ok {
		if oldID, ok := old.AsNormal(); ok {
			delete(mr.view.HeadIDs, oldID.Hex())
		}
	}
	mr.view.HeadIDs[commit.Hex()] = commit
	mr.view.WCCommitIDs[ws] = refconflict.Normal(commit)
}

// AddToTopic adds commit id to the named topic's commit set.
func (mr *MutableRepo) AddToTopic(name string, id objectid.ID) {
	set, ok := mr.view.Topics[name]
	if !ok {
		set = map[string]objectid.ID{}
		mr.view.Topics[name] = set
	}
	set[id.Hex()] = id
}

// RemoveFromTopic removes commit id from the named topic's commit set,
// deleting the topic entirely once it is empty.
func (mr *MutableRepo) RemoveFromTopic(name string, id objectid.ID) {
	set, ok := mr.view.Topics[name]
	if !ok {
		return
	}
	delete(set, id.Hex())
	if len(set) == 0 {
		delete(mr.view.Topics, name)
	}
}

// ReplaceView swaps the transaction's whole view for v (cloned, so the
// caller's copy stays independent). Used by time-travel operations (op
// undo/restore) that reconstruct a view from an earlier operation rather
// than editing the current one field by field.
func (mr *MutableRepo) ReplaceView(v view.View) {
	mr.view = v.Clone()
}

// RecordRewrittenCommit records that old has been superseded by
// replacement, seeding the rewrite map the rewrite package's
// RebaseDescendants consumes.
func (mr *MutableRepo) RecordRewrittenCommit(old, replacement objectid.ID) {
	mr.rewritten[old.Hex()] = []objectid.ID{replacement}
}

// RecordAbandonedCommit records that id has been abandoned outright:
// descendants will be rebased onto id's own (already-simplified) parents
// rather than a single successor.
func (mr *MutableRepo) RecordAbandonedCommit(id objectid.ID, replacementParents []objectid.ID) {
	mr.abandoned[id.Hex()] = true
	mr.rewritten[id.Hex()] = append([]objectid.ID(nil), replacementParents...)
}

// Rewrites exposes the accumulated old->new(s) map for the rewrite
// package to read and extend; returned map is live, not a copy, since
// RebaseDescendants is expected to append to it as it resolves each
// descendant in topological order.
func (mr *MutableRepo) Rewrites() map[string][]objectid.ID { return mr.rewritten }

// Abandoned exposes the accumulated set of outright-abandoned commit ids.
func (mr *MutableRepo) Abandoned() map[string]bool { return mr.abandoned }
