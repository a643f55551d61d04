package repo_test

import (
	"testing"

	"github.com/sourcegraph/log"
	"github.com/sourcegraph/log/logtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	backendlocal "github.com/opdag/vcscore/backend/local"
	"github.com/opdag/vcscore/index"
	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/opheads"
	opstorelocal "github.com/opdag/vcscore/opstore/local"
	"github.com/opdag/vcscore/refconflict"
	"github.com/opdag/vcscore/repo"
	"github.com/opdag/vcscore/revset"
	"github.com/opdag/vcscore/view"
)

// harness bundles the stores a repo.ReadonlyRepo is opened against, so a
// test can Load a fresh handle at any point without threading five
// constructor arguments through every call site.
type harness struct {
	t        *testing.T
	dir      string
	be       *backendlocal.Backend
	ops      *opstorelocal.OpStore
	heads    *opheads.Store
	ix       *index.Store
	settings repo.UserSettings
	logger   log.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := logtest.Scoped(t)
	be, err := backendlocal.New(dir, logger)
	require.NoError(t, err)
	ops, err := opstorelocal.New(dir, logger)
	require.NoError(t, err)
	heads, err := opheads.New(dir, logger)
	require.NoError(t, err)
	ix, err := index.NewStore(dir, logger, be, ops)
	require.NoError(t, err)
	return &harness{
		t:     t,
		dir:   dir,
		be:    be,
		ops:   ops,
		heads: heads,
		ix:    ix,
		settings: repo.UserSettings{
			Name: "Test User", Email: "test@example.com",
			Hostname: "test-host", Username: "test",
		},
		logger: logger,
	}
}

func (h *harness) init() *repo.ReadonlyRepo {
	h.t.Helper()
	r, err := repo.Init(h.dir, h.be, h.ops, h.heads, h.ix, h.settings, h.logger)
	require.NoError(h.t, err)
	return r
}

func (h *harness) load() *repo.ReadonlyRepo {
	h.t.Helper()
	r, err := repo.Load(h.dir, h.be, h.ops, h.heads, h.ix, h.settings, h.logger)
	require.NoError(h.t, err)
	return r
}

func TestInitOpensRootOperationWithEmptyView(t *testing.T) {
	h := newHarness(t)
	r := h.init()
	assert.Empty(t, r.View().HeadIDs)
	assert.Empty(t, r.View().LocalBranches)
	assert.NotEmpty(t, r.OperationID())
}

// TestTransactionCommitRoundTrip: a single linear commit written and read
// back through a fresh Load.
func TestTransactionCommitRoundTrip(t *testing.T) {
	h := newHarness(t)
	r := h.init()

	tx := r.StartTransaction("describe initial commit")
	aID, err := tx.MutRepo().
		NewCommit([]objectid.ID{r.Backend().RootCommitID()}, r.Backend().EmptyTreeID()).
		SetDescription("initial").
		Write()
	require.NoError(t, err)
	tx.MutRepo().SetLocalBranch("main", refconflict.Normal(aID))

	r2, err := tx.Finish("")
	require.NoError(t, err)

	assert.Contains(t, r2.View().HeadIDs, aID.Hex())
	target, ok := r2.View().LocalBranches["main"].AsNormal()
	require.True(t, ok)
	assert.True(t, target.Equal(aID))
	assert.True(t, r2.Index().HasID(aID))

	// A fresh Load sees exactly the same state.
	r3 := h.load()
	assert.True(t, r3.OperationID().Equal(r2.OperationID()))
	assert.Contains(t, r3.View().HeadIDs, aID.Hex())
}

// TestConcurrentTransactionsMergeViaFinish exercises the race where two
// transactions both start from the same operation; the second to finish
// observes the first's op head and folds it in via Finish's own merge
// step, leaving a single op head behind.
func TestConcurrentTransactionsMergeViaFinish(t *testing.T) {
	h := newHarness(t)
	r1 := h.init()

	txA := r1.StartTransaction("branch a")
	aID, err := txA.MutRepo().
		NewCommit([]objectid.ID{r1.Backend().RootCommitID()}, r1.Backend().EmptyTreeID()).
		SetDescription("a").
		Write()
	require.NoError(t, err)
	txA.MutRepo().SetLocalBranch("a", refconflict.Normal(aID))
	_, err = txA.Finish("")
	require.NoError(t, err)

	txB := r1.StartTransaction("branch b")
	bID, err := txB.MutRepo().
		NewCommit([]objectid.ID{r1.Backend().RootCommitID()}, r1.Backend().EmptyTreeID()).
		SetDescription("b").
		Write()
	require.NoError(t, err)
	txB.MutRepo().SetLocalBranch("b", refconflict.Normal(bID))
	r2b, err := txB.Finish("")
	require.NoError(t, err)

	assert.Contains(t, r2b.View().HeadIDs, aID.Hex())
	assert.Contains(t, r2b.View().HeadIDs, bID.Hex())
	assert.Contains(t, r2b.View().LocalBranches, "a")
	assert.Contains(t, r2b.View().LocalBranches, "b")

	remaining, err := h.heads.GetOpHeads()
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestForgetBranchLeavesGitRefUntouched(t *testing.T) {
	h := newHarness(t)
	r := h.init()

	tx := r.StartTransaction("create main")
	aID, err := tx.MutRepo().
		NewCommit([]objectid.ID{r.Backend().RootCommitID()}, r.Backend().EmptyTreeID()).
		SetDescription("a").
		Write()
	require.NoError(t, err)
	tx.MutRepo().SetLocalBranch("main", refconflict.Normal(aID))
	tx.MutRepo().SetGitRef("refs/heads/main", refconflict.Normal(aID))
	r2, err := tx.Finish("")
	require.NoError(t, err)
	require.Contains(t, r2.View().LocalBranches, "main")
	require.Contains(t, r2.View().GitRefs, "refs/heads/main")

	tx2 := r2.StartTransaction("forget main")
	tx2.MutRepo().ForgetBranch("main")
	r3, err := tx2.Finish("")
	require.NoError(t, err)

	assert.NotContains(t, r3.View().LocalBranches, "main")
	gitTarget, ok := r3.View().GitRefs["refs/heads/main"].AsNormal()
	require.True(t, ok)
	assert.True(t, gitTarget.Equal(aID))
}

func TestCheckOutMovesWorkingCopyAndHeads(t *testing.T) {
	h := newHarness(t)
	r := h.init()

	tx := r.StartTransaction("checkout a")
	aID, err := tx.MutRepo().
		NewCommit([]objectid.ID{r.Backend().RootCommitID()}, r.Backend().EmptyTreeID()).
		SetDescription("a").
		Write()
	require.NoError(t, err)
	tx.MutRepo().CheckOut(view.DefaultWorkspaceID, aID)
	r2, err := tx.Finish("")
	require.NoError(t, err)

	wcA, ok := r2.View().WCCommitIDs[view.DefaultWorkspaceID].AsNormal()
	require.True(t, ok)
	assert.True(t, wcA.Equal(aID))
	assert.Contains(t, r2.View().HeadIDs, aID.Hex())

	tx2 := r2.StartTransaction("checkout b")
	bID, err := tx2.MutRepo().
		NewCommit([]objectid.ID{aID}, r.Backend().EmptyTreeID()).
		SetDescription("b").
		Write()
	require.NoError(t, err)
	tx2.MutRepo().CheckOut(view.DefaultWorkspaceID, bID)
	r3, err := tx2.Finish("")
	require.NoError(t, err)

	wcB, ok := r3.View().WCCommitIDs[view.DefaultWorkspaceID].AsNormal()
	require.True(t, ok)
	assert.True(t, wcB.Equal(bID))
	assert.NotContains(t, r3.View().HeadIDs, aID.Hex())
	assert.Contains(t, r3.View().HeadIDs, bID.Hex())
}

// TestUndoRestoresPreviousViewKeepingGitRefs: undoing the latest
// operation restores its parent's view, except git_refs/git_head, which
// stay at their current values; `@` afterwards resolves to the commit
// the earlier operation had checked out.
func TestUndoRestoresPreviousViewKeepingGitRefs(t *testing.T) {
	h := newHarness(t)
	r1 := h.init()

	tx1 := r1.StartTransaction("checkout a")
	aID, err := tx1.MutRepo().
		NewCommit([]objectid.ID{r1.Backend().RootCommitID()}, r1.Backend().EmptyTreeID()).
		SetDescription("a").
		Write()
	require.NoError(t, err)
	tx1.MutRepo().CheckOut(view.DefaultWorkspaceID, aID)
	r2, err := tx1.Finish("")
	require.NoError(t, err)

	tx2 := r2.StartTransaction("checkout b")
	bID, err := tx2.MutRepo().
		NewCommit([]objectid.ID{aID}, r2.Backend().EmptyTreeID()).
		SetDescription("b").
		Write()
	require.NoError(t, err)
	tx2.MutRepo().CheckOut(view.DefaultWorkspaceID, bID)
	tx2.MutRepo().SetGitRef("refs/heads/main", refconflict.Normal(bID))
	r3, err := tx2.Finish("")
	require.NoError(t, err)

	r4, err := r3.Undo(r3.OperationID())
	require.NoError(t, err)

	wc, ok := r4.View().WCCommitIDs[view.DefaultWorkspaceID].AsNormal()
	require.True(t, ok)
	assert.True(t, wc.Equal(aID))

	// git_refs are preserved from the current view, not rewound.
	gitTarget, ok := r4.View().GitRefs["refs/heads/main"].AsNormal()
	require.True(t, ok)
	assert.True(t, gitTarget.Equal(bID))

	v := r4.View()
	ev := revset.NewEvaluator(r4.Index(), &v, r4.Backend())
	got, err := revset.Evaluate("@", nil, ev, &revset.ViewResolver{
		View:      &v,
		Index:     r4.Index(),
		RootID:    r4.Backend().RootCommitID(),
		Workspace: view.DefaultWorkspaceID,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(aID))
}

func TestAbandonFinishesWithoutWritingAnOperation(t *testing.T) {
	h := newHarness(t)
	r := h.init()

	before, err := h.heads.GetOpHeads()
	require.NoError(t, err)

	tx := r.StartTransaction("discarded")
	_, err = tx.MutRepo().
		NewCommit([]objectid.ID{r.Backend().RootCommitID()}, r.Backend().EmptyTreeID()).
		SetDescription("never committed").
		Write()
	require.NoError(t, err)
	tx.Abandon()

	after, err := h.heads.GetOpHeads()
	require.NoError(t, err)
	assert.ElementsMatch(t, before, after)
}
