package rewrite_test

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
	"github.com/opdag/vcscore/rewrite"
)

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

func soleHead(t *testing.T, heads map[string]objectid.ID) objectid.ID {
	t.Helper()
	require.Len(t, heads, 1)
	for _, id := range heads {
		return id
	}
	panic("unreachable")
}

// TestRebaseDescendantsMovesChildOntoRewrittenParent covers the core
// case: rewriting a commit's description in one transaction moves its
// existing child onto the new image once RebaseDescendants runs.
func TestRebaseDescendantsMovesChildOntoRewrittenParent(t *testing.T) {
	h := newHarness(t)
	r1 := h.init()

	tx0 := r1.StartTransaction("build a-b")
	aID, err := tx0.MutRepo().
		NewCommit([]objectid.ID{r1.Backend().RootCommitID()}, r1.Backend().EmptyTreeID()).
		SetDescription("initial").
		Write()
	require.NoError(t, err)
	bID, err := tx0.MutRepo().
		NewCommit([]objectid.ID{aID}, r1.Backend().EmptyTreeID()).
		SetDescription("child").
		Write()
	require.NoError(t, err)
	r2, err := tx0.Finish("")
	require.NoError(t, err)
	require.Contains(t, r2.View().HeadIDs, bID.Hex())

	tx := r2.StartTransaction("rewrite a")
	commitA, err := r2.Backend().ReadCommit(aID)
	require.NoError(t, err)
	newA, err := tx.MutRepo().RewriteCommit(aID, commitA).SetDescription("rewritten").Write()
	require.NoError(t, err)
	tx.MutRepo().RecordRewrittenCommit(aID, newA)
	require.NoError(t, rewrite.RebaseDescendants(tx, rewrite.KeepEmpty))
	r3, err := tx.Finish("")
	require.NoError(t, err)

	head := soleHead(t, r3.View().HeadIDs)
	headCommit, err := r3.Backend().ReadCommit(head)
	require.NoError(t, err)
	assert.Equal(t, "child", headCommit.Description)
	require.Len(t, headCommit.Parents, 1)
	assert.True(t, headCommit.Parents[0].Equal(newA))
	assert.NotContains(t, r3.View().HeadIDs, bID.Hex())
	assert.NotContains(t, r3.View().HeadIDs, aID.Hex())
}

// TestRebaseDescendantsAbandonMovesChildOntoParent covers abandoning a
// commit: its child is rewritten to point directly at its parent.
func TestRebaseDescendantsAbandonMovesChildOntoParent(t *testing.T) {
	h := newHarness(t)
	r1 := h.init()

	tx0 := r1.StartTransaction("build a-b")
	aID, err := tx0.MutRepo().
		NewCommit([]objectid.ID{r1.Backend().RootCommitID()}, r1.Backend().EmptyTreeID()).
		SetDescription("to abandon").
		Write()
	require.NoError(t, err)
	bID, err := tx0.MutRepo().
		NewCommit([]objectid.ID{aID}, r1.Backend().EmptyTreeID()).
		SetDescription("child").
		Write()
	require.NoError(t, err)
	r2, err := tx0.Finish("")
	require.NoError(t, err)

	tx := r2.StartTransaction("abandon a")
	require.NoError(t, rewrite.Abandon(tx, aID))
	require.NoError(t, rewrite.RebaseDescendants(tx, rewrite.KeepEmpty))
	r3, err := tx.Finish("")
	require.NoError(t, err)

	head := soleHead(t, r3.View().HeadIDs)
	headCommit, err := r3.Backend().ReadCommit(head)
	require.NoError(t, err)
	assert.Equal(t, "child", headCommit.Description)
	require.Len(t, headCommit.Parents, 1)
	assert.True(t, headCommit.Parents[0].Equal(r1.Backend().RootCommitID()))
	assert.NotContains(t, r3.View().HeadIDs, bID.Hex())
	assert.NotContains(t, r3.View().HeadIDs, aID.Hex())
}

func TestDuplicateCreatesIndependentCommitWithFreshChangeID(t *testing.T) {
	h := newHarness(t)
	r1 := h.init()

	tx0 := r1.StartTransaction("build a")
	aID, err := tx0.MutRepo().
		NewCommit([]objectid.ID{r1.Backend().RootCommitID()}, r1.Backend().EmptyTreeID()).
		SetDescription("original").
		Write()
	require.NoError(t, err)
	r2, err := tx0.Finish("")
	require.NoError(t, err)

	tx := r2.StartTransaction("duplicate a")
	dupID, err := rewrite.Duplicate(tx, aID)
	require.NoError(t, err)
	r3, err := tx.Finish("")
	require.NoError(t, err)

	assert.Contains(t, r3.View().HeadIDs, aID.Hex())
	assert.Contains(t, r3.View().HeadIDs, dupID.Hex())

	orig, err := r3.Backend().ReadCommit(aID)
	require.NoError(t, err)
	dup, err := r3.Backend().ReadCommit(dupID)
	require.NoError(t, err)
	assert.Equal(t, orig.Description, dup.Description)
	assert.False(t, dup.ChangeID.Equal(orig.ChangeID))
	require.Len(t, dup.Predecessors, 1)
	assert.True(t, dup.Predecessors[0].Equal(aID))
}

// TestRebaseAfterMergeAutoRebasesConcurrentChild: one
// transaction rewrites a commit's description while another, started from
// the same base and unaware of the first, creates a new child of the
// commit's old id. Neither transaction's own Finish can know about the
// other's edit in time to rebase anything; RebaseAfterMerge, run in a
// follow-up transaction once both are visible, moves the child onto the
// rewritten parent.
func TestRebaseAfterMergeAutoRebasesConcurrentChild(t *testing.T) {
	h := newHarness(t)
	r1 := h.init()

	txInit := r1.StartTransaction("initial")
	aID, err := txInit.MutRepo().
		NewCommit([]objectid.ID{r1.Backend().RootCommitID()}, r1.Backend().EmptyTreeID()).
		SetDescription("initial").
		Write()
	require.NoError(t, err)
	txInit.MutRepo().SetLocalBranch("main", refconflict.Normal(aID))
	r2, err := txInit.Finish("")
	require.NoError(t, err)

	// Transaction 1: rewrite the commit's description.
	tx1 := r2.StartTransaction("describe")
	commitA, err := r2.Backend().ReadCommit(aID)
	require.NoError(t, err)
	newA, err := tx1.MutRepo().RewriteCommit(aID, commitA).SetDescription("rewritten").Write()
	require.NoError(t, err)
	tx1.MutRepo().RecordRewrittenCommit(aID, newA)
	tx1.MutRepo().SetLocalBranch("main", refconflict.Normal(newA))
	require.NoError(t, rewrite.RebaseDescendants(tx1, rewrite.KeepEmpty))
	_, err = tx1.Finish("")
	require.NoError(t, err)

	// Transaction 2: based on the same r2, builds a new child of the
	// original (pre-rewrite) commit, unaware tx1 ever ran.
	tx2 := r2.StartTransaction("new child")
	bID, err := tx2.MutRepo().
		NewCommit([]objectid.ID{aID}, r2.Backend().EmptyTreeID()).
		SetDescription("new child").
		Write()
	require.NoError(t, err)
	r4, err := tx2.Finish("")
	require.NoError(t, err)

	// tx2's Finish already merged tx1's concurrently-written operation in,
	// but the merge alone leaves both the rewritten commit and the
	// original-parented child visible.
	require.Contains(t, r4.View().HeadIDs, bID.Hex())
	require.Contains(t, r4.View().HeadIDs, newA.Hex())
	mainTarget, ok := r4.View().LocalBranches["main"].AsNormal()
	require.True(t, ok)
	assert.True(t, mainTarget.Equal(newA))

	tx3 := r4.StartTransaction("auto-rebase")
	require.NoError(t, rewrite.RebaseAfterMerge(tx3, rewrite.KeepEmpty))
	r5, err := tx3.Finish("")
	require.NoError(t, err)

	head := soleHead(t, r5.View().HeadIDs)
	headCommit, err := r5.Backend().ReadCommit(head)
	require.NoError(t, err)
	assert.Equal(t, "new child", headCommit.Description)
	require.Len(t, headCommit.Parents, 1)
	assert.True(t, headCommit.Parents[0].Equal(newA))

	finalMain, ok := r5.View().LocalBranches["main"].AsNormal()
	require.True(t, ok)
	assert.True(t, finalMain.Equal(newA))
}
