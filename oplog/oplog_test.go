package oplog_test

import (
	"testing"
	"time"

	"github.com/sourcegraph/log/logtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opdag/vcscore/backend"
	backendlocal "github.com/opdag/vcscore/backend/local"
	"github.com/opdag/vcscore/index"
	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/opheads"
	"github.com/opdag/vcscore/oplog"
	"github.com/opdag/vcscore/opstore"
	opstorelocal "github.com/opdag/vcscore/opstore/local"
	"github.com/opdag/vcscore/refconflict"
	"github.com/opdag/vcscore/view"
)

func id(t *testing.T, hex string) objectid.ID {
	t.Helper()
	i, err := objectid.FromHex(hex)
	require.NoError(t, err)
	return i
}

type testRepo struct {
	t     *testing.T
	be    *backendlocal.Backend
	ops   *opstorelocal.OpStore
	heads *opheads.Store
	ix    *index.Store
	eng   *oplog.Engine
}

func newTestRepo(t *testing.T) *testRepo {
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
	eng := oplog.New(ops, heads, ix)
	return &testRepo{t: t, be: be, ops: ops, heads: heads, ix: ix, eng: eng}
}

// padID zero-extends a short test id to the backend's configured change-id
// length, matching the fixed-width ids a real repo produces.
func padID(id objectid.ID, n int) objectid.ID {
	out := make(objectid.ID, n)
	copy(out, id)
	return out
}

func (r *testRepo) writeCommit(changeID objectid.ID, parents ...objectid.ID) objectid.ID {
	r.t.Helper()
	cid, err := r.be.WriteCommit(backend.Commit{
		Parents:   parents,
		RootTree:  r.be.EmptyTreeID(),
		ChangeID:  padID(changeID, r.be.ChangeIDLength()),
		Author:    backend.Signature{Name: "t", Email: "t@t", Timestamp: time.Unix(0, 0).UTC()},
		Committer: backend.Signature{Name: "t", Email: "t@t", Timestamp: time.Unix(0, 0).UTC()},
	})
	require.NoError(r.t, err)
	return cid
}

// writeOp writes a view with the given local branches pointing at the
// given head, and an operation recording it with parentOps as parents at
// the given end time, returning the new operation id. It does not touch
// op_heads; tests manage that directly via r.heads.
func (r *testRepo) writeOp(branch string, head objectid.ID, endTime time.Time, parentOps ...objectid.ID) objectid.ID {
	r.t.Helper()
	v := view.New()
	v.HeadIDs[head.Hex()] = head
	v.LocalBranches[branch] = refconflict.Normal(head)
	viewID, err := r.ops.WriteView(v)
	require.NoError(r.t, err)
	opID, err := r.ops.WriteOperation(opstore.Operation{
		ViewID:  viewID,
		Parents: parentOps,
		Metadata: opstore.OperationMetadata{
			StartTime: endTime,
			EndTime:   endTime,
		},
	})
	require.NoError(r.t, err)
	return opID
}

func TestHeadSingleHeadReturnsItsView(t *testing.T) {
	r := newTestRepo(t)
	root := r.be.RootCommitID()
	a := r.writeCommit(id(t, "01"), root)
	op := r.writeOp("a", a, time.Unix(100, 0).UTC())
	require.NoError(t, r.heads.AddOpHead(op))

	gotID, gotView, err := r.eng.Head()
	require.NoError(t, err)
	assert.True(t, gotID.Equal(op))
	assert.Contains(t, gotView.HeadIDs, a.Hex())
}

// TestHeadMergesConcurrentHeads builds two operations that both descend
// from the same root op but advance different branches, registers both as
// op heads, and checks that Head() merges them into a single operation
// whose view contains both branches, leaving a single op head behind.
func TestHeadMergesConcurrentHeads(t *testing.T) {
	r := newTestRepo(t)
	root := r.be.RootCommitID()
	rootOp := r.writeOp("main", root, time.Unix(0, 0).UTC())

	a := r.writeCommit(id(t, "01"), root)
	b := r.writeCommit(id(t, "02"), root)
	opA := r.writeOp("a", a, time.Unix(100, 0).UTC(), rootOp)
	opB := r.writeOp("b", b, time.Unix(200, 0).UTC(), rootOp)
	require.NoError(t, r.heads.AddOpHead(opA))
	require.NoError(t, r.heads.AddOpHead(opB))

	mergedID, merged, err := r.eng.Head()
	require.NoError(t, err)
	assert.Contains(t, merged.LocalBranches, "a")
	assert.Contains(t, merged.LocalBranches, "b")
	assert.Contains(t, merged.HeadIDs, a.Hex())
	assert.Contains(t, merged.HeadIDs, b.Hex())

	remaining, err := r.heads.GetOpHeads()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.True(t, remaining[0].Equal(mergedID))
}

// TestHeadDropsDominatedHead checks that a head which is itself an
// ancestor (in the op DAG) of another head is dropped without triggering
// a merge.
func TestHeadDropsDominatedHead(t *testing.T) {
	r := newTestRepo(t)
	root := r.be.RootCommitID()
	opBase := r.writeOp("main", root, time.Unix(0, 0).UTC())
	a := r.writeCommit(id(t, "01"), root)
	opChild := r.writeOp("main", a, time.Unix(100, 0).UTC(), opBase)

	require.NoError(t, r.heads.AddOpHead(opBase))
	require.NoError(t, r.heads.AddOpHead(opChild))

	gotID, gotView, err := r.eng.Head()
	require.NoError(t, err)
	assert.True(t, gotID.Equal(opChild))
	assert.Contains(t, gotView.HeadIDs, a.Hex())
}

func TestWalkAncestorsOrdersByEndTimeDescending(t *testing.T) {
	r := newTestRepo(t)
	root := r.be.RootCommitID()
	op1 := r.writeOp("main", root, time.Unix(100, 0).UTC())
	a := r.writeCommit(id(t, "01"), root)
	op2 := r.writeOp("main", a, time.Unix(200, 0).UTC(), op1)

	order, err := r.eng.WalkAncestors([]objectid.ID{op2})
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.True(t, order[0].Equal(op2))
	assert.True(t, order[1].Equal(op1))
}
