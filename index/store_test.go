package index_test

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
	"github.com/opdag/vcscore/opstore"
	opstorelocal "github.com/opdag/vcscore/opstore/local"
	"github.com/opdag/vcscore/view"
)

type testRepo struct {
	t   *testing.T
	be  *backendlocal.Backend
	ops *opstorelocal.OpStore
	ix  *index.Store
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	logger := logtest.Scoped(t)
	be, err := backendlocal.New(dir, logger)
	require.NoError(t, err)
	ops, err := opstorelocal.New(dir, logger)
	require.NoError(t, err)
	ix, err := index.NewStore(dir, logger, be, ops)
	require.NoError(t, err)
	return &testRepo{t: t, be: be, ops: ops, ix: ix}
}

// padID zero-extends a short test id to the backend's configured change-id
// length, so the segment codec sees fixed-width ids like it would in a
// real repo.
func padID(id objectid.ID, n int) objectid.ID {
	out := make(objectid.ID, n)
	copy(out, id)
	return out
}

func (r *testRepo) writeCommit(changeID objectid.ID, parents ...objectid.ID) objectid.ID {
	r.t.Helper()
	id, err := r.be.WriteCommit(backend.Commit{
		Parents:  parents,
		RootTree: r.be.EmptyTreeID(),
		ChangeID: padID(changeID, r.be.ChangeIDLength()),
		Author:   backend.Signature{Name: "t", Email: "t@t", Timestamp: time.Unix(0, 0).UTC()},
		Committer: backend.Signature{
			Name: "t", Email: "t@t", Timestamp: time.Unix(0, 0).UTC(),
		},
	})
	require.NoError(r.t, err)
	return id
}

// writeOp writes a view with the given heads and an operation pointing at
// it (with the given parent operations), returning the new operation id.
func (r *testRepo) writeOp(heads []objectid.ID, parentOps ...objectid.ID) objectid.ID {
	r.t.Helper()
	v := view.New()
	for _, h := range heads {
		v.HeadIDs[h.Hex()] = h
	}
	viewID, err := r.ops.WriteView(v)
	require.NoError(r.t, err)
	opID, err := r.ops.WriteOperation(opstore.Operation{
		ViewID:  viewID,
		Parents: parentOps,
		Metadata: opstore.OperationMetadata{
			StartTime: time.Unix(0, 0).UTC(),
			EndTime:   time.Unix(0, 0).UTC(),
		},
	})
	require.NoError(r.t, err)
	return opID
}

func TestStoreOpenBuildsFreshIndex(t *testing.T) {
	r := newTestRepo(t)
	root := r.be.RootCommitID()
	a := r.writeCommit(id(t, "01"), root)
	b := r.writeCommit(id(t, "02"), a)
	op := r.writeOp([]objectid.ID{b})

	ix, err := r.ix.Open(op)
	require.NoError(t, err)
	assert.True(t, ix.IsAncestor(root, b))
	assert.True(t, ix.IsAncestor(a, b))
	assert.True(t, ix.HasID(a))
	assert.True(t, ix.HasID(b))
}

// TestStoreOpenReusesParentSegment builds an index at op1, then opens a
// descendant op2 and checks the new build only has to cover the commits
// op2 added, by confirming both old and new commits resolve correctly.
func TestStoreOpenReusesParentSegment(t *testing.T) {
	r := newTestRepo(t)
	root := r.be.RootCommitID()
	a := r.writeCommit(id(t, "01"), root)
	op1 := r.writeOp([]objectid.ID{a})
	_, err := r.ix.Open(op1)
	require.NoError(t, err)

	b := r.writeCommit(id(t, "02"), a)
	op2 := r.writeOp([]objectid.ID{b}, op1)

	ix2, err := r.ix.Open(op2)
	require.NoError(t, err)
	assert.True(t, ix2.IsAncestor(root, b))
	assert.True(t, ix2.IsAncestor(a, b))
}

func TestStoreOpenIsIdempotent(t *testing.T) {
	r := newTestRepo(t)
	root := r.be.RootCommitID()
	a := r.writeCommit(id(t, "01"), root)
	op := r.writeOp([]objectid.ID{a})

	ix1, err := r.ix.Open(op)
	require.NoError(t, err)
	ix2, err := r.ix.Open(op)
	require.NoError(t, err)
	assert.Equal(t, ix1.Len(), ix2.Len())
}
