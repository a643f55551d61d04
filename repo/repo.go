// Package repo implements the repository/transaction layer: loading the
// (operation, view, index, store) tuple a caller observes, and starting
// mutable transactions that produce new operations.
package repo

import (
	"github.com/sourcegraph/log"
	"github.com/sourcegraph/sourcegraph/lib/errors"

	"github.com/opdag/vcscore/backend"
	"github.com/opdag/vcscore/index"
	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/opheads"
	"github.com/opdag/vcscore/oplog"
	"github.com/opdag/vcscore/opstore"
	"github.com/opdag/vcscore/view"
)

// UserSettings supplies the identity fields stamped onto new commits
// (author/committer) and operations (hostname/username). Configuration
// loading happens outside this module; only already-resolved values
// arrive here.
type UserSettings struct {
	Name     string
	Email    string
	Hostname string
	Username string
}

// ReadonlyRepo is a repo handle fixed to one operation: the operation id,
// its view, and the commit index as of that operation. It is safe to
// share across goroutines for reads; mutation always goes through a
// Transaction, which operates on its own copy-on-write view.
type ReadonlyRepo struct {
	dir        string
	backend    backend.Backend
	opStore    opstore.OpStore
	opHeads    opheads.OpHeadsStore
	indexStore *index.Store
	engine     *oplog.Engine
	settings   UserSettings
	logger     log.Logger

	opID  objectid.ID
	view  view.View
	index *index.Index
}

// Load resolves the current op head (merging concurrent heads if more
// than one is found) and opens the repo as of that operation.
func Load(dir string, be backend.Backend, ops opstore.OpStore, heads opheads.OpHeadsStore, idxStore *index.Store, settings UserSettings, logger log.Logger) (*ReadonlyRepo, error) {
	engine := oplog.New(ops, heads, idxStore)
	opID, v, err := engine.Head()
	if err != nil {
		return nil, errors.Wrap(err, "resolving current operation")
	}
	return load(dir, be, ops, heads, idxStore, engine, settings, logger, opID, v)
}

// Init writes the root operation (no parents, empty view) and opens the
// repo at it. Callers creating a brand-new repository call this once;
// subsequent processes call Load.
func Init(dir string, be backend.Backend, ops opstore.OpStore, heads opheads.OpHeadsStore, idxStore *index.Store, settings UserSettings, logger log.Logger) (*ReadonlyRepo, error) {
	if _, err := oplog.InitRoot(ops, heads); err != nil {
		return nil, errors.Wrap(err, "initializing root operation")
	}
	return Load(dir, be, ops, heads, idxStore, settings, logger)
}

// AtOperation opens the repo as of a specific, already-known operation
// id, bypassing head resolution. Op-log and time-travel callers build on
// this.
func AtOperation(dir string, be backend.Backend, ops opstore.OpStore, heads opheads.OpHeadsStore, idxStore *index.Store, settings UserSettings, logger log.Logger, opID objectid.ID) (*ReadonlyRepo, error) {
	engine := oplog.New(ops, heads, idxStore)
	op, err := ops.ReadOperation(opID)
	if err != nil {
		return nil, errors.Wrapf(err, "reading operation %s", opID.Hex())
	}
	v, err := ops.ReadView(op.ViewID)
	if err != nil {
		return nil, errors.Wrapf(err, "reading view %s", op.ViewID.Hex())
	}
	return load(dir, be, ops, heads, idxStore, engine, settings, logger, opID, v)
}

func load(dir string, be backend.Backend, ops opstore.OpStore, heads opheads.OpHeadsStore, idxStore *index.Store, engine *oplog.Engine, settings UserSettings, logger log.Logger, opID objectid.ID, v view.View) (*ReadonlyRepo, error) {
	idx, err := idxStore.Open(opID)
	if err != nil {
		return nil, errors.Wrapf(err, "opening index at operation %s", opID.Hex())
	}
	return &ReadonlyRepo{
		dir:        dir,
		backend:    be,
		opStore:    ops,
		opHeads:    heads,
		indexStore: idxStore,
		engine:     engine,
		settings:   settings,
		logger:     logger.Scoped("repo", "readonly repo handle"),
		opID:       opID,
		view:       v,
		index:      idx,
	}, nil
}

// OperationID is the operation this handle is fixed to.
func (r *ReadonlyRepo) OperationID() objectid.ID { return r.opID }

// View returns the observable repo state as of OperationID.
func (r *ReadonlyRepo) View() view.View { return r.view }

// Index is the commit index as of OperationID.
func (r *ReadonlyRepo) Index() *index.Index { return r.index }

// Backend is the ObjectStore this repo reads commits/trees/files through.
func (r *ReadonlyRepo) Backend() backend.Backend { return r.backend }

// Settings returns the identity this repo stamps onto new commits/ops.
func (r *ReadonlyRepo) Settings() UserSettings { return r.settings }

// Dir is the repository root this handle was opened against.
func (r *ReadonlyRepo) Dir() string { return r.dir }

// StartTransaction begins a mutable transaction atop this repo's view:
// the returned Transaction holds a copy-on-write clone of View and a
// mutable index overlay stacked on Index, so edits made through it never
// affect this ReadonlyRepo or any other concurrent reader.
func (r *ReadonlyRepo) StartTransaction(description string) *Transaction {
	tail := index.NewSegment(r.index.Top())
	return &Transaction{
		repo:        r,
		description: description,
		mut: &MutableRepo{
			backend:   r.backend,
			settings:  r.settings,
			view:      r.view.Clone(),
			tail:      tail,
			index:     index.New(tail),
			rewritten: map[string][]objectid.ID{},
			abandoned: map[string]bool{},
		},
	}
}
