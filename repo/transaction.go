package repo

import (
	"time"

	"github.com/sourcegraph/sourcegraph/lib/errors"

	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/opstore"
)

// Transaction is the handle a caller mutates and then finishes: it owns
// a MutableRepo (copy-on-write view + mutable index overlay) and knows
// which operation it started from, so Finish can detect and merge any op
// heads that appeared concurrently.
type Transaction struct {
	repo        *ReadonlyRepo
	mut         *MutableRepo
	description string
	startTime   time.Time
	finished    bool
}

// MutRepo returns the mutable repo this transaction edits: all
// CommitBuilder and view-mutation calls go through it.
func (tx *Transaction) MutRepo() *MutableRepo { return tx.mut }

// BaseOperationID is the operation this transaction's edits are relative
// to: the parent of the operation Finish will write, absent a
// concurrent merge.
func (tx *Transaction) BaseOperationID() objectid.ID { return tx.repo.opID }

func (tx *Transaction) start() time.Time {
	if tx.startTime.IsZero() {
		tx.startTime = time.Now().UTC()
	}
	return tx.startTime
}

// Finish snapshots the transaction's view, writes it and a new Operation
// recording it (merging in any operations that were committed
// concurrently by another process since this transaction started), and
// atomically advances OpHeadsStore. description overrides the description
// passed to StartTransaction if non-empty.
//
// Callers that recorded rewrites via MutRepo().RecordRewrittenCommit /
// RecordAbandonedCommit must call rewrite.RebaseDescendants(tx, ...)
// before Finish: the rebase pass lives in a separate package (rewrite)
// that depends on repo, not the reverse, so it cannot be invoked
// implicitly from here.
func (tx *Transaction) Finish(description string) (*ReadonlyRepo, error) {
	if tx.finished {
		return nil, errors.New("transaction already finished")
	}
	desc := tx.description
	if description != "" {
		desc = description
	}
	start := tx.start()
	end := time.Now().UTC()
	meta := opstore.OperationMetadata{
		StartTime:   start,
		EndTime:     end,
		Description: desc,
		Hostname:    tx.repo.settings.Hostname,
		Username:    tx.repo.settings.Username,
		Tags:        map[string]string{},
	}
	opID, mergedView, err := tx.repo.engine.Finish(tx.repo.opID, tx.mut.view, meta)
	if err != nil {
		return nil, errors.Wrap(err, "finishing transaction")
	}
	tx.finished = true
	return load(tx.repo.dir, tx.repo.backend, tx.repo.opStore, tx.repo.opHeads, tx.repo.indexStore, tx.repo.engine, tx.repo.settings, tx.repo.logger, opID, mergedView)
}

// Abandon discards the transaction without writing anything: no
// operation is recorded and no op head changes. Commits already written
// through the backend stay on disk but remain unreachable from any view.
func (tx *Transaction) Abandon() {
	tx.finished = true
}
