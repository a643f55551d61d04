// Package opheads implements the OpHeadsStore capability trait: the set
// of current operation-DAG heads, the one mutable shared resource in the
// system. It is a directory of zero-byte marker files, one per head.
package opheads

import (
	"os"
	"path/filepath"

	"github.com/sourcegraph/log"
	"github.com/sourcegraph/sourcegraph/lib/errors"

	"github.com/opdag/vcscore/objectid"
)

// OpHeadsStore tracks the current tips of the operation DAG.
type OpHeadsStore interface {
	AddOpHead(id objectid.ID) error
	RemoveOpHead(id objectid.ID) error
	GetOpHeads() ([]objectid.ID, error)
}

// Store is a disk-backed OpHeadsStore rooted at a repo's `op_heads/`
// directory. Add is `rename(tmp, heads/<id>)`, remove is
// `unlink(heads/<id>)`; concurrent writers that both add a head simply
// leave multiple head files behind, and the next reader observes >1 head
// and triggers an op merge. No locking is used or required.
type Store struct {
	root   string
	logger log.Logger
}

var _ OpHeadsStore = (*Store)(nil)

// New opens (creating if absent) an op-heads store rooted at dir/op_heads.
func New(dir string, logger log.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "op_heads", "heads"), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating op_heads/heads directory")
	}
	return &Store{root: dir, logger: logger.Scoped("op-heads-store", "mutable op-DAG head set")}, nil
}

func (s *Store) headPath(id objectid.ID) string {
	return filepath.Join(s.root, "op_heads", "heads", id.Hex())
}

// AddOpHead marks id as a current op-DAG head via temp-file-then-rename,
// matching the content-addressed-write idiom used elsewhere in the
// store, even though a head marker's content is empty: what's
// content-addressed here is the filename, not a payload.
func (s *Store) AddOpHead(id objectid.ID) error {
	dst := s.headPath(id)
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Join(s.root, "op_heads", "heads"), "tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp file for op head %s", id.Hex())
	}
	tmpName := tmp.Name()
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "closing temp file for op head %s", id.Hex())
	}
	if err := os.Rename(tmpName, dst); err != nil && !os.IsExist(err) {
		os.Remove(tmpName)
		return errors.Wrapf(err, "adding op head %s", id.Hex())
	}
	return nil
}

// RemoveOpHead unlinks id's marker file. Removing an already-removed head
// (e.g. a concurrent writer raced us) is not an error: the desired
// post-condition, that id is not a head, already holds.
func (s *Store) RemoveOpHead(id objectid.ID) error {
	if err := os.Remove(s.headPath(id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing op head %s", id.Hex())
	}
	return nil
}

// GetOpHeads lists every current head. The set may be temporarily
// non-minimal, since writers add the new head before removing the
// superseded ones; callers needing a single head must perform
// head-resolution/merge themselves.
func (s *Store) GetOpHeads() ([]objectid.ID, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "op_heads", "heads"))
	if err != nil {
		return nil, errors.Wrap(err, "reading op_heads/heads")
	}
	heads := make([]objectid.ID, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, err := objectid.FromHex(e.Name())
		if err != nil {
			continue // a stray tmp-* file from a crashed writer; ignore.
		}
		heads = append(heads, id)
	}
	return heads, nil
}
