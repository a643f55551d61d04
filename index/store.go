package index

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sourcegraph/log"
	"github.com/sourcegraph/sourcegraph/lib/errors"

	"github.com/opdag/vcscore/backend"
	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/opstore"
	"github.com/opdag/vcscore/view"
)

// segmentCacheSize bounds the number of decoded segments kept in memory
// at once; a segment is cheap to re-decode from disk, so this only needs
// to cover the working set of recently-opened operations.
const segmentCacheSize = 64

// Store builds and caches per-operation indexes on top of an object store
// (to walk commit parents) and an op store (to walk the operation DAG and
// read views).
type Store struct {
	root    string
	logger  log.Logger
	backend backend.Backend
	ops     opstore.OpStore

	cache *lru.Cache[string, *Segment]
}

// NewStore opens (creating if absent) an index store rooted at dir/index.
func NewStore(dir string, logger log.Logger, be backend.Backend, ops opstore.OpStore) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "index", "operations"), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating index/operations directory")
	}
	cache, err := lru.New[string, *Segment](segmentCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating segment cache")
	}
	return &Store{
		root:    dir,
		logger:  logger.Scoped("index-store", "commit index build & cache"),
		backend: be,
		ops:     ops,
		cache:   cache,
	}, nil
}

func (st *Store) segmentPath(name string) string {
	return filepath.Join(st.root, "index", name)
}

func (st *Store) opPointerPath(opID objectid.ID) string {
	return filepath.Join(st.root, "index", "operations", opID.Hex())
}

// loadSegment decodes the named segment file, recursively loading its
// parent chain, using the cache to avoid repeat work.
func (st *Store) loadSegment(name string) (*Segment, error) {
	if name == "" {
		return nil, nil
	}
	if cached, ok := st.cache.Get(name); ok {
		return cached, nil
	}
	data, err := os.ReadFile(st.segmentPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrCorruptSegment, "segment %s missing", name)
		}
		return nil, errors.Wrapf(err, "reading segment %s", name)
	}
	header := data
	if len(header) < 12 {
		return nil, errors.Wrapf(ErrCorruptSegment, "segment %s header truncated", name)
	}
	parentName, err := peekParentName(header)
	if err != nil {
		return nil, errors.Wrapf(err, "segment %s", name)
	}
	parent, err := st.loadSegment(parentName)
	if err != nil {
		return nil, err
	}
	seg, err := DecodeSegment(data, st.backend.CommitIDLength(), st.backend.ChangeIDLength(), parent)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding segment %s", name)
	}
	seg.Name = name
	st.cache.Add(name, seg)
	return seg, nil
}

func peekParentName(data []byte) (string, error) {
	nameLen := le32(data, 8)
	if 12+int(nameLen) > len(data) {
		return "", errors.Wrap(ErrCorruptSegment, "parent name truncated")
	}
	return string(data[12 : 12+int(nameLen)]), nil
}

func le32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

// readOpPointer returns the segment name associated with opID, and
// ok=false if no pointer file exists yet.
func (st *Store) readOpPointer(opID objectid.ID) (string, bool) {
	data, err := os.ReadFile(st.opPointerPath(opID))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// writeOpPointer associates opID with segmentName, best-effort: if a
// concurrent writer races, the loser's pointer is ignored because the
// segment content is the same.
func (st *Store) writeOpPointer(opID objectid.ID, segmentName string) error {
	dst := st.opPointerPath(opID)
	tmp, err := os.CreateTemp(filepath.Join(st.root, "index", "operations"), "tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating temp op pointer file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(segmentName); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "writing op pointer")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "closing op pointer temp file")
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "renaming op pointer into place")
	}
	return nil
}

// findAncestorSegment walks the operation DAG from opID (breadth-first
// over Operation.Parents) until it finds an operation with an existing
// index pointer. Returns a nil segment if the walk reaches the root
// operation without finding one.
func (st *Store) findAncestorSegment(opID objectid.ID) (*Segment, error) {
	visited := map[string]bool{}
	queue := []objectid.ID{opID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		key := cur.Hex()
		if visited[key] {
			continue
		}
		visited[key] = true
		if name, ok := st.readOpPointer(cur); ok {
			seg, err := st.loadSegment(name)
			if err != nil {
				return nil, err
			}
			return seg, nil
		}
		op, err := st.ops.ReadOperation(cur)
		if err != nil {
			return nil, errors.Wrapf(err, "reading operation %s", cur.Hex())
		}
		queue = append(queue, op.Parents...)
	}
	return nil, nil
}

// Open builds or loads the index as of operation opID: reuse the nearest
// ancestor operation's segment, then add only the commits this
// operation's view introduces on top of it.
func (st *Store) Open(opID objectid.ID) (*Index, error) {
	if name, ok := st.readOpPointer(opID); ok {
		seg, err := st.loadSegment(name)
		if err == nil {
			return New(seg), nil
		}
		if !errors.Is(err, ErrCorruptSegment) {
			return nil, err
		}
		st.logger.Warn("corrupt index segment, rebuilding", log.String("op", opID.Hex()))
		if rmErr := os.RemoveAll(filepath.Join(st.root, "index", "operations")); rmErr != nil {
			return nil, errors.Wrap(rmErr, "clearing index/operations for rebuild")
		}
		if mkErr := os.MkdirAll(filepath.Join(st.root, "index", "operations"), 0o755); mkErr != nil {
			return nil, errors.Wrap(mkErr, "recreating index/operations directory")
		}
		st.cache.Purge()
	}

	parentSeg, err := st.findAncestorSegment(opID)
	if err != nil {
		return nil, err
	}

	op, err := st.ops.ReadOperation(opID)
	if err != nil {
		return nil, errors.Wrapf(err, "reading operation %s", opID.Hex())
	}
	v, err := st.ops.ReadView(op.ViewID)
	if err != nil {
		return nil, errors.Wrapf(err, "reading view %s", op.ViewID.Hex())
	}

	base := New(parentSeg)
	order, err := st.newCommitsInTopoOrder(base, v.HeadIDs)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		if parentSeg == nil {
			parentSeg = NewRootSegment()
		}
		if err := st.writeOpPointer(opID, parentSeg.Name); err != nil {
			return nil, err
		}
		return New(parentSeg), nil
	}

	seg := NewSegment(parentSeg)
	positions := make(map[string]Position, len(order))
	for _, cid := range order {
		c, err := st.backend.ReadCommit(cid)
		if err != nil {
			return nil, errors.Wrapf(err, "reading commit %s", cid.Hex())
		}
		parentPositions := make([]Position, 0, len(c.Parents))
		for _, p := range c.Parents {
			if pos, ok := positions[p.Hex()]; ok {
				parentPositions = append(parentPositions, pos)
			} else if pos, ok := base.PositionOf(p); ok {
				parentPositions = append(parentPositions, pos)
			}
		}
		pos := seg.AddCommit(cid, c.ChangeID, parentPositions)
		positions[cid.Hex()] = pos
	}

	encoded := EncodeSegment(seg, st.backend.CommitIDLength(), st.backend.ChangeIDLength())
	name := strconv.FormatUint(xxhash.Sum64(encoded), 16)
	seg.Name = name

	if err := writeSegmentFile(st.segmentPath(name), encoded); err != nil {
		return nil, err
	}
	st.cache.Add(name, seg)

	if err := st.writeOpPointer(opID, name); err != nil {
		return nil, err
	}
	return New(seg), nil
}

// newCommitsInTopoOrder returns every commit reachable from headIDs that
// base does not already cover, ordered parents-before-children, by DFS
// over backend.ReadCommit.Parents. Heads are visited in sorted order so
// the resulting segment bytes (and hence the segment's content-hash
// name) are identical across racing writers.
func (st *Store) newCommitsInTopoOrder(base *Index, headIDs map[string]objectid.ID) ([]objectid.ID, error) {
	var order []objectid.ID
	visited := map[string]bool{}
	var visit func(id objectid.ID) error
	visit = func(id objectid.ID) error {
		key := id.Hex()
		if visited[key] || base.HasID(id) {
			return nil
		}
		visited[key] = true
		c, err := st.backend.ReadCommit(id)
		if err != nil {
			return errors.Wrapf(err, "reading commit %s", id.Hex())
		}
		for _, p := range c.Parents {
			if err := visit(p); err != nil {
				return err
			}
		}
		order = append(order, id)
		return nil
	}
	for _, head := range view.SortedHeadIDs(headIDs) {
		if err := visit(head); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func writeSegmentFile(dst string, data []byte) error {
	if _, err := os.Stat(dst); err == nil {
		return nil // content-addressed: identical bytes already present.
	}
	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating temp segment file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "writing segment data")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "closing temp segment file")
	}
	if err := os.Rename(tmpName, dst); err != nil && !os.IsExist(err) {
		os.Remove(tmpName)
		return errors.Wrap(err, "renaming segment into place")
	}
	return nil
}
