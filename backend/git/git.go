// Package git implements backend.Backend on top of a real Git object
// database: 20-byte SHA-1 ids in the standard `type size\0content` loose
// object encoding, addressed with go-git's plumbing.Hash. This lets a
// repository built on this core share its object store with an ordinary
// `git` client (colocated repos).
package git

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1" //nolint:gosec // content-addressing scheme, not a security boundary
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/sourcegraph/log"
	"github.com/sourcegraph/sourcegraph/lib/errors"

	"github.com/opdag/vcscore/backend"
	"github.com/opdag/vcscore/objectid"
)

const hashLength = 20 // plumbing.Hash / SHA-1 digest length.

// objectKind tags the loose-object header, mirroring git's own "blob",
// "tree", "commit" kinds. Conflicts have no native git object type, so
// they're stored under a custom "conflict" kind; colocated repos never
// need to read a conflict object through plain git.
type objectKind string

const (
	kindBlob     objectKind = "blob"
	kindTree     objectKind = "tree"
	kindCommit   objectKind = "commit"
	kindConflict objectKind = "conflict"
)

// Backend is a Backend implementation storing objects as standard Git
// loose objects under <root>/objects.
type Backend struct {
	root   string
	logger log.Logger

	rootCommitID objectid.ID
	rootChangeID objectid.ID
	emptyTreeID  objectid.ID
}

var _ backend.Backend = (*Backend)(nil)

// New opens (creating if absent) a Git-object-compatible store rooted at
// dir/objects.
func New(dir string, logger log.Logger) (*Backend, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating objects directory")
	}
	b := &Backend{
		root:   dir,
		logger: logger.Scoped("git-backend", "git-object-compatible store"),
		// The all-zero SHA-1 is never a real git object, which makes it a
		// safe fixed id for the synthetic root commit.
		rootCommitID: make(objectid.ID, hashLength),
		rootChangeID: make(objectid.ID, hashLength),
	}
	emptyTreeID, err := b.WriteTree("", backend.Tree{})
	if err != nil {
		return nil, errors.Wrap(err, "writing empty tree")
	}
	b.emptyTreeID = emptyTreeID
	return b, nil
}

func hashToID(h plumbing.Hash) objectid.ID {
	b := make(objectid.ID, len(h))
	copy(b, h[:])
	return b
}

func idToHash(id objectid.ID) (plumbing.Hash, error) {
	var h plumbing.Hash
	if len(id) != hashLength {
		return h, errors.Wrapf(backend.ErrInvalidHashLength, "want %d bytes, got %d", hashLength, len(id))
	}
	copy(h[:], id)
	return h, nil
}

func (b *Backend) looseObjectPath(h plumbing.Hash) string {
	hex := h.String()
	return filepath.Join(b.root, "objects", hex[:2], hex[2:])
}

// writeLooseObject encodes data under git's loose-object framing
// (`"<kind> <len>\x00" + data`, zlib-deflated) and writes it via
// temp-file-then-rename, ignoring IsExist: the destination already holds
// identical bytes since the name is the content hash.
func (b *Backend) writeLooseObject(kind objectKind, data []byte) (objectid.ID, error) {
	header := fmt.Sprintf("%s %d\x00", kind, len(data))
	full := append([]byte(header), data...)
	sum := sha1.Sum(full) //nolint:gosec
	h := plumbing.Hash(sum)

	dst := b.looseObjectPath(h)
	if _, err := os.Stat(dst); err == nil {
		return hashToID(h), nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, errors.Wrapf(backend.ErrWriteObject, "mkdir for %s object %s: %s", kind, h, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "tmp-*")
	if err != nil {
		return nil, errors.Wrapf(backend.ErrWriteObject, "creating temp file for %s object %s: %s", kind, h, err)
	}
	tmpName := tmp.Name()
	w := zlib.NewWriter(tmp)
	if _, err := w.Write(full); err != nil {
		w.Close()
		tmp.Close()
		os.Remove(tmpName)
		return nil, errors.Wrapf(backend.ErrWriteObject, "deflating %s object %s: %s", kind, h, err)
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, errors.Wrapf(backend.ErrWriteObject, "closing deflate stream for %s object %s: %s", kind, h, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, errors.Wrapf(backend.ErrWriteObject, "closing %s object %s: %s", kind, h, err)
	}
	if err := os.Rename(tmpName, dst); err != nil && !os.IsExist(err) {
		os.Remove(tmpName)
		return nil, errors.Wrapf(backend.ErrWriteObject, "renaming %s object %s: %s", kind, h, err)
	}
	return hashToID(h), nil
}

func (b *Backend) readLooseObject(wantKind objectKind, id objectid.ID) ([]byte, error) {
	h, err := idToHash(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(b.looseObjectPath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(backend.ErrObjectNotFound, "%s object %s", wantKind, h)
		}
		return nil, errors.Wrapf(backend.ErrReadObject, "%s object %s: %s", wantKind, h, err)
	}
	defer f.Close()
	r, err := zlib.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(backend.ErrReadObject, "inflating %s object %s: %s", wantKind, h, err)
	}
	defer r.Close()
	full, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(backend.ErrReadObject, "reading %s object %s: %s", wantKind, h, err)
	}
	nul := bytes.IndexByte(full, 0)
	if nul < 0 {
		return nil, errors.Wrapf(backend.ErrReadObject, "%s object %s: missing header terminator", wantKind, h)
	}
	return full[nul+1:], nil
}

func (b *Backend) ReadFile(_ string, id objectid.ID) (io.ReadCloser, error) {
	data, err := b.readLooseObject(kindBlob, id)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Backend) WriteFile(_ string, r io.Reader) (objectid.ID, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading file content")
	}
	return b.writeLooseObject(kindBlob, data)
}

// Symlinks are stored as ordinary blobs holding the link target, matching
// git's own convention (a symlink tree entry points at a blob containing
// the target path).
func (b *Backend) ReadSymlink(_ string, id objectid.ID) (string, error) {
	data, err := b.readLooseObject(kindBlob, id)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *Backend) WriteSymlink(_ string, target string) (objectid.ID, error) {
	return b.writeLooseObject(kindBlob, []byte(target))
}

type treeEntryWire struct {
	Name       string `json:"name"`
	Kind       int    `json:"kind"`
	ID         string `json:"id"`
	Executable bool   `json:"executable,omitempty"`
}

type treeWire struct {
	Entries []treeEntryWire `json:"entries"`
}

// ReadTree/WriteTree use a JSON encoding rather than git's binary tree
// format: the core's Tree carries a TreeEntryConflict kind with no git
// equivalent, so lossless `git cat-file` round-tripping is off the table
// regardless. Only the SHA-1 id scheme and loose-object directory layout
// are shared, for colocated-repo interop at the object-store level.
func (b *Backend) ReadTree(_ string, id objectid.ID) (backend.Tree, error) {
	data, err := b.readLooseObject(kindTree, id)
	if err != nil {
		return backend.Tree{}, err
	}
	var wire treeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return backend.Tree{}, errors.Wrapf(backend.ErrReadObject, "decoding tree %s: %s", id.Hex(), err)
	}
	tree := backend.Tree{Entries: make([]backend.TreeEntry, len(wire.Entries))}
	for i, e := range wire.Entries {
		entryID, err := objectid.FromHex(e.ID)
		if err != nil {
			return backend.Tree{}, errors.Wrapf(backend.ErrInvalidHash, "tree %s entry %s: %s", id.Hex(), e.Name, err)
		}
		tree.Entries[i] = backend.TreeEntry{Name: e.Name, Kind: backend.TreeEntryKind(e.Kind), ID: entryID, Executable: e.Executable}
	}
	return tree, nil
}

func (b *Backend) WriteTree(_ string, tree backend.Tree) (objectid.ID, error) {
	entries := append([]backend.TreeEntry(nil), tree.Entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	wire := treeWire{Entries: make([]treeEntryWire, len(entries))}
	for i, e := range entries {
		wire.Entries[i] = treeEntryWire{Name: e.Name, Kind: int(e.Kind), ID: e.ID.Hex(), Executable: e.Executable}
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.Wrap(err, "encoding tree")
	}
	return b.writeLooseObject(kindTree, data)
}

type signatureWire struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	TimestampUnixNano int64  `json:"timestamp_unix_nano"`
}

type commitWire struct {
	Parents      []string      `json:"parents"`
	Predecessors []string      `json:"predecessors"`
	RootTree     string        `json:"root_tree"`
	ChangeID     string        `json:"change_id"`
	Description  string        `json:"description"`
	Author       signatureWire `json:"author"`
	Committer    signatureWire `json:"committer"`
}

func hexAll(ids []objectid.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Hex()
	}
	return out
}

func unhexAll(hexes []string) ([]objectid.ID, error) {
	out := make([]objectid.ID, len(hexes))
	for i, h := range hexes {
		id, err := objectid.FromHex(h)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

func (b *Backend) ReadCommit(id objectid.ID) (backend.Commit, error) {
	if id.Equal(b.rootCommitID) {
		return backend.Commit{RootTree: b.emptyTreeID, ChangeID: b.rootChangeID}, nil
	}
	data, err := b.readLooseObject(kindCommit, id)
	if err != nil {
		return backend.Commit{}, err
	}
	var wire commitWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return backend.Commit{}, errors.Wrapf(backend.ErrReadObject, "decoding commit %s: %s", id.Hex(), err)
	}
	parents, err := unhexAll(wire.Parents)
	if err != nil {
		return backend.Commit{}, errors.Wrapf(backend.ErrInvalidHash, "commit %s parents: %s", id.Hex(), err)
	}
	predecessors, err := unhexAll(wire.Predecessors)
	if err != nil {
		return backend.Commit{}, errors.Wrapf(backend.ErrInvalidHash, "commit %s predecessors: %s", id.Hex(), err)
	}
	rootTree, err := objectid.FromHex(wire.RootTree)
	if err != nil {
		return backend.Commit{}, errors.Wrapf(backend.ErrInvalidHash, "commit %s root tree: %s", id.Hex(), err)
	}
	changeID, err := objectid.FromHex(wire.ChangeID)
	if err != nil {
		return backend.Commit{}, errors.Wrapf(backend.ErrInvalidHash, "commit %s change id: %s", id.Hex(), err)
	}
	return backend.Commit{
		Parents:      parents,
		Predecessors: predecessors,
		RootTree:     rootTree,
		ChangeID:     changeID,
		Description:  wire.Description,
		Author:       signatureFromWire(wire.Author),
		Committer:    signatureFromWire(wire.Committer),
	}, nil
}

func signatureToWire(s backend.Signature) signatureWire {
	return signatureWire{Name: s.Name, Email: s.Email, TimestampUnixNano: s.Timestamp.UnixNano()}
}

func signatureFromWire(w signatureWire) backend.Signature {
	return backend.Signature{Name: w.Name, Email: w.Email, Timestamp: time.Unix(0, w.TimestampUnixNano).UTC()}
}

func (b *Backend) WriteCommit(c backend.Commit) (objectid.ID, error) {
	wire := commitWire{
		Parents:      hexAll(c.Parents),
		Predecessors: hexAll(c.Predecessors),
		RootTree:     c.RootTree.Hex(),
		ChangeID:     c.ChangeID.Hex(),
		Description:  c.Description,
		Author:       signatureToWire(c.Author),
		Committer:    signatureToWire(c.Committer),
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.Wrap(err, "encoding commit")
	}
	return b.writeLooseObject(kindCommit, data)
}

type conflictWire struct {
	Removes []string `json:"removes"`
	Adds    []string `json:"adds"`
}

func (b *Backend) ReadConflict(_ string, id objectid.ID) (backend.Conflict, error) {
	data, err := b.readLooseObject(kindConflict, id)
	if err != nil {
		return backend.Conflict{}, err
	}
	var wire conflictWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return backend.Conflict{}, errors.Wrapf(backend.ErrReadObject, "decoding conflict %s: %s", id.Hex(), err)
	}
	removes, err := unhexAll(wire.Removes)
	if err != nil {
		return backend.Conflict{}, err
	}
	adds, err := unhexAll(wire.Adds)
	if err != nil {
		return backend.Conflict{}, err
	}
	return backend.Conflict{Removes: removes, Adds: adds}, nil
}

func (b *Backend) WriteConflict(_ string, c backend.Conflict) (objectid.ID, error) {
	wire := conflictWire{Removes: hexAll(c.Removes), Adds: hexAll(c.Adds)}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.Wrap(err, "encoding conflict")
	}
	return b.writeLooseObject(kindConflict, data)
}

func (b *Backend) RootCommitID() objectid.ID { return b.rootCommitID }
func (b *Backend) RootChangeID() objectid.ID { return b.rootChangeID }
func (b *Backend) EmptyTreeID() objectid.ID  { return b.emptyTreeID }
func (b *Backend) CommitIDLength() int       { return hashLength }
func (b *Backend) ChangeIDLength() int       { return hashLength }
