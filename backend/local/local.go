// Package local implements backend.Backend as a plain-local, BLAKE2b
// content-addressed object store under a `store/` directory. Writes go to
// a temp file, then rename into place, ignoring IsExist since the
// content-addressed destination already holds identical bytes.
package local

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sourcegraph/log"
	"github.com/sourcegraph/sourcegraph/lib/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/opdag/vcscore/backend"
	"github.com/opdag/vcscore/objectid"
)

const (
	idLength  = 64 // BLAKE2b-512 digest length.
	fanoutLen = 2
)

// Backend is a disk-backed backend.Backend rooted at a `store/` directory.
type Backend struct {
	root   string
	logger log.Logger

	rootCommitID objectid.ID
	rootChangeID objectid.ID
	emptyTreeID  objectid.ID
}

var _ backend.Backend = (*Backend)(nil)

// New opens (creating if absent) a local content store rooted at dir.
func New(dir string, logger log.Logger) (*Backend, error) {
	if err := os.MkdirAll(filepath.Join(dir, "store"), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating store directory")
	}
	b := &Backend{
		root:         dir,
		logger:       logger.Scoped("local-backend", "blake2b content-addressed object store"),
		rootCommitID: make(objectid.ID, idLength),
		rootChangeID: make(objectid.ID, idLength),
	}
	emptyTreeID, err := b.WriteTree("", backend.Tree{})
	if err != nil {
		return nil, errors.Wrap(err, "writing empty tree")
	}
	b.emptyTreeID = emptyTreeID
	return b, nil
}

func (b *Backend) objectPath(kind string, id objectid.ID) (string, error) {
	hex := id.Hex()
	if len(hex) < fanoutLen {
		return "", errors.Wrapf(backend.ErrInvalidHashLength, "id %q too short", hex)
	}
	return filepath.Join(b.root, "store", kind, hex[:fanoutLen], hex[fanoutLen:]), nil
}

// writeContentAddressed hashes data with BLAKE2b-512, writes it to
// store/<kind>/<hex[:2]>/<hex[2:]> via temp-file-then-rename, and returns
// the resulting id. Concurrent writers of the same content race on the
// same destination path and converge on identical bytes.
func (b *Backend) writeContentAddressed(kind string, data []byte) (objectid.ID, error) {
	sum := blake2b.Sum512(data)
	id := objectid.ID(sum[:])
	dst, err := b.objectPath(kind, id)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dst); err == nil {
		return id, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, errors.Wrapf(backend.ErrWriteObject, "mkdir for %s object %s: %s", kind, id.Hex(), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "tmp-*")
	if err != nil {
		return nil, errors.Wrapf(backend.ErrWriteObject, "creating temp file for %s object %s: %s", kind, id.Hex(), err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, errors.Wrapf(backend.ErrWriteObject, "writing %s object %s: %s", kind, id.Hex(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, errors.Wrapf(backend.ErrWriteObject, "closing %s object %s: %s", kind, id.Hex(), err)
	}
	if err := os.Rename(tmpName, dst); err != nil && !os.IsExist(err) {
		os.Remove(tmpName)
		return nil, errors.Wrapf(backend.ErrWriteObject, "renaming %s object %s: %s", kind, id.Hex(), err)
	}
	return id, nil
}

func (b *Backend) readContentAddressed(kind string, id objectid.ID) ([]byte, error) {
	path, err := b.objectPath(kind, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(backend.ErrObjectNotFound, "%s object %s", kind, id.Hex())
		}
		return nil, errors.Wrapf(backend.ErrReadObject, "%s object %s: %s", kind, id.Hex(), err)
	}
	return data, nil
}

func (b *Backend) ReadFile(_ string, id objectid.ID) (io.ReadCloser, error) {
	data, err := b.readContentAddressed("files", id)
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
	return b.writeContentAddressed("files", data)
}

func (b *Backend) ReadSymlink(_ string, id objectid.ID) (string, error) {
	data, err := b.readContentAddressed("symlinks", id)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *Backend) WriteSymlink(_ string, target string) (objectid.ID, error) {
	return b.writeContentAddressed("symlinks", []byte(target))
}

// treeEntryWire and treeWire are the JSON wire shapes for tree/commit/
// conflict objects. Content-addressing only needs the same value to
// always produce the same bytes, which encoding/json guarantees for
// map-free structs (fields marshal in declaration order).
type treeEntryWire struct {
	Name       string `json:"name"`
	Kind       int    `json:"kind"`
	ID         string `json:"id"`
	Executable bool   `json:"executable,omitempty"`
}

type treeWire struct {
	Entries []treeEntryWire `json:"entries"`
}

func (b *Backend) ReadTree(_ string, id objectid.ID) (backend.Tree, error) {
	data, err := b.readContentAddressed("trees", id)
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
	return b.writeContentAddressed("trees", data)
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
	data, err := b.readContentAddressed("commits", id)
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
	return b.writeContentAddressed("commits", data)
}

type conflictWire struct {
	Removes []string `json:"removes"`
	Adds    []string `json:"adds"`
}

func (b *Backend) ReadConflict(_ string, id objectid.ID) (backend.Conflict, error) {
	data, err := b.readContentAddressed("conflicts", id)
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
	return b.writeContentAddressed("conflicts", data)
}

func (b *Backend) RootCommitID() objectid.ID { return b.rootCommitID }
func (b *Backend) RootChangeID() objectid.ID { return b.rootChangeID }
func (b *Backend) EmptyTreeID() objectid.ID  { return b.emptyTreeID }
func (b *Backend) CommitIDLength() int       { return idLength }
func (b *Backend) ChangeIDLength() int       { return idLength }
