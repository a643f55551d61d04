// Package backend defines the object-store capability trait: the storage
// boundary the core reads and writes commits, trees, files, symlinks and
// conflicts through. Concrete implementations live in backend/local (a
// BLAKE2b content store) and backend/git (a Git-object compatible store
// built on go-git).
package backend

import (
	"io"
	"time"

	"github.com/opdag/vcscore/objectid"
	"github.com/sourcegraph/sourcegraph/lib/errors"
)

// Signature is a commit's author or committer identity.
type Signature struct {
	Name      string
	Email     string
	Timestamp time.Time
}

// Commit is an immutable, content-addressed snapshot: a tree, parent
// commit ids, a change id that survives rewrites, and the supersession
// chain in Predecessors.
type Commit struct {
	Parents      []objectid.ID
	Predecessors []objectid.ID
	RootTree     objectid.ID
	ChangeID     objectid.ID
	Description  string
	Author       Signature
	Committer    Signature
}

// TreeEntryKind distinguishes the kinds of tree entries the core
// understands; submodules and other VCS-specific entry kinds are left to
// the backend's own tree decoding and are not modeled here.
type TreeEntryKind int

const (
	TreeEntryFile TreeEntryKind = iota
	TreeEntrySymlink
	TreeEntryTree
	TreeEntryConflict
)

// TreeEntry is one named child of a Tree.
type TreeEntry struct {
	Name string
	Kind TreeEntryKind
	ID   objectid.ID
	// Executable is only meaningful when Kind == TreeEntryFile.
	Executable bool
}

// Tree is a sorted-by-name directory listing; sorted order is part of the
// content hash, so callers must not rely on insertion order.
type Tree struct {
	Entries []TreeEntry
}

// Conflict is a file-level N-way merge conflict recorded in a tree,
// distinct from refconflict.Conflict (which merges ref targets, not file
// content).
type Conflict struct {
	Removes []objectid.ID
	Adds    []objectid.ID
}

// Sentinel errors for backend read/write failures. Implementations wrap
// these with errors.Wrapf so callers can errors.Is against them while
// still getting a path/id-bearing message.
var (
	ErrObjectNotFound    = errors.New("object not found")
	ErrInvalidHash       = errors.New("invalid hash")
	ErrInvalidHashLength = errors.New("invalid hash length")
	ErrInvalidUTF8       = errors.New("invalid utf-8")
	ErrReadObject        = errors.New("failed to read object")
	ErrWriteObject       = errors.New("failed to write object")
)

// Backend is the object-store capability trait, selected per repository
// behind a trait-object handle. Implementations must be safe for
// concurrent use by multiple Repo handles: every write is
// content-addressed, so racing writers of the same object converge on the
// same bytes.
type Backend interface {
	ReadFile(path string, id objectid.ID) (io.ReadCloser, error)
	WriteFile(path string, r io.Reader) (objectid.ID, error)

	ReadSymlink(path string, id objectid.ID) (string, error)
	WriteSymlink(path string, target string) (objectid.ID, error)

	ReadTree(path string, id objectid.ID) (Tree, error)
	WriteTree(path string, tree Tree) (objectid.ID, error)

	ReadCommit(id objectid.ID) (Commit, error)
	WriteCommit(c Commit) (objectid.ID, error)

	ReadConflict(path string, id objectid.ID) (Conflict, error)
	WriteConflict(path string, c Conflict) (objectid.ID, error)

	RootCommitID() objectid.ID
	RootChangeID() objectid.ID
	EmptyTreeID() objectid.ID
	CommitIDLength() int
	ChangeIDLength() int
}
