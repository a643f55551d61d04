// Package opstore defines the OpStore capability trait: content-addressed
// storage for Views and Operations, the two record types that make up the
// operation log.
package opstore

import (
	"time"

	"github.com/sourcegraph/sourcegraph/lib/errors"

	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/view"
)

// ErrNotFound reports a view/operation id with no stored object.
var ErrNotFound = errors.New("op store: not found")

// OperationMetadata records who/when/why an operation happened.
type OperationMetadata struct {
	StartTime   time.Time
	EndTime     time.Time
	Description string
	Hostname    string
	Username    string
	Tags        map[string]string
}

// Operation is a content-addressed node in the op DAG: a view id, parent
// operation ids, and metadata. The id is the content hash of the whole.
type Operation struct {
	ViewID   objectid.ID
	Parents  []objectid.ID
	Metadata OperationMetadata
}

// OpStore reads and writes views and operations by content-addressed id.
type OpStore interface {
	ReadView(id objectid.ID) (view.View, error)
	WriteView(v view.View) (objectid.ID, error)

	ReadOperation(id objectid.ID) (Operation, error)
	WriteOperation(op Operation) (objectid.ID, error)
}
