// Package local implements opstore.OpStore as content-addressed JSON files
// under op_store/views and op_store/operations, written via the same
// temp-file-then-rename convention as backend/local and backend/git.
package local

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/sourcegraph/log"
	"github.com/sourcegraph/sourcegraph/lib/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/opstore"
	"github.com/opdag/vcscore/refconflict"
	"github.com/opdag/vcscore/view"
)

// OpStore is a disk-backed opstore.OpStore rooted at a repo's
// `op_store/` directory.
type OpStore struct {
	root   string
	logger log.Logger
}

var _ opstore.OpStore = (*OpStore)(nil)

// New opens (creating if absent) an op_store rooted at dir/op_store.
func New(dir string, logger log.Logger) (*OpStore, error) {
	for _, sub := range []string{"views", "operations"} {
		if err := os.MkdirAll(filepath.Join(dir, "op_store", sub), 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating op_store/%s", sub)
		}
	}
	return &OpStore{root: dir, logger: logger.Scoped("op-store", "content-addressed view/operation store")}, nil
}

func idOf(data []byte) objectid.ID {
	sum := blake2b.Sum256(data)
	return objectid.ID(sum[:])
}

// writeJSON writes data content-addressed under subdir/<id_hex>, using
// temp-file-then-rename and ignoring IsExist for the same reason the
// backend stores do: the destination name is a function of the bytes.
func writeJSON(root, subdir string, data []byte) (objectid.ID, error) {
	id := idOf(data)
	dst := filepath.Join(root, "op_store", subdir, id.Hex())
	if _, err := os.Stat(dst); err == nil {
		return id, nil
	}
	tmp, err := os.CreateTemp(filepath.Join(root, "op_store", subdir), "tmp-*")
	if err != nil {
		return nil, errors.Wrapf(err, "creating temp file for %s %s", subdir, id.Hex())
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, errors.Wrapf(err, "writing %s %s", subdir, id.Hex())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, errors.Wrapf(err, "closing %s %s", subdir, id.Hex())
	}
	if err := os.Rename(tmpName, dst); err != nil && !os.IsExist(err) {
		os.Remove(tmpName)
		return nil, errors.Wrapf(err, "renaming %s %s", subdir, id.Hex())
	}
	return id, nil
}

func readJSON(root, subdir string, id objectid.ID) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(root, "op_store", subdir, id.Hex()))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(opstore.ErrNotFound, "%s %s", subdir, id.Hex())
		}
		return nil, errors.Wrapf(err, "reading %s %s", subdir, id.Hex())
	}
	return data, nil
}

// refTargetWire/viewWire mirror view.View's shape for JSON encoding. A
// RefTarget is encoded by its conflict removes/adds lists of optional
// commit ids (empty-string entry = None), matching refconflict.RefTarget's
// Conflict[OptionalCommitID] representation.
type refTargetWire struct {
	Removes []string `json:"removes"`
	Adds    []string `json:"adds"`
}

func encodeRefTarget(rt refconflict.RefTarget) refTargetWire {
	c := rt.AsConflict()
	w := refTargetWire{Removes: make([]string, len(c.Removes)), Adds: make([]string, len(c.Adds))}
	for i, r := range c.Removes {
		if r.Present {
			w.Removes[i] = r.ID.Hex()
		}
	}
	for i, a := range c.Adds {
		if a.Present {
			w.Adds[i] = a.ID.Hex()
		}
	}
	return w
}

func decodeRefTarget(w refTargetWire) (refconflict.RefTarget, error) {
	removes := make([]refconflict.OptionalCommitID, len(w.Removes))
	for i, h := range w.Removes {
		if h == "" {
			removes[i] = refconflict.None()
			continue
		}
		id, err := objectid.FromHex(h)
		if err != nil {
			return refconflict.RefTarget{}, err
		}
		removes[i] = refconflict.Some(id)
	}
	adds := make([]refconflict.OptionalCommitID, len(w.Adds))
	for i, h := range w.Adds {
		if h == "" {
			adds[i] = refconflict.None()
			continue
		}
		id, err := objectid.FromHex(h)
		if err != nil {
			return refconflict.RefTarget{}, err
		}
		adds[i] = refconflict.Some(id)
	}
	return refconflict.FromConflict(refconflict.Conflict[refconflict.OptionalCommitID]{Removes: removes, Adds: adds}), nil
}

type remoteViewWire struct {
	Branches map[string]refTargetWire `json:"branches"`
	Tags     map[string]refTargetWire `json:"tags"`
}

type viewWire struct {
	HeadIDs       []string                  `json:"head_ids"`
	PublicHeadIDs []string                  `json:"public_head_ids"`
	LocalBranches map[string]refTargetWire  `json:"local_branches"`
	RemoteViews   map[string]remoteViewWire `json:"remote_views"`
	Tags          map[string]refTargetWire  `json:"tags"`
	GitRefs       map[string]refTargetWire  `json:"git_refs"`
	GitHead       refTargetWire             `json:"git_head"`
	WCCommitIDs   map[string]refTargetWire  `json:"wc_commit_ids"`
	Topics        map[string][]string       `json:"topics"`
}

func encodeRefTargetMap(m map[string]refconflict.RefTarget) map[string]refTargetWire {
	out := make(map[string]refTargetWire, len(m))
	for k, v := range m {
		out[k] = encodeRefTarget(v)
	}
	return out
}

func decodeRefTargetMap(m map[string]refTargetWire) (map[string]refconflict.RefTarget, error) {
	out := make(map[string]refconflict.RefTarget, len(m))
	for k, v := range m {
		rt, err := decodeRefTarget(v)
		if err != nil {
			return nil, err
		}
		out[k] = rt
	}
	return out, nil
}

func (s *OpStore) ReadView(id objectid.ID) (view.View, error) {
	data, err := readJSON(s.root, "views", id)
	if err != nil {
		return view.View{}, err
	}
	var wire viewWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return view.View{}, errors.Wrapf(err, "decoding view %s", id.Hex())
	}

	v := view.New()
	for _, h := range wire.HeadIDs {
		id, err := objectid.FromHex(h)
		if err != nil {
			return view.View{}, err
		}
		v.HeadIDs[id.Hex()] = id
	}
	for _, h := range wire.PublicHeadIDs {
		id, err := objectid.FromHex(h)
		if err != nil {
			return view.View{}, err
		}
		v.PublicHeadIDs[id.Hex()] = id
	}
	if v.LocalBranches, err = decodeRefTargetMap(wire.LocalBranches); err != nil {
		return view.View{}, err
	}
	if v.Tags, err = decodeRefTargetMap(wire.Tags); err != nil {
		return view.View{}, err
	}
	if v.GitRefs, err = decodeRefTargetMap(wire.GitRefs); err != nil {
		return view.View{}, err
	}
	if v.GitHead, err = decodeRefTarget(wire.GitHead); err != nil {
		return view.View{}, err
	}
	wcCommitIDs, err := decodeRefTargetMap(wire.WCCommitIDs)
	if err != nil {
		return view.View{}, err
	}
	for ws, rt := range wcCommitIDs {
		v.WCCommitIDs[view.WorkspaceID(ws)] = rt
	}
	for name, hexes := range wire.Topics {
		set := map[string]objectid.ID{}
		for _, h := range hexes {
			id, err := objectid.FromHex(h)
			if err != nil {
				return view.View{}, err
			}
			set[id.Hex()] = id
		}
		v.Topics[name] = set
	}
	for remote, rv := range wire.RemoteViews {
		branches, err := decodeRefTargetMap(rv.Branches)
		if err != nil {
			return view.View{}, err
		}
		tags, err := decodeRefTargetMap(rv.Tags)
		if err != nil {
			return view.View{}, err
		}
		v.RemoteViews[remote] = view.RemoteView{Branches: branches, Tags: tags}
	}
	return v, nil
}

func (s *OpStore) WriteView(v view.View) (objectid.ID, error) {
	wire := viewWire{
		LocalBranches: encodeRefTargetMap(v.LocalBranches),
		RemoteViews:   map[string]remoteViewWire{},
		Tags:          encodeRefTargetMap(v.Tags),
		GitRefs:       encodeRefTargetMap(v.GitRefs),
		GitHead:       encodeRefTarget(v.GitHead),
		WCCommitIDs:   map[string]refTargetWire{},
		Topics:        map[string][]string{},
	}
	for _, id := range view.SortedHeadIDs(v.HeadIDs) {
		wire.HeadIDs = append(wire.HeadIDs, id.Hex())
	}
	for _, id := range view.SortedHeadIDs(v.PublicHeadIDs) {
		wire.PublicHeadIDs = append(wire.PublicHeadIDs, id.Hex())
	}
	for ws, rt := range v.WCCommitIDs {
		wire.WCCommitIDs[string(ws)] = encodeRefTarget(rt)
	}
	for name, set := range v.Topics {
		for _, id := range view.SortedHeadIDs(set) {
			wire.Topics[name] = append(wire.Topics[name], id.Hex())
		}
	}
	for remote, rv := range v.RemoteViews {
		wire.RemoteViews[remote] = remoteViewWire{
			Branches: encodeRefTargetMap(rv.Branches),
			Tags:     encodeRefTargetMap(rv.Tags),
		}
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.Wrap(err, "encoding view")
	}
	return writeJSON(s.root, "views", data)
}

type operationMetadataWire struct {
	StartTimeUnixNano int64             `json:"start_time_unix_nano"`
	EndTimeUnixNano   int64             `json:"end_time_unix_nano"`
	Description       string            `json:"description"`
	Hostname          string            `json:"hostname"`
	Username          string            `json:"username"`
	Tags              map[string]string `json:"tags"`
}

type operationWire struct {
	ViewID   string                `json:"view_id"`
	Parents  []string              `json:"parents"`
	Metadata operationMetadataWire `json:"metadata"`
}

func (s *OpStore) ReadOperation(id objectid.ID) (opstore.Operation, error) {
	data, err := readJSON(s.root, "operations", id)
	if err != nil {
		return opstore.Operation{}, err
	}
	var wire operationWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return opstore.Operation{}, errors.Wrapf(err, "decoding operation %s", id.Hex())
	}
	viewID, err := objectid.FromHex(wire.ViewID)
	if err != nil {
		return opstore.Operation{}, err
	}
	parents := make([]objectid.ID, len(wire.Parents))
	for i, h := range wire.Parents {
		pid, err := objectid.FromHex(h)
		if err != nil {
			return opstore.Operation{}, err
		}
		parents[i] = pid
	}
	return opstore.Operation{
		ViewID:  viewID,
		Parents: parents,
		Metadata: opstore.OperationMetadata{
			StartTime:   time.Unix(0, wire.Metadata.StartTimeUnixNano).UTC(),
			EndTime:     time.Unix(0, wire.Metadata.EndTimeUnixNano).UTC(),
			Description: wire.Metadata.Description,
			Hostname:    wire.Metadata.Hostname,
			Username:    wire.Metadata.Username,
			Tags:        wire.Metadata.Tags,
		},
	}, nil
}

func (s *OpStore) WriteOperation(op opstore.Operation) (objectid.ID, error) {
	wire := operationWire{
		ViewID:  op.ViewID.Hex(),
		Parents: make([]string, len(op.Parents)),
		Metadata: operationMetadataWire{
			StartTimeUnixNano: op.Metadata.StartTime.UnixNano(),
			EndTimeUnixNano:   op.Metadata.EndTime.UnixNano(),
			Description:       op.Metadata.Description,
			Hostname:          op.Metadata.Hostname,
			Username:          op.Metadata.Username,
			Tags:              op.Metadata.Tags,
		},
	}
	for i, p := range op.Parents {
		wire.Parents[i] = p.Hex()
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.Wrap(err, "encoding operation")
	}
	return writeJSON(s.root, "operations", data)
}
