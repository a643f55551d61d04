// Package view defines the View type, the observable state of a repository
// at one operation, and the 3-way merge that reconciles two views that
// diverged from a common operation ancestor.
package view

import (
	"sort"

	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/refconflict"
)

// WorkspaceID names a workspace's working-copy association.
type WorkspaceID string

// DefaultWorkspaceID is the id used when a repo has a single workspace.
const DefaultWorkspaceID WorkspaceID = "default"

// RemoteView holds one remote's tracked branches and tags.
type RemoteView struct {
	Branches map[string]refconflict.RefTarget
	Tags     map[string]refconflict.RefTarget
}

// View is the observable state of the repository at one operation.
type View struct {
	HeadIDs       map[string]objectid.ID // keyed by hex for set semantics
	PublicHeadIDs map[string]objectid.ID
	LocalBranches map[string]refconflict.RefTarget
	RemoteViews   map[string]RemoteView
	Tags          map[string]refconflict.RefTarget
	GitRefs       map[string]refconflict.RefTarget
	GitHead       refconflict.RefTarget
	WCCommitIDs   map[WorkspaceID]refconflict.RefTarget
	Topics        map[string]map[string]objectid.ID
}

// New returns an empty view (the shape of the root operation's view).
func New() View {
	return View{
		HeadIDs:       map[string]objectid.ID{},
		PublicHeadIDs: map[string]objectid.ID{},
		LocalBranches: map[string]refconflict.RefTarget{},
		RemoteViews:   map[string]RemoteView{},
		Tags:          map[string]refconflict.RefTarget{},
		GitRefs:       map[string]refconflict.RefTarget{},
		GitHead:       refconflict.Absent(),
		WCCommitIDs:   map[WorkspaceID]refconflict.RefTarget{},
		Topics:        map[string]map[string]objectid.ID{},
	}
}

func idSet(ids ...objectid.ID) map[string]objectid.ID {
	out := map[string]objectid.ID{}
	for _, id := range ids {
		out[id.Hex()] = id
	}
	return out
}

func cloneIDMap(m map[string]objectid.ID) map[string]objectid.ID {
	out := make(map[string]objectid.ID, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneRefMap(m map[string]refconflict.RefTarget) map[string]refconflict.RefTarget {
	out := make(map[string]refconflict.RefTarget, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneWorkspaceMap(m map[WorkspaceID]refconflict.RefTarget) map[WorkspaceID]refconflict.RefTarget {
	out := make(map[WorkspaceID]refconflict.RefTarget, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Clone returns a deep-enough copy of v for copy-on-write transaction
// semantics: every map is duplicated so edits made through the clone
// never touch v, while the immutable RefTarget/id values themselves are
// shared (they are never mutated in place, only replaced wholesale).
func (v View) Clone() View {
	out := View{
		HeadIDs:       cloneIDMap(v.HeadIDs),
		PublicHeadIDs: cloneIDMap(v.PublicHeadIDs),
		LocalBranches: cloneRefMap(v.LocalBranches),
		RemoteViews:   make(map[string]RemoteView, len(v.RemoteViews)),
		Tags:          cloneRefMap(v.Tags),
		GitRefs:       cloneRefMap(v.GitRefs),
		GitHead:       v.GitHead,
		WCCommitIDs:   cloneWorkspaceMap(v.WCCommitIDs),
		Topics:        make(map[string]map[string]objectid.ID, len(v.Topics)),
	}
	for remote, rv := range v.RemoteViews {
		out.RemoteViews[remote] = RemoteView{Branches: cloneRefMap(rv.Branches), Tags: cloneRefMap(rv.Tags)}
	}
	for name, set := range v.Topics {
		out.Topics[name] = cloneIDMap(set)
	}
	return out
}

// SortedHeadIDs returns HeadIDs in a deterministic (sorted by hex) order,
// for callers that need stable iteration (content-hashing, display).
func SortedHeadIDs(s map[string]objectid.ID) []objectid.ID {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]objectid.ID, len(keys))
	for i, k := range keys {
		out[i] = s[k]
	}
	return out
}
