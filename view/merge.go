package view

import (
	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/refconflict"
)

// MergeSets performs a scalar-set 3-way merge: elements added by either
// side relative to base are kept; elements removed by either side
// relative to base are dropped, even if the other side kept them.
//
//	result = (left ∪ right) \ ((base \ left) ∪ (base \ right))
func MergeSets(base, left, right map[string]objectid.ID) map[string]objectid.ID {
	deleted := map[string]bool{}
	for k := range base {
		if _, ok := left[k]; !ok {
			deleted[k] = true
		}
		if _, ok := right[k]; !ok {
			deleted[k] = true
		}
	}
	out := map[string]objectid.ID{}
	for k, v := range left {
		out[k] = v
	}
	for k, v := range right {
		out[k] = v
	}
	for k := range deleted {
		delete(out, k)
	}
	return out
}

func refTargetOrAbsent(m map[string]refconflict.RefTarget, key string) refconflict.RefTarget {
	if rt, ok := m[key]; ok {
		return rt
	}
	return refconflict.Absent()
}

// MergeRefTargetMaps 3-way merges every key present in base, left or right,
// dropping keys whose merged target is absent (mirroring the on-disk
// RefTargetMap convention of never storing absent entries).
func MergeRefTargetMaps(idx refconflict.AncestryIndex, base, left, right map[string]refconflict.RefTarget) map[string]refconflict.RefTarget {
	keys := map[string]bool{}
	for k := range base {
		keys[k] = true
	}
	for k := range left {
		keys[k] = true
	}
	for k := range right {
		keys[k] = true
	}
	out := map[string]refconflict.RefTarget{}
	for k := range keys {
		merged := refconflict.MergeRefTargets(idx, refTargetOrAbsent(left, k), refTargetOrAbsent(base, k), refTargetOrAbsent(right, k))
		if merged.IsPresent() || merged.HasConflict() {
			out[k] = merged
		}
	}
	return out
}

// MergeTopics 3-way merges each named topic's commit set.
func MergeTopics(base, left, right map[string]map[string]objectid.ID) map[string]map[string]objectid.ID {
	keys := map[string]bool{}
	for k := range base {
		keys[k] = true
	}
	for k := range left {
		keys[k] = true
	}
	for k := range right {
		keys[k] = true
	}
	out := map[string]map[string]objectid.ID{}
	for k := range keys {
		merged := MergeSets(base[k], left[k], right[k])
		if len(merged) > 0 {
			out[k] = merged
		}
	}
	return out
}

// MergeWorkspaces 3-way merges the wc-commit association of every
// workspace; if both sides advanced the same workspace to different
// commits the result is a conflicted RefTarget (a conflicted workspace
// head).
func MergeWorkspaces(idx refconflict.AncestryIndex, base, left, right map[WorkspaceID]refconflict.RefTarget) map[WorkspaceID]refconflict.RefTarget {
	keys := map[WorkspaceID]bool{}
	for k := range base {
		keys[k] = true
	}
	for k := range left {
		keys[k] = true
	}
	for k := range right {
		keys[k] = true
	}
	out := map[WorkspaceID]refconflict.RefTarget{}
	for k := range keys {
		b, l, r := refconflict.Absent(), refconflict.Absent(), refconflict.Absent()
		if v, ok := base[k]; ok {
			b = v
		}
		if v, ok := left[k]; ok {
			l = v
		}
		if v, ok := right[k]; ok {
			r = v
		}
		merged := refconflict.MergeRefTargets(idx, l, b, r)
		if merged.IsPresent() || merged.HasConflict() {
			out[k] = merged
		}
	}
	return out
}

// Merge 3-way merges base/left/right into a new View: one independent
// merge per field.
func Merge(idx refconflict.AncestryIndex, base, left, right View) View {
	merged := View{
		HeadIDs:       MergeSets(base.HeadIDs, left.HeadIDs, right.HeadIDs),
		PublicHeadIDs: MergeSets(base.PublicHeadIDs, left.PublicHeadIDs, right.PublicHeadIDs),
		LocalBranches: MergeRefTargetMaps(idx, base.LocalBranches, left.LocalBranches, right.LocalBranches),
		Tags:          MergeRefTargetMaps(idx, base.Tags, left.Tags, right.Tags),
		GitRefs:       MergeRefTargetMaps(idx, base.GitRefs, left.GitRefs, right.GitRefs),
		GitHead:       refconflict.MergeRefTargets(idx, left.GitHead, base.GitHead, right.GitHead),
		WCCommitIDs:   MergeWorkspaces(idx, base.WCCommitIDs, left.WCCommitIDs, right.WCCommitIDs),
		Topics:        MergeTopics(base.Topics, left.Topics, right.Topics),
		RemoteViews:   mergeRemoteViews(idx, base.RemoteViews, left.RemoteViews, right.RemoteViews),
	}
	return merged
}

func mergeRemoteViews(idx refconflict.AncestryIndex, base, left, right map[string]RemoteView) map[string]RemoteView {
	remotes := map[string]bool{}
	for k := range base {
		remotes[k] = true
	}
	for k := range left {
		remotes[k] = true
	}
	for k := range right {
		remotes[k] = true
	}
	out := map[string]RemoteView{}
	for r := range remotes {
		merged := RemoteView{
			Branches: MergeRefTargetMaps(idx, base[r].Branches, left[r].Branches, right[r].Branches),
			Tags:     MergeRefTargetMaps(idx, base[r].Tags, left[r].Tags, right[r].Tags),
		}
		if len(merged.Branches) > 0 || len(merged.Tags) > 0 {
			out[r] = merged
		}
	}
	return out
}
