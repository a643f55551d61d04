package revset

import (
	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/view"
)

// ResolvedSet is a symbol already bound to an explicit set of commit ids,
// substituted in place of Symbol/AtExpr/RemoteSymbol nodes by Resolve. It
// is also how a literal commit/change id prefix ends up represented once
// resolution has picked a concrete set of commits for it.
type ResolvedSet struct {
	IDs []objectid.ID
}

func (ResolvedSet) isExpr() {}

// SymbolResolver binds each symbol to a literal commit id set, looking
// names up through whatever view/index state backs it. Resolve drives
// this interface without needing to know how a concrete resolver is
// wired to a repository.
type SymbolResolver interface {
	// ResolveSymbol binds a bare name: `root`, a branch/tag/git-ref name,
	// or a commit/change id (prefix).
	ResolveSymbol(name string) ([]objectid.ID, error)
	// ResolveWorkspace binds `@` (name == "") or `name@` (workspace name).
	ResolveWorkspace(name string) ([]objectid.ID, error)
	// ResolveRemote binds `name@remote`.
	ResolveRemote(name, remote string) ([]objectid.ID, error)
}

// ViewResolver implements SymbolResolver against a view.View and the
// index queries needed for id-prefix resolution and the `root` symbol's
// backend-dependent identity.
type ViewResolver struct {
	View      *view.View
	Index     AncestryPrefixIndex
	RootID    objectid.ID
	Workspace view.WorkspaceID
}

// AncestryPrefixIndex is the subset of index.Index that symbol resolution
// needs: commit/change id prefix lookups. *index.Index satisfies it;
// symbol resolution uses only these two queries from it.
type AncestryPrefixIndex interface {
	ResolveCommitIDPrefix(p objectid.HexPrefix) objectid.PrefixResolution[objectid.ID]
	ResolveChangeIDPrefix(p objectid.HexPrefix) objectid.PrefixResolution[[]objectid.ID]
}

func refTargetIDs(rt refTargetLike) []objectid.ID {
	return rt.AddedIDs()
}

// refTargetLike is satisfied by refconflict.RefTarget; declared locally to
// avoid a direct dependency edge revset doesn't otherwise need (view's
// RefTarget fields are all refconflict.RefTarget, imported transitively
// via view, so this just names the method set used here).
type refTargetLike interface {
	AddedIDs() []objectid.ID
}

// ResolveSymbol implements SymbolResolver.
func (r *ViewResolver) ResolveSymbol(name string) ([]objectid.ID, error) {
	if name == "root" {
		return []objectid.ID{r.RootID}, nil
	}
	if rt, ok := r.View.LocalBranches[name]; ok {
		if ids := refTargetIDs(rt); len(ids) > 0 {
			return ids, nil
		}
	}
	if rt, ok := r.View.Tags[name]; ok {
		if ids := refTargetIDs(rt); len(ids) > 0 {
			return ids, nil
		}
	}
	if rt, ok := r.View.GitRefs[name]; ok {
		if ids := refTargetIDs(rt); len(ids) > 0 {
			return ids, nil
		}
	}
	if p, ok := objectid.NewHexPrefix(name); ok {
		if ids, err := r.resolveIDPrefix(p); err == nil {
			return ids, nil
		} else if rerr, ok := err.(*ResolutionError); !ok || rerr.Kind != NoSuchRevision {
			return nil, err
		}
	}
	return nil, newResolutionError(NoSuchRevision, name)
}

func (r *ViewResolver) resolveIDPrefix(p objectid.HexPrefix) ([]objectid.ID, error) {
	commitRes := r.Index.ResolveCommitIDPrefix(p)
	changeRes := r.Index.ResolveChangeIDPrefix(p)
	commitMatch := commitRes.Kind() == objectid.SingleMatch
	changeMatch := changeRes.Kind() == objectid.SingleMatch
	switch {
	case commitRes.Kind() == objectid.AmbiguousMatch || changeRes.Kind() == objectid.AmbiguousMatch:
		return nil, newResolutionError(AmbiguousIDPrefix, p.Hex())
	case commitMatch && changeMatch:
		// A hex string that happens to simultaneously prefix-match a
		// distinct commit id and a distinct change id has no single
		// unambiguous referent.
		return nil, newResolutionError(AmbiguousIDPrefix, p.Hex())
	case commitMatch:
		id, _ := commitRes.Value()
		return []objectid.ID{id}, nil
	case changeMatch:
		ids, _ := changeRes.Value()
		return ids, nil
	default:
		return nil, newResolutionError(NoSuchRevision, p.Hex())
	}
}

// ResolveWorkspace implements SymbolResolver.
func (r *ViewResolver) ResolveWorkspace(name string) ([]objectid.ID, error) {
	ws := r.Workspace
	if ws == "" {
		ws = view.DefaultWorkspaceID
	}
	if name != "" {
		ws = view.WorkspaceID(name)
	}
	rt, ok := r.View.WCCommitIDs[ws]
	if !ok {
		return nil, newResolutionError(WorkspaceMissingWcCommit, string(ws))
	}
	ids := refTargetIDs(rt)
	if len(ids) == 0 {
		return nil, newResolutionError(WorkspaceMissingWcCommit, string(ws))
	}
	return ids, nil
}

// ResolveRemote implements SymbolResolver.
func (r *ViewResolver) ResolveRemote(name, remote string) ([]objectid.ID, error) {
	rv, ok := r.View.RemoteViews[remote]
	if !ok {
		return nil, newResolutionError(NoSuchBranch, name+"@"+remote)
	}
	rt, ok := rv.Branches[name]
	if !ok {
		return nil, newResolutionError(NoSuchBranch, name+"@"+remote)
	}
	ids := refTargetIDs(rt)
	if len(ids) == 0 {
		return nil, newResolutionError(NoSuchBranch, name+"@"+remote)
	}
	return ids, nil
}

// revsetArgIndices names, per function, which argument indices are
// themselves revset sub-expressions that must be resolved. Arguments not
// listed (patterns, paths, counts, depths) are left untouched for the
// evaluator to read as literal Symbol/StringPatternExpr text.
var revsetArgIndices = map[string][]int{
	"heads":       {0},
	"roots":       {0},
	"parents":     {0},
	"children":    {0},
	"ancestors":   {0},
	"descendants": {0},
	"connected":   {0},
	"latest":      {0},
}

// Resolve is the symbol-resolution pass between parsing and evaluation:
// it walks an (optimized) AST and replaces every Symbol/AtExpr/RemoteSymbol appearing
// in a set-valued position with a ResolvedSet, using resolver to look
// each one up. Arguments to pattern/path/count-taking functions
// (description, author, file, ancestors' depth, ...) are left as-is.
func Resolve(e Expr, resolver SymbolResolver) (Expr, error) {
	switch n := e.(type) {
	case Symbol:
		ids, err := resolver.ResolveSymbol(n.Name)
		if err != nil {
			return nil, err
		}
		return ResolvedSet{IDs: ids}, nil
	case AtExpr:
		ids, err := resolver.ResolveWorkspace(n.Workspace)
		if err != nil {
			return nil, err
		}
		return ResolvedSet{IDs: ids}, nil
	case RemoteSymbol:
		ids, err := resolver.ResolveRemote(n.Name, n.Remote)
		if err != nil {
			return nil, err
		}
		return ResolvedSet{IDs: ids}, nil
	case StringPatternExpr, ResolvedSet:
		return n, nil
	case *Union:
		left, err := Resolve(n.Left, resolver)
		if err != nil {
			return nil, err
		}
		right, err := Resolve(n.Right, resolver)
		if err != nil {
			return nil, err
		}
		return &Union{Left: left, Right: right}, nil
	case *Intersection:
		left, err := Resolve(n.Left, resolver)
		if err != nil {
			return nil, err
		}
		right, err := Resolve(n.Right, resolver)
		if err != nil {
			return nil, err
		}
		return &Intersection{Left: left, Right: right}, nil
	case *Difference:
		left, err := Resolve(n.Left, resolver)
		if err != nil {
			return nil, err
		}
		right, err := Resolve(n.Right, resolver)
		if err != nil {
			return nil, err
		}
		return &Difference{Left: left, Right: right}, nil
	case *Negate:
		x, err := Resolve(n.X, resolver)
		if err != nil {
			return nil, err
		}
		return &Negate{X: x}, nil
	case *DagRange:
		left, err := resolveMaybeNil(n.Left, resolver)
		if err != nil {
			return nil, err
		}
		right, err := resolveMaybeNil(n.Right, resolver)
		if err != nil {
			return nil, err
		}
		return &DagRange{Left: left, Right: right}, nil
	case *Range:
		left, err := resolveMaybeNil(n.Left, resolver)
		if err != nil {
			return nil, err
		}
		right, err := resolveMaybeNil(n.Right, resolver)
		if err != nil {
			return nil, err
		}
		return &Range{Left: left, Right: right}, nil
	case *FunctionCall:
		resolveArgs := revsetArgIndices[n.Name]
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			if containsInt(resolveArgs, i) {
				resolved, err := Resolve(a, resolver)
				if err != nil {
					return nil, err
				}
				args[i] = resolved
			} else {
				args[i] = a
			}
		}
		return &FunctionCall{Name: n.Name, Args: args, Span: n.Span}, nil
	default:
		return e, nil
	}
}

func resolveMaybeNil(e Expr, resolver SymbolResolver) (Expr, error) {
	if e == nil {
		return nil, nil
	}
	return Resolve(e, resolver)
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
