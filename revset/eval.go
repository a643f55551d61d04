package revset

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sourcegraph/sourcegraph/lib/errors"

	"github.com/opdag/vcscore/backend"
	"github.com/opdag/vcscore/index"
	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/view"
)

// Evaluator runs a resolved revset AST against an index.Index, reading
// commit metadata from a backend.Backend only when a filter function
// needs it (description/author/committer/empty/conflicts/file/merges/
// latest). Sets are materialized eagerly; a commit-metadata cache keeps
// repeated filter evaluation from re-reading the backend.
type Evaluator struct {
	Index   *index.Index
	View    *view.View
	Backend backend.Backend

	commits map[string]backend.Commit
}

// NewEvaluator builds an Evaluator over idx/v/be. Backend may be nil if
// the caller knows the expression contains no commit-metadata filter
// (description/author/committer/empty/conflicts/file/merges/latest);
// such an expression will panic with a nil-pointer error if that
// assumption turns out to be wrong, same as any other Go interface
// misuse of a nil value.
func NewEvaluator(idx *index.Index, v *view.View, be backend.Backend) *Evaluator {
	return &Evaluator{Index: idx, View: v, Backend: be, commits: map[string]backend.Commit{}}
}

// Evaluate resolves and evaluates src against e, returning commit ids in
// reverse topological order (children before parents).
func Evaluate(src string, aliases *AliasesMap, e *Evaluator, resolver SymbolResolver) ([]objectid.ID, error) {
	ast, err := Parse(src, aliases)
	if err != nil {
		return nil, err
	}
	ast = Optimize(ast)
	resolved, err := Resolve(ast, resolver)
	if err != nil {
		return nil, err
	}
	return e.Eval(resolved)
}

// Eval evaluates an already-resolved expression tree.
func (e *Evaluator) Eval(expr Expr) ([]objectid.ID, error) {
	set, err := e.evalSet(expr)
	if err != nil {
		return nil, err
	}
	return e.orderByPosition(set), nil
}

// commitSet is a working representation of "a set of commit ids", keyed
// by hex for dedup; order is never significant until the final output
// ordering pass in orderByPosition.
type commitSet map[string]objectid.ID

func newCommitSet(ids []objectid.ID) commitSet {
	out := make(commitSet, len(ids))
	for _, id := range ids {
		out[id.Hex()] = id
	}
	return out
}

func (s commitSet) toSlice() []objectid.ID {
	out := make([]objectid.ID, 0, len(s))
	for _, id := range s {
		out = append(out, id)
	}
	return out
}

func unionSets(a, b commitSet) commitSet {
	out := make(commitSet, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func intersectSets(a, b commitSet) commitSet {
	out := commitSet{}
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for k, v := range small {
		if _, ok := big[k]; ok {
			out[k] = v
		}
	}
	return out
}

func diffSets(a, b commitSet) commitSet {
	out := make(commitSet, len(a))
	for k, v := range a {
		if _, ok := b[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// orderByPosition sorts a set by index position descending. Commits are
// added to the index parents-before-children, so descending position
// order is exactly "children before parents".
func (e *Evaluator) orderByPosition(set commitSet) []objectid.ID {
	ids := set.toSlice()
	sort.Slice(ids, func(i, j int) bool {
		pi, _ := e.Index.PositionOf(ids[i])
		pj, _ := e.Index.PositionOf(ids[j])
		return pi > pj
	})
	return ids
}

func (e *Evaluator) evalSet(expr Expr) (commitSet, error) {
	switch n := expr.(type) {
	case ResolvedSet:
		return newCommitSet(n.IDs), nil
	case *Union:
		left, err := e.evalSet(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := e.evalSet(n.Right)
		if err != nil {
			return nil, err
		}
		return unionSets(left, right), nil
	case *Intersection:
		left, err := e.evalSet(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := e.evalSet(n.Right)
		if err != nil {
			return nil, err
		}
		return intersectSets(left, right), nil
	case *Difference:
		left, err := e.evalSet(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := e.evalSet(n.Right)
		if err != nil {
			return nil, err
		}
		return diffSets(left, right), nil
	case *Negate:
		x, err := e.evalSet(n.X)
		if err != nil {
			return nil, err
		}
		return diffSets(newCommitSet(e.Index.AllIDs()), x), nil
	case *DagRange:
		return e.evalDagRange(n.Left, n.Right)
	case *Range:
		return e.evalRange(n.Left, n.Right)
	case *FunctionCall:
		return e.evalFunction(n)
	default:
		return nil, errors.Wrapf(ErrEvaluation, "cannot evaluate unresolved expression %T (did you call Resolve first?)", expr)
	}
}

func (e *Evaluator) rootSet() commitSet {
	return commitSet{e.Backend.RootCommitID().Hex(): e.Backend.RootCommitID()}
}

func (e *Evaluator) visibleHeadsSet() commitSet {
	return newCommitSet(view.SortedHeadIDs(e.View.HeadIDs))
}

func (e *Evaluator) evalSetOrDefault(x Expr, dflt func() commitSet) (commitSet, error) {
	if x == nil {
		return dflt(), nil
	}
	return e.evalSet(x)
}

// evalDagRange implements `a::b`: descendants of a that are also
// ancestors of b. Missing sides default to root()/visible_heads().
func (e *Evaluator) evalDagRange(leftExpr, rightExpr Expr) (commitSet, error) {
	left, err := e.evalSetOrDefault(leftExpr, e.rootSet)
	if err != nil {
		return nil, err
	}
	right, err := e.evalSetOrDefault(rightExpr, e.visibleHeadsSet)
	if err != nil {
		return nil, err
	}
	descendantsOfLeft := newCommitSet(e.Index.Descendants(left.toSlice()))
	ancestorsOfRight := newCommitSet(e.Index.Ancestors(right.toSlice()))
	return intersectSets(descendantsOfLeft, ancestorsOfRight), nil
}

// evalRange implements `a..b`: ancestors of b excluding ancestors of a.
func (e *Evaluator) evalRange(leftExpr, rightExpr Expr) (commitSet, error) {
	left, err := e.evalSetOrDefault(leftExpr, e.rootSet)
	if err != nil {
		return nil, err
	}
	right, err := e.evalSetOrDefault(rightExpr, e.visibleHeadsSet)
	if err != nil {
		return nil, err
	}
	ancestorsOfLeft := newCommitSet(e.Index.Ancestors(left.toSlice()))
	ancestorsOfRight := newCommitSet(e.Index.Ancestors(right.toSlice()))
	return diffSets(ancestorsOfRight, ancestorsOfLeft), nil
}

func (e *Evaluator) commit(id objectid.ID) (backend.Commit, error) {
	if c, ok := e.commits[id.Hex()]; ok {
		return c, nil
	}
	c, err := e.Backend.ReadCommit(id)
	if err != nil {
		return backend.Commit{}, err
	}
	e.commits[id.Hex()] = c
	return c, nil
}

// patternArg extracts the text of a pattern-position function argument,
// which the parser leaves as either a bare Symbol (treated as an implicit
// substring pattern) or a StringPatternExpr (an explicit `kind:value`).
func patternArg(arg Expr) (StringPattern, error) {
	switch a := arg.(type) {
	case Symbol:
		return StringPattern{Kind: PatternSubstring, Value: a.Name}, nil
	case StringPatternExpr:
		return a.Pattern, nil
	default:
		return StringPattern{}, errors.Wrapf(ErrEvaluation, "expected a string pattern argument, got %T", arg)
	}
}

func intArg(arg Expr) (int, error) {
	sym, ok := arg.(Symbol)
	if !ok {
		return 0, errors.Wrapf(ErrEvaluation, "expected an integer argument, got %T", arg)
	}
	n, err := strconv.Atoi(sym.Name)
	if err != nil {
		return 0, errors.Wrapf(ErrEvaluation, "invalid integer argument %q", sym.Name)
	}
	return n, nil
}

func matcherFromOptionalArg(args []Expr) (Matcher, error) {
	if len(args) == 0 {
		return nil, nil
	}
	p, err := patternArg(args[0])
	if err != nil {
		return nil, err
	}
	return Compile(p)
}

func (e *Evaluator) evalFunction(n *FunctionCall) (commitSet, error) {
	name := strings.ToLower(n.Name)
	switch name {
	case "heads":
		x, err := e.arg0Set(n)
		if err != nil {
			return nil, err
		}
		return newCommitSet(e.Index.HeadsOfSet(x.toSlice())), nil
	case "roots":
		x, err := e.arg0Set(n)
		if err != nil {
			return nil, err
		}
		return newCommitSet(e.Index.RootsOfSet(x.toSlice())), nil
	case "parents":
		x, err := e.arg0Set(n)
		if err != nil {
			return nil, err
		}
		return newCommitSet(e.Index.Parents(x.toSlice())), nil
	case "children":
		x, err := e.arg0Set(n)
		if err != nil {
			return nil, err
		}
		return newCommitSet(e.Index.Children(x.toSlice())), nil
	case "ancestors":
		return e.evalAncestorsLike(n, e.Index.Ancestors, e.Index.AncestorsWithin)
	case "descendants":
		return e.evalAncestorsLike(n, e.Index.Descendants, e.Index.DescendantsWithin)
	case "connected":
		x, err := e.arg0Set(n)
		if err != nil {
			return nil, err
		}
		roots := e.Index.RootsOfSet(x.toSlice())
		heads := e.Index.HeadsOfSet(x.toSlice())
		descendantsOfRoots := newCommitSet(e.Index.Descendants(roots))
		ancestorsOfHeads := newCommitSet(e.Index.Ancestors(heads))
		return intersectSets(descendantsOfRoots, ancestorsOfHeads), nil
	case "all":
		return newCommitSet(e.Index.AllIDs()), nil
	case "none":
		return commitSet{}, nil
	case "branches":
		m, err := matcherFromOptionalArg(n.Args)
		if err != nil {
			return nil, err
		}
		out := commitSet{}
		for bname, rt := range e.View.LocalBranches {
			if m == nil || m.Match(bname) {
				for _, id := range rt.AddedIDs() {
					out[id.Hex()] = id
				}
			}
		}
		return out, nil
	case "tags":
		m, err := matcherFromOptionalArg(n.Args)
		if err != nil {
			return nil, err
		}
		out := commitSet{}
		for tname, rt := range e.View.Tags {
			if m == nil || m.Match(tname) {
				for _, id := range rt.AddedIDs() {
					out[id.Hex()] = id
				}
			}
		}
		return out, nil
	case "remote_branches":
		return e.evalRemoteBranches(n)
	case "git_refs":
		out := commitSet{}
		for _, rt := range e.View.GitRefs {
			for _, id := range rt.AddedIDs() {
				out[id.Hex()] = id
			}
		}
		return out, nil
	case "git_head":
		return newCommitSet(e.View.GitHead.AddedIDs()), nil
	case "visible_heads":
		return e.visibleHeadsSet(), nil
	case "public_heads":
		return newCommitSet(view.SortedHeadIDs(e.View.PublicHeadIDs)), nil
	case "conflicts":
		return e.evalConflicts()
	case "empty":
		return e.evalEmpty()
	case "file":
		return e.evalFile(n)
	case "description":
		return e.evalTextFilter(n, func(c backend.Commit) string { return c.Description })
	case "author":
		return e.evalTextFilter(n, func(c backend.Commit) string { return c.Author.Name + " <" + c.Author.Email + ">" })
	case "committer":
		return e.evalTextFilter(n, func(c backend.Commit) string { return c.Committer.Name + " <" + c.Committer.Email + ">" })
	case "topics":
		m, err := matcherFromOptionalArg(n.Args)
		if err != nil {
			return nil, err
		}
		out := commitSet{}
		for tname, ids := range e.View.Topics {
			if m == nil || m.Match(tname) {
				for _, id := range ids {
					out[id.Hex()] = id
				}
			}
		}
		return out, nil
	case "working_copies":
		out := commitSet{}
		for _, rt := range e.View.WCCommitIDs {
			for _, id := range rt.AddedIDs() {
				out[id.Hex()] = id
			}
		}
		return out, nil
	case "latest":
		return e.evalLatest(n)
	case "merges":
		return e.evalMerges()
	default:
		return nil, errors.Wrapf(ErrEvaluation, "unimplemented revset function %q", n.Name)
	}
}

func (e *Evaluator) arg0Set(n *FunctionCall) (commitSet, error) {
	if len(n.Args) == 0 {
		return nil, errors.Wrapf(ErrEvaluation, "%s() requires an argument", n.Name)
	}
	return e.evalSet(n.Args[0])
}

func (e *Evaluator) evalAncestorsLike(n *FunctionCall, unbounded func([]objectid.ID) []objectid.ID, bounded func([]objectid.ID, int) []objectid.ID) (commitSet, error) {
	x, err := e.arg0Set(n)
	if err != nil {
		return nil, err
	}
	if len(n.Args) < 2 {
		return newCommitSet(unbounded(x.toSlice())), nil
	}
	depth, err := intArg(n.Args[1])
	if err != nil {
		return nil, err
	}
	return newCommitSet(bounded(x.toSlice(), depth)), nil
}

func (e *Evaluator) evalRemoteBranches(n *FunctionCall) (commitSet, error) {
	var pattern Matcher
	var remoteFilter string
	if len(n.Args) > 0 {
		p, err := patternArg(n.Args[0])
		if err != nil {
			return nil, err
		}
		if m, err := Compile(p); err == nil {
			pattern = m
		}
	}
	if len(n.Args) > 1 {
		if sym, ok := n.Args[1].(Symbol); ok {
			remoteFilter = sym.Name
		}
	}
	out := commitSet{}
	for remote, rv := range e.View.RemoteViews {
		if remoteFilter != "" && remote != remoteFilter {
			continue
		}
		for bname, rt := range rv.Branches {
			if pattern == nil || pattern.Match(bname) {
				for _, id := range rt.AddedIDs() {
					out[id.Hex()] = id
				}
			}
		}
	}
	return out, nil
}

// evalConflicts finds commits whose root tree contains a conflict entry,
// recursively.
func (e *Evaluator) evalConflicts() (commitSet, error) {
	out := commitSet{}
	for _, id := range e.Index.AllIDs() {
		c, err := e.commit(id)
		if err != nil {
			return nil, err
		}
		has, err := e.treeHasConflict("", c.RootTree)
		if err != nil {
			return nil, err
		}
		if has {
			out[id.Hex()] = id
		}
	}
	return out, nil
}

func (e *Evaluator) treeHasConflict(path string, treeID objectid.ID) (bool, error) {
	tree, err := e.Backend.ReadTree(path, treeID)
	if err != nil {
		return false, err
	}
	for _, entry := range tree.Entries {
		if entry.Kind == backend.TreeEntryConflict {
			return true, nil
		}
		if entry.Kind == backend.TreeEntryTree {
			has, err := e.treeHasConflict(path+"/"+entry.Name, entry.ID)
			if err != nil {
				return false, err
			}
			if has {
				return true, nil
			}
		}
	}
	return false, nil
}

// evalEmpty finds commits whose tree introduces no change relative to
// their parent. The root commit is empty iff its tree is the empty tree;
// a merge commit is never considered empty, since its whole point is the
// combination of its parents.
func (e *Evaluator) evalEmpty() (commitSet, error) {
	out := commitSet{}
	for _, id := range e.Index.AllIDs() {
		c, err := e.commit(id)
		if err != nil {
			return nil, err
		}
		switch len(c.Parents) {
		case 0:
			if c.RootTree.Equal(e.Backend.EmptyTreeID()) {
				out[id.Hex()] = id
			}
		case 1:
			parent, err := e.commit(c.Parents[0])
			if err != nil {
				return nil, err
			}
			if c.RootTree.Equal(parent.RootTree) {
				out[id.Hex()] = id
			}
		}
	}
	return out, nil
}

// evalFile finds commits whose tree contains an entry at one of the
// given top-level-relative paths, exact match. This does not compute a
// content diff against the parent (that belongs to the diff layer); it
// is a presence test, which is enough to narrow a revset to "touches
// this path".
func (e *Evaluator) evalFile(n *FunctionCall) (commitSet, error) {
	var paths []string
	for _, a := range n.Args {
		sym, ok := a.(Symbol)
		if !ok {
			return nil, errors.Wrapf(ErrEvaluation, "file() arguments must be plain path strings, got %T", a)
		}
		paths = append(paths, sym.Name)
	}
	out := commitSet{}
	for _, id := range e.Index.AllIDs() {
		c, err := e.commit(id)
		if err != nil {
			return nil, err
		}
		found, err := e.treeHasAnyPath("", c.RootTree, paths)
		if err != nil {
			return nil, err
		}
		if found {
			out[id.Hex()] = id
		}
	}
	return out, nil
}

func (e *Evaluator) treeHasAnyPath(path string, treeID objectid.ID, targets []string) (bool, error) {
	tree, err := e.Backend.ReadTree(path, treeID)
	if err != nil {
		return false, err
	}
	for _, entry := range tree.Entries {
		entryPath := strings.TrimPrefix(path+"/"+entry.Name, "/")
		for _, t := range targets {
			if entryPath == t || strings.HasPrefix(entryPath, t+"/") {
				return true, nil
			}
		}
		if entry.Kind == backend.TreeEntryTree {
			found, err := e.treeHasAnyPath(path+"/"+entry.Name, entry.ID, targets)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}
	}
	return false, nil
}

func (e *Evaluator) evalTextFilter(n *FunctionCall, field func(backend.Commit) string) (commitSet, error) {
	if len(n.Args) == 0 {
		return nil, errors.Wrapf(ErrEvaluation, "%s() requires a pattern argument", n.Name)
	}
	p, err := patternArg(n.Args[0])
	if err != nil {
		return nil, err
	}
	m, err := Compile(p)
	if err != nil {
		return nil, err
	}
	out := commitSet{}
	for _, id := range e.Index.AllIDs() {
		c, err := e.commit(id)
		if err != nil {
			return nil, err
		}
		if m.Match(field(c)) {
			out[id.Hex()] = id
		}
	}
	return out, nil
}

func (e *Evaluator) evalMerges() (commitSet, error) {
	out := commitSet{}
	for _, id := range e.Index.AllIDs() {
		c, err := e.commit(id)
		if err != nil {
			return nil, err
		}
		if len(c.Parents) > 1 {
			out[id.Hex()] = id
		}
	}
	return out, nil
}

// evalLatest implements `latest(x[, count])`: the count most-recently
// committed members of x, ordered by committer timestamp.
func (e *Evaluator) evalLatest(n *FunctionCall) (commitSet, error) {
	x, err := e.arg0Set(n)
	if err != nil {
		return nil, err
	}
	count := 1
	if len(n.Args) > 1 {
		count, err = intArg(n.Args[1])
		if err != nil {
			return nil, err
		}
	}
	ids := x.toSlice()
	commits := make([]backend.Commit, len(ids))
	for i, id := range ids {
		c, err := e.commit(id)
		if err != nil {
			return nil, err
		}
		commits[i] = c
	}
	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return commits[order[i]].Committer.Timestamp.After(commits[order[j]].Committer.Timestamp)
	})
	if count > len(order) {
		count = len(order)
	}
	out := commitSet{}
	for _, i := range order[:count] {
		out[ids[i].Hex()] = ids[i]
	}
	return out, nil
}
