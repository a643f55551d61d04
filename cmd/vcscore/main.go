// Command vcscore is a small smoke-test harness wiring the core packages
// together: init a repository, write commits, move branches, run revset
// queries and walk the operation log. The real command-line front end
// (argument parsing, templating, terminal output) is a separate layer and
// intentionally not built here.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sourcegraph/log"

	backendlocal "github.com/opdag/vcscore/backend/local"
	"github.com/opdag/vcscore/index"
	"github.com/opdag/vcscore/objectid"
	"github.com/opdag/vcscore/opheads"
	"github.com/opdag/vcscore/oplog"
	opstorelocal "github.com/opdag/vcscore/opstore/local"
	"github.com/opdag/vcscore/refconflict"
	"github.com/opdag/vcscore/repo"
	"github.com/opdag/vcscore/revset"
	"github.com/opdag/vcscore/view"
)

const usage = `vcscore <command> [flags]

Commands:
  init                     initialize a repository in -repo
  commit -m <msg> [-p id]  write a commit and check it out
  branch -name n [-to id]  set (or with no -to, delete) a local branch
  log [revset]             list commits matching a revset (default "::visible_heads()")
  oplog                    list operations, newest first
  undo                     undo the current operation`

func main() {
	liblog := log.Init(log.Resource{
		Name:       "vcscore",
		Version:    "dev",
		InstanceID: os.Getenv("HOSTNAME"),
	})
	defer liblog.Sync()
	logger := log.Scoped("vcscore", "")

	fs := flag.NewFlagSet("vcscore", flag.ExitOnError)
	repoDir := fs.String("repo", ".", "repository root directory")
	message := fs.String("m", "", "commit message")
	parent := fs.String("p", "", "parent commit id (hex, default: current @)")
	branchName := fs.String("name", "", "branch name")
	branchTo := fs.String("to", "", "branch target commit id (hex)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s\n\n", strings.TrimSpace(usage))
		fs.PrintDefaults()
	}

	if len(os.Args) < 2 {
		fs.Usage()
		os.Exit(2)
	}
	cmd := os.Args[1]
	if err := fs.Parse(os.Args[2:]); err != nil {
		fatalf("%v", err)
	}

	be, err := backendlocal.New(*repoDir, logger)
	if err != nil {
		fatalf("opening backend: %v", err)
	}
	ops, err := opstorelocal.New(*repoDir, logger)
	if err != nil {
		fatalf("opening op store: %v", err)
	}
	heads, err := opheads.New(*repoDir, logger)
	if err != nil {
		fatalf("opening op heads: %v", err)
	}
	idxStore, err := index.NewStore(*repoDir, logger, be, ops)
	if err != nil {
		fatalf("opening index store: %v", err)
	}
	settings := repo.UserSettings{
		Name:     envOr("VCSCORE_USER", "vcscore"),
		Email:    envOr("VCSCORE_EMAIL", "vcscore@localhost"),
		Hostname: envOr("HOSTNAME", "localhost"),
		Username: envOr("USER", "vcscore"),
	}

	if cmd == "init" {
		if _, err := repo.Init(*repoDir, be, ops, heads, idxStore, settings, logger); err != nil {
			fatalf("init: %v", err)
		}
		fmt.Println("initialized")
		return
	}

	r, err := repo.Load(*repoDir, be, ops, heads, idxStore, settings, logger)
	if err != nil {
		fatalf("loading repo: %v", err)
	}

	switch cmd {
	case "commit":
		runCommit(r, *message, *parent)
	case "branch":
		runBranch(r, *branchName, *branchTo)
	case "log":
		expr := "::visible_heads()"
		if fs.NArg() > 0 {
			expr = fs.Arg(0)
		}
		runLog(r, expr)
	case "oplog":
		runOpLog(r, ops, heads, idxStore)
	case "undo":
		r2, err := r.Undo(r.OperationID())
		if err != nil {
			fatalf("undo: %v", err)
		}
		fmt.Println("now at operation", r2.OperationID().Hex())
	default:
		fs.Usage()
		os.Exit(2)
	}
}

func runCommit(r *repo.ReadonlyRepo, message, parentHex string) {
	parentID := r.Backend().RootCommitID()
	if parentHex != "" {
		id, err := objectid.FromHex(parentHex)
		if err != nil {
			fatalf("bad parent id: %v", err)
		}
		parentID = id
	} else if wc, ok := r.View().WCCommitIDs[view.DefaultWorkspaceID]; ok {
		if id, ok := wc.AsNormal(); ok {
			parentID = id
		}
	}

	tx := r.StartTransaction("commit")
	id, err := tx.MutRepo().
		NewCommit([]objectid.ID{parentID}, r.Backend().EmptyTreeID()).
		SetDescription(message).
		Write()
	if err != nil {
		fatalf("writing commit: %v", err)
	}
	tx.MutRepo().CheckOut(view.DefaultWorkspaceID, id)
	if _, err := tx.Finish(""); err != nil {
		fatalf("finishing transaction: %v", err)
	}
	fmt.Println(id.Hex())
}

func runBranch(r *repo.ReadonlyRepo, name, toHex string) {
	if name == "" {
		fatalf("branch requires -name")
	}
	tx := r.StartTransaction("branch " + name)
	if toHex == "" {
		tx.MutRepo().RemoveLocalBranch(name)
	} else {
		id, err := objectid.FromHex(toHex)
		if err != nil {
			fatalf("bad branch target: %v", err)
		}
		tx.MutRepo().SetLocalBranch(name, refconflict.Normal(id))
	}
	if _, err := tx.Finish(""); err != nil {
		fatalf("finishing transaction: %v", err)
	}
}

func runLog(r *repo.ReadonlyRepo, expr string) {
	v := r.View()
	ev := revset.NewEvaluator(r.Index(), &v, r.Backend())
	resolver := &revset.ViewResolver{
		View:      &v,
		Index:     r.Index(),
		RootID:    r.Backend().RootCommitID(),
		Workspace: view.DefaultWorkspaceID,
	}
	ids, err := revset.Evaluate(expr, nil, ev, resolver)
	if err != nil {
		fatalf("evaluating %q: %v", expr, err)
	}
	for _, id := range ids {
		c, err := r.Backend().ReadCommit(id)
		if err != nil {
			fatalf("reading commit %s: %v", id.Hex(), err)
		}
		desc := c.Description
		if i := strings.IndexByte(desc, '\n'); i >= 0 {
			desc = desc[:i]
		}
		fmt.Printf("%s %s %s\n", shortHex(id), shortHex(c.ChangeID), desc)
	}
}

func runOpLog(r *repo.ReadonlyRepo, ops *opstorelocal.OpStore, heads *opheads.Store, idxStore *index.Store) {
	eng := oplog.New(ops, heads, idxStore)
	order, err := eng.WalkAncestors([]objectid.ID{r.OperationID()})
	if err != nil {
		fatalf("walking op log: %v", err)
	}
	for _, opID := range order {
		op, err := ops.ReadOperation(opID)
		if err != nil {
			fatalf("reading operation %s: %v", opID.Hex(), err)
		}
		fmt.Printf("%s %s %s\n", shortHex(opID), op.Metadata.EndTime.Format("2006-01-02 15:04:05"), op.Metadata.Description)
	}
}

func shortHex(id objectid.ID) string {
	h := id.Hex()
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
