package revset

// AliasesMap holds user-defined revset aliases, declared in configuration
// as `revset-aliases.<name>` (a symbol alias) or
// `revset-aliases.<name(params)>` (a function alias). Symbol and function
// aliases live in independent namespaces; both expand textually at parse
// time.
type AliasesMap struct {
	symbols   map[string]string
	functions map[string]aliasFunc
}

type aliasFunc struct {
	params []string
	body   string
}

// NewAliasesMap returns an empty alias table.
func NewAliasesMap() *AliasesMap {
	return &AliasesMap{symbols: map[string]string{}, functions: map[string]aliasFunc{}}
}

// InsertSymbol declares `name = body` for a bare-symbol alias.
func (m *AliasesMap) InsertSymbol(name, body string) {
	m.symbols[name] = body
}

// InsertFunction declares `name(params) = body` for a function alias. An
// error is returned if params repeats a name.
func (m *AliasesMap) InsertFunction(name string, params []string, body string) error {
	seen := map[string]bool{}
	for _, p := range params {
		if seen[p] {
			return newParseError(RedefinedFunctionParameter, Span{}, p)
		}
		seen[p] = true
	}
	m.functions[name] = aliasFunc{params: params, body: body}
	return nil
}

const maxAliasExpansionDepth = 32

// wrapAliasBodyError tags a failure inside an alias body as
// BadAliasExpansion, except that a RecursiveAlias detected further down
// the chain keeps its own kind: the recursion is the root cause the
// caller needs to see, not the expansion it happened inside.
func wrapAliasBodyError(name string, err error) error {
	if perr, ok := err.(*ParseError); ok && perr.Kind == RecursiveAlias {
		return err
	}
	return newParseError(BadAliasExpansion, Span{}, name+": "+err.Error())
}

// expandSymbolAlias parses an alias's body in the caller's alias context,
// tracking which alias names are already being expanded on this chain to
// reject self-reference (RecursiveAlias) and enforcing a depth cap
// (BadAliasExpansion) against runaway mutual recursion.
func (p *parser) expandSymbolAlias(name string) (Expr, error) {
	body, ok := p.aliases.symbols[name]
	if !ok {
		return nil, nil
	}
	if p.aliasStack[name] {
		return nil, newParseError(RecursiveAlias, Span{}, name)
	}
	if len(p.aliasStack) >= maxAliasExpansionDepth {
		return nil, newParseError(BadAliasExpansion, Span{}, name)
	}
	sub := &parser{aliases: p.aliases, aliasStack: cloneAliasStack(p.aliasStack, name)}
	var err error
	sub.toks, err = lex(body)
	if err != nil {
		return nil, wrapAliasBodyError(name, err)
	}
	expr, err := sub.parseUnion()
	if err != nil {
		return nil, wrapAliasBodyError(name, err)
	}
	if sub.cur().kind != tokEOF {
		return nil, newParseError(BadAliasExpansion, Span{}, name+": trailing input in alias body")
	}
	return expr, nil
}

func (p *parser) expandFunctionAlias(name string, args []Expr) (Expr, bool, error) {
	fn, ok := p.aliases.functions[name]
	if !ok {
		return nil, false, nil
	}
	if p.aliasStack[name] {
		return nil, true, newParseError(RecursiveAlias, Span{}, name)
	}
	if len(p.aliasStack) >= maxAliasExpansionDepth {
		return nil, true, newParseError(BadAliasExpansion, Span{}, name)
	}
	if len(args) != len(fn.params) {
		return nil, true, newParseError(InvalidFunctionArguments, Span{}, name)
	}
	sub := &parser{aliases: p.aliases, aliasStack: cloneAliasStack(p.aliasStack, name)}
	var err error
	sub.toks, err = lex(fn.body)
	if err != nil {
		return nil, true, wrapAliasBodyError(name, err)
	}
	body, err := sub.parseUnion()
	if err != nil {
		return nil, true, wrapAliasBodyError(name, err)
	}
	if sub.cur().kind != tokEOF {
		return nil, true, newParseError(BadAliasExpansion, Span{}, name+": trailing input in alias body")
	}
	bindings := make(map[string]Expr, len(fn.params))
	for i, param := range fn.params {
		bindings[param] = args[i]
	}
	return substituteParams(body, bindings), true, nil
}

func cloneAliasStack(stack map[string]bool, add string) map[string]bool {
	out := make(map[string]bool, len(stack)+1)
	for k := range stack {
		out[k] = true
	}
	out[add] = true
	return out
}

// substituteParams replaces Symbol leaves matching a parameter name with
// the caller-supplied argument expression, walking the whole tree.
func substituteParams(e Expr, bindings map[string]Expr) Expr {
	switch n := e.(type) {
	case Symbol:
		if repl, ok := bindings[n.Name]; ok {
			return repl
		}
		return n
	case AtExpr, RemoteSymbol, StringPatternExpr:
		return n
	case *FunctionCall:
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = substituteParams(a, bindings)
		}
		return &FunctionCall{Name: n.Name, Args: args, Span: n.Span}
	case *Union:
		return &Union{substituteParams(n.Left, bindings), substituteParams(n.Right, bindings)}
	case *Intersection:
		return &Intersection{substituteParams(n.Left, bindings), substituteParams(n.Right, bindings)}
	case *Difference:
		return &Difference{substituteParams(n.Left, bindings), substituteParams(n.Right, bindings)}
	case *Negate:
		return &Negate{substituteParams(n.X, bindings)}
	case *DagRange:
		return &DagRange{substituteParamsMaybeNil(n.Left, bindings), substituteParamsMaybeNil(n.Right, bindings)}
	case *Range:
		return &Range{substituteParamsMaybeNil(n.Left, bindings), substituteParamsMaybeNil(n.Right, bindings)}
	default:
		return e
	}
}

func substituteParamsMaybeNil(e Expr, bindings map[string]Expr) Expr {
	if e == nil {
		return nil
	}
	return substituteParams(e, bindings)
}
