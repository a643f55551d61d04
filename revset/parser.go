package revset

import "strings"

// parser is a hand-written recursive-descent / precedence-climbing parser
// over the token stream from lexer.go. Precedence from loosest to
// tightest binding: union `|`, intersection `&`, difference `~` (infix),
// negation `~` (prefix), range `a..b` / `a::b`, postfix `-`/`+`
// (parent/child).
type parser struct {
	toks       []token
	pos        int
	aliases    *AliasesMap
	aliasStack map[string]bool
}

var patternKinds = map[string]PatternKind{
	"exact":     PatternExact,
	"glob":      PatternGlob,
	"substring": PatternSubstring,
	"regex":     PatternRegex,
	"iregex":    PatternIRegex,
}

// Parse parses a revset expression, expanding any aliases declared in
// aliases (which may be nil, equivalent to an empty table).
func Parse(src string, aliases *AliasesMap) (Expr, error) {
	if aliases == nil {
		aliases = NewAliasesMap()
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, aliases: aliases, aliasStack: map[string]bool{}}
	expr, err := p.parseUnion()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, newParseError(SyntaxError, p.cur().span, "unexpected trailing input")
	}
	return expr, nil
}

func (p *parser) cur() token { return p.toks[p.pos] }
func (p *parser) advance()   { p.pos++ }
func (p *parser) peekNext() token {
	if p.pos+1 < len(p.toks) {
		return p.toks[p.pos+1]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) parseUnion() (Expr, error) {
	left, err := p.parseIntersection()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokPipe {
		p.advance()
		right, err := p.parseIntersection()
		if err != nil {
			return nil, err
		}
		left = &Union{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseIntersection() (Expr, error) {
	left, err := p.parseDifference()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokAmp {
		p.advance()
		right, err := p.parseDifference()
		if err != nil {
			return nil, err
		}
		left = &Intersection{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseDifference() (Expr, error) {
	left, err := p.parseNegate()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokTilde {
		p.advance()
		right, err := p.parseNegate()
		if err != nil {
			return nil, err
		}
		left = &Difference{Left: left, Right: right}
	}
	return left, nil
}

// parseNegate handles prefix `~x`. It only fires when we are at the
// start of an operand (i.e. called from parseDifference before any left
// operand has been consumed), so a `~` here is unambiguously prefix.
func (p *parser) parseNegate() (Expr, error) {
	if p.cur().kind == tokTilde {
		p.advance()
		x, err := p.parseNegate()
		if err != nil {
			return nil, err
		}
		return &Negate{X: x}, nil
	}
	return p.parseRange()
}

func canStartOperand(t token) bool {
	switch t.kind {
	case tokIdent, tokString, tokAt, tokLParen:
		return true
	default:
		return false
	}
}

func (p *parser) parseRange() (Expr, error) {
	if p.cur().kind == tokDagRange || p.cur().kind == tokRange {
		op := p.cur().kind
		p.advance()
		var right Expr
		var err error
		if canStartOperand(p.cur()) {
			right, err = p.parsePostfix()
			if err != nil {
				return nil, err
			}
		}
		if op == tokDagRange {
			return &DagRange{Left: nil, Right: right}, nil
		}
		return &Range{Left: nil, Right: right}, nil
	}

	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.cur().kind == tokDagRange || p.cur().kind == tokRange {
		op := p.cur().kind
		p.advance()
		var right Expr
		if canStartOperand(p.cur()) {
			right, err = p.parsePostfix()
			if err != nil {
				return nil, err
			}
		}
		if op == tokDagRange {
			return &DagRange{Left: left, Right: right}, nil
		}
		return &Range{Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) parsePostfix() (Expr, error) {
	operand, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().kind {
		case tokMinus:
			p.advance()
			operand = &FunctionCall{Name: "parents", Args: []Expr{operand}}
		case tokPlus:
			p.advance()
			operand = &FunctionCall{Name: "children", Args: []Expr{operand}}
		default:
			return operand, nil
		}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch t.kind {
	case tokLParen:
		p.advance()
		e, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		if p.cur().kind != tokRParen {
			return nil, newParseError(SyntaxError, p.cur().span, "expected ')'")
		}
		p.advance()
		return e, nil

	case tokString:
		p.advance()
		return Symbol{Name: t.text}, nil

	case tokAt:
		p.advance()
		return AtExpr{Workspace: ""}, nil

	case tokIdent:
		return p.parseIdentPrimary()

	default:
		return nil, newParseError(SyntaxError, t.span, "expected an expression")
	}
}

func (p *parser) parseIdentPrimary() (Expr, error) {
	t := p.cur()
	name := t.text

	if kind, ok := patternKinds[name]; ok && p.peekNext().kind == tokColon {
		p.advance()
		p.advance()
		valTok := p.cur()
		var value string
		switch valTok.kind {
		case tokString, tokIdent:
			value = valTok.text
			p.advance()
		default:
			return nil, newParseError(SyntaxError, valTok.span, "expected pattern value")
		}
		return StringPatternExpr{Pattern: StringPattern{Kind: kind, Value: value}}, nil
	}

	if p.peekNext().kind == tokLParen {
		span := t.span
		p.advance()
		p.advance()
		var args []Expr
		if p.cur().kind != tokRParen {
			for {
				arg, err := p.parseUnion()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.cur().kind == tokComma {
					p.advance()
					continue
				}
				break
			}
		}
		if p.cur().kind != tokRParen {
			return nil, newParseError(SyntaxError, p.cur().span, "expected ')'")
		}
		span.End = p.cur().span.End
		p.advance()

		if expanded, isAlias, err := p.expandFunctionAlias(name, args); isAlias {
			if err != nil {
				return nil, err
			}
			return expanded, nil
		}
		if !isBuiltinFunction(name) {
			return nil, newParseError(NoSuchFunction, span, name)
		}
		return &FunctionCall{Name: name, Args: args, Span: span}, nil
	}

	if p.peekNext().kind == tokAt {
		p.advance()
		p.advance()
		if p.cur().kind == tokIdent {
			remote := p.cur().text
			p.advance()
			return RemoteSymbol{Name: name, Remote: remote}, nil
		}
		return AtExpr{Workspace: name}, nil
	}

	p.advance()
	if expanded, err := p.expandSymbolAlias(name); expanded != nil || err != nil {
		return expanded, err
	}
	return Symbol{Name: name}, nil
}

var builtinFunctionNames = map[string]bool{
	"heads": true, "roots": true, "parents": true, "children": true,
	"ancestors": true, "descendants": true, "connected": true,
	"all": true, "none": true, "branches": true, "tags": true,
	"remote_branches": true, "git_refs": true, "git_head": true,
	"visible_heads": true, "public_heads": true, "conflicts": true,
	"empty": true, "file": true, "description": true, "author": true,
	"committer": true, "topics": true, "working_copies": true,
	"latest": true, "merges": true,
}

func isBuiltinFunction(name string) bool {
	return builtinFunctionNames[strings.ToLower(name)]
}
