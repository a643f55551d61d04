package revset

// Optimize applies meaning-preserving local rewrites: flatten nested
// unions, fold `a ~ (a & b)` into `a ~ b`, push negation inside unions
// (De Morgan), and lift cheap operands to the left of intersections. The
// point is to shrink the tree before it drives index lookups, never to
// change what it selects.
func Optimize(e Expr) Expr {
	return optimize(e)
}

func optimize(e Expr) Expr {
	switch n := e.(type) {
	case *Union:
		return optimizeUnion(n)
	case *Intersection:
		return optimizeIntersection(n)
	case *Difference:
		return optimizeDifference(n)
	case *Negate:
		return optimizeNegate(n)
	case *DagRange:
		return &DagRange{Left: optimizeMaybeNil(n.Left), Right: optimizeMaybeNil(n.Right)}
	case *Range:
		return &Range{Left: optimizeMaybeNil(n.Left), Right: optimizeMaybeNil(n.Right)}
	case *FunctionCall:
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = optimize(a)
		}
		return &FunctionCall{Name: n.Name, Args: args, Span: n.Span}
	default:
		return e
	}
}

func optimizeMaybeNil(e Expr) Expr {
	if e == nil {
		return nil
	}
	return optimize(e)
}

// flattenUnion collects a left-leaning or right-leaning chain of unions
// into a flat slice of operands.
func flattenUnion(e Expr) []Expr {
	if u, ok := e.(*Union); ok {
		return append(flattenUnion(u.Left), flattenUnion(u.Right)...)
	}
	return []Expr{e}
}

func optimizeUnion(n *Union) Expr {
	left := optimize(n.Left)
	right := optimize(n.Right)
	operands := append(flattenUnion(left), flattenUnion(right)...)
	result := operands[0]
	for _, op := range operands[1:] {
		result = &Union{Left: result, Right: op}
	}
	return result
}

func optimizeIntersection(n *Intersection) Expr {
	left := optimize(n.Left)
	right := optimize(n.Right)
	// Lift a cheap operand (a plain symbol, `@` or remote symbol) to the
	// left. The evaluator computes both operands either way and iterates
	// the smaller set, so this only fixes a canonical operand order.
	if !isCheapOperand(left) && isCheapOperand(right) {
		left, right = right, left
	}
	return &Intersection{Left: left, Right: right}
}

func isCheapOperand(e Expr) bool {
	switch e.(type) {
	case Symbol, AtExpr, RemoteSymbol:
		return true
	default:
		return false
	}
}

// optimizeDifference folds `a ~ (a & b)` to `a ~ b`: the intersection
// with a itself is redundant once it's already excluded.
func optimizeDifference(n *Difference) Expr {
	left := optimize(n.Left)
	right := optimize(n.Right)
	if inter, ok := right.(*Intersection); ok {
		if exprEqual(inter.Left, left) {
			return &Difference{Left: left, Right: inter.Right}
		}
		if exprEqual(inter.Right, left) {
			return &Difference{Left: left, Right: inter.Left}
		}
	}
	return &Difference{Left: left, Right: right}
}

// optimizeNegate pushes `~` inside a union via De Morgan's law:
// ~(a | b) == ~a & ~b. The evaluator still materializes each `~x` as
// the complement of x within all indexed commits.
func optimizeNegate(n *Negate) Expr {
	x := optimize(n.X)
	if u, ok := x.(*Union); ok {
		return optimize(&Intersection{Left: &Negate{X: u.Left}, Right: &Negate{X: u.Right}})
	}
	if neg, ok := x.(*Negate); ok {
		return neg.X
	}
	return &Negate{X: x}
}

// exprEqual is a structural equality check used only to detect the
// redundant-intersection pattern above; it does not need to be a full
// general-purpose AST comparison.
func exprEqual(a, b Expr) bool {
	switch av := a.(type) {
	case Symbol:
		bv, ok := b.(Symbol)
		return ok && av == bv
	case AtExpr:
		bv, ok := b.(AtExpr)
		return ok && av == bv
	case RemoteSymbol:
		bv, ok := b.(RemoteSymbol)
		return ok && av == bv
	default:
		return false
	}
}
