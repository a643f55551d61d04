// Package revset implements the revision-set language: a small
// set-algebraic DSL over commits, parsed to an AST, optimized with local
// rewrites, resolved against a view.View, and evaluated over an
// index.Index.
package revset

import (
	"fmt"

	"github.com/sourcegraph/sourcegraph/lib/errors"
)

// ParseErrorKind distinguishes why parsing failed, so error handling code
// can switch on a stable, small vocabulary instead of matching message
// text.
type ParseErrorKind int

const (
	SyntaxError ParseErrorKind = iota
	NotPrefixOperator
	NotInfixOperator
	NotPostfixOperator
	NoSuchFunction
	InvalidFunctionArguments
	RedefinedFunctionParameter
	BadAliasExpansion
	RecursiveAlias
)

func (k ParseErrorKind) String() string {
	switch k {
	case SyntaxError:
		return "syntax error"
	case NotPrefixOperator:
		return "not a prefix operator"
	case NotInfixOperator:
		return "not an infix operator"
	case NotPostfixOperator:
		return "not a postfix operator"
	case NoSuchFunction:
		return "no such function"
	case InvalidFunctionArguments:
		return "invalid function arguments"
	case RedefinedFunctionParameter:
		return "redefinition of function parameter"
	case BadAliasExpansion:
		return "alias cannot be expanded"
	case RecursiveAlias:
		return "alias expanded recursively"
	default:
		return "unknown parse error"
	}
}

// ParseError is returned for any syntax problem encountered while
// parsing a revset expression or expanding an alias.
type ParseError struct {
	Kind    ParseErrorKind
	Span    Span
	Message string
}

// Span is a half-open byte range into the original expression text.
type Span struct {
	Start, End int
}

func (e *ParseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("revset parse error at %d..%d: %s: %s", e.Span.Start, e.Span.End, e.Kind, e.Message)
	}
	return fmt.Sprintf("revset parse error at %d..%d: %s", e.Span.Start, e.Span.End, e.Kind)
}

func newParseError(kind ParseErrorKind, span Span, message string) error {
	return &ParseError{Kind: kind, Span: span, Message: message}
}

// ResolutionErrorKind distinguishes why a symbol failed to resolve
// against a view.
type ResolutionErrorKind int

const (
	NoSuchRevision ResolutionErrorKind = iota
	AmbiguousIDPrefix
	NoSuchBranch
	WorkspaceMissingWcCommit
)

func (k ResolutionErrorKind) String() string {
	switch k {
	case NoSuchRevision:
		return "no such revision"
	case AmbiguousIDPrefix:
		return "ambiguous id prefix"
	case NoSuchBranch:
		return "no such branch"
	case WorkspaceMissingWcCommit:
		return "workspace has no working-copy commit"
	default:
		return "unknown resolution error"
	}
}

// ResolutionError is returned when a symbol cannot be bound to a commit
// set.
type ResolutionError struct {
	Kind ResolutionErrorKind
	Name string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("revset resolution error: %s: %q", e.Kind, e.Name)
}

func newResolutionError(kind ResolutionErrorKind, name string) error {
	return &ResolutionError{Kind: kind, Name: name}
}

// ErrEvaluation is wrapped around the evaluator's own failures while
// producing a revset's results: an unresolved node, an unknown function,
// a missing or malformed argument. Errors from the backend (reading a
// commit or tree) are returned as the backend produced them, without
// ErrEvaluation.
var ErrEvaluation = errors.New("revset evaluation error")
