// Package engineerr is the structured error type shared by the
// frontend, compiler, and VM. Its shape — a Kind enum, a message, a
// source span, a rendered code snippet and a Suggestions slice — is
// ported from runtime/parser/errors.go's ParseError/ErrorType in the
// teacher, generalized from parse errors to the engine's full error
// taxonomy (spec.md §7).
package engineerr

import (
	"fmt"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/opal-lang/scriptengine/ast"
)

// Kind categorizes an error the way spec.md §7 requires.
type Kind int

const (
	KindSyntax Kind = iota
	KindReference
	KindType
	KindRange
	KindCancellation
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "SyntaxError"
	case KindReference:
		return "ReferenceError"
	case KindType:
		return "TypeError"
	case KindRange:
		return "RangeError"
	case KindCancellation:
		return "CancellationError"
	case KindInternal:
		return "InternalError"
	default:
		return "Error"
	}
}

// Error is the engine's structured error value. It satisfies the
// standard error interface and additionally carries enough information
// for the host to render a Rust/Clang-style snippet.
type Error struct {
	Kind        Kind
	Message     string
	Span        ast.Span
	Source      string   // full source text, for snippet rendering; may be empty
	Suggestions []string // ranked "did you mean" candidates
	Catchable   bool      // false for KindInternal — a program cannot catch it
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Message)
	if len(e.Suggestions) > 0 {
		fmt.Fprintf(&b, " (did you mean %s?)", strings.Join(quoteAll(e.Suggestions), " or "))
	}
	if snippet := e.snippet(); snippet != "" {
		b.WriteString("\n")
		b.WriteString(snippet)
	}
	return b.String()
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = "'" + s + "'"
	}
	return out
}

// snippet renders the offending line with a `-->` location header, a
// gutter, and a caret pointing at the error column — the same shape as
// ParseError.createCodeSnippet in the teacher.
func (e *Error) snippet() string {
	if e.Source == "" || e.Span.Start.Line == 0 {
		return ""
	}
	lines := strings.Split(e.Source, "\n")
	if e.Span.Start.Line > len(lines) {
		return ""
	}
	lineContent := lines[e.Span.Start.Line-1]

	var b strings.Builder
	fmt.Fprintf(&b, "  --> %d:%d\n", e.Span.Start.Line, e.Span.Start.Column)
	b.WriteString("   |\n")
	fmt.Fprintf(&b, "%2d | %s\n", e.Span.Start.Line, lineContent)
	b.WriteString("   | ")
	if e.Span.Start.Column > 0 && e.Span.Start.Column <= len(lineContent)+1 {
		b.WriteString(strings.Repeat(" ", e.Span.Start.Column-1) + "^")
	}
	return b.String()
}

// New builds a catchable error of the given kind.
func New(kind Kind, span ast.Span, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Span: span, Catchable: true}
}

// Internal builds an uncatchable internal-invariant error (spec.md §7).
func Internal(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Catchable: false}
}

// NewReferenceWithSuggestion builds a reference error and, if any
// candidate is a close match for name, attaches a ranked suggestion —
// grounded on runtime/planner/planner.go's fuzzy.RankFindFold use for
// decorator-name suggestions.
func NewReferenceWithSuggestion(span ast.Span, name string, candidates []string) *Error {
	e := New(KindReference, span, "%s is not defined", name)
	ranks := fuzzy.RankFindFold(name, candidates)
	if len(ranks) > 0 {
		best := ranks[0]
		for _, r := range ranks {
			if r.Distance < best.Distance {
				best = r
			}
		}
		if best.Distance <= 3 {
			e.Suggestions = []string{best.Target}
		}
	}
	return e
}

// WithSource attaches the full source text used for snippet rendering,
// returning e for chaining.
func (e *Error) WithSource(src string) *Error {
	e.Source = src
	return e
}
