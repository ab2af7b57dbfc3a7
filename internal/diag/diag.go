// Package diag implements the error model from §7: a typed AxiomError
// carrying a source span and call stack, grounded on the teacher's
// internal/errors.SentraError but widened to the §7 Kind table and wrapped
// with github.com/pkg/errors so callers get stack-traced Wrap/Cause chains
// on top of the structured fields.
package diag

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind enumerates the error categories from §7.
type Kind string

const (
	SyntaxError       Kind = "SyntaxError"
	CompileError      Kind = "CompileError"
	UndefinedVariable Kind = "UndefinedVariable"
	TypeError         Kind = "TypeError"
	PropertyError     Kind = "PropertyError"
	IndexError        Kind = "IndexError"
	ArityError        Kind = "ArityError"
	DivideByZero      Kind = "DivideByZero"
	StackOverflow     Kind = "StackOverflow"
	InternalError     Kind = "InternalError"

	// The §7 runtime error table, raised by package vm. Kept distinct from
	// the compile-time kinds above (which a future parser front-end would
	// raise) rather than collapsing TypeError/PropertyError/IndexError into
	// these, since diag.Kind is a string and both taxonomies are useful
	// independently in a disassembly or log filter.
	NilCall           Kind = "NilCall"
	NotCallable       Kind = "NotCallable"
	ArityMismatch     Kind = "ArityMismatch"
	TypeMismatch      Kind = "TypeMismatch"
	DivisionByZero    Kind = "DivisionByZero"
	IndexOutOfBounds  Kind = "IndexOutOfBounds"
	ImportError       Kind = "ImportError"
	Generic           Kind = "Generic"
)

// SourceSpan locates an error in source text; File may be empty for
// synthetic or native-originated errors.
type SourceSpan struct {
	File   string
	Line   int
	Column int
}

// StackFrame is one call-stack entry captured at raise time (§7 "errors
// carry the VM call stack at the point of failure").
type StackFrame struct {
	Function string
	Line     int
}

// AxiomError is the runtime's structured error value. It always satisfies
// the error interface and is safe to pass through pkg/errors.Wrap.
type AxiomError struct {
	Kind      Kind
	Message   string
	Span      SourceSpan
	CallStack []StackFrame
	Source    string // offending source line, if known
}

func New(kind Kind, format string, args ...any) *AxiomError {
	return &AxiomError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *AxiomError) WithSpan(span SourceSpan) *AxiomError {
	e.Span = span
	return e
}

func (e *AxiomError) WithSource(line string) *AxiomError {
	e.Source = line
	return e
}

func (e *AxiomError) WithFrame(function string, line int) *AxiomError {
	e.CallStack = append(e.CallStack, StackFrame{Function: function, Line: line})
	return e
}

func (e *AxiomError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s: %s", e.Kind, e.Message))
	if e.Span.File != "" {
		sb.WriteString(fmt.Sprintf("\n  at %s:%d:%d", e.Span.File, e.Span.Line, e.Span.Column))
		if e.Source != "" {
			sb.WriteString(fmt.Sprintf("\n  %d | %s", e.Span.Line, e.Source))
			if e.Span.Column > 0 {
				sb.WriteString("\n  " + strings.Repeat(" ", len(fmt.Sprintf("%d | ", e.Span.Line))+e.Span.Column-1) + "^")
			}
		}
	}
	for i := len(e.CallStack) - 1; i >= 0; i-- {
		f := e.CallStack[i]
		sb.WriteString(fmt.Sprintf("\n  at %s:%d", f.Function, f.Line))
	}
	return sb.String()
}

// Wrap attaches a pkg/errors stack trace to an AxiomError so higher layers
// (cmd/axiom) can print %+v for a Go-side stack alongside the language-side
// call stack.
func Wrap(e *AxiomError) error {
	return errors.WithStack(e)
}

// Levenshtein returns the edit distance between a and b, used by
// UndefinedVariable's "did you mean" suggestion (§7).
func Levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Suggest returns the closest name to target within maxDist edits, or ""
// if nothing in candidates is close enough. Used to populate
// UndefinedVariable's "did you mean <name>?" hint.
func Suggest(target string, candidates []string, maxDist int) string {
	best := ""
	bestDist := maxDist + 1
	for _, c := range candidates {
		d := Levenshtein(target, c)
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	if bestDist > maxDist {
		return ""
	}
	return best
}
