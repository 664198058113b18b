// errors.go: diagnostic classes and caret-snippet rendering
//
// What this file does
// -------------------
// Every static failure in the pipeline — lexing, parsing, the semantic
// pass — is reported as a *Diag carrying a kind, a message, and 1-based
// line / 0-based column coordinates. `WrapErrorWithSource` turns a *Diag
// into a readable, Python-style snippet with a caret pointing at the
// offending column:
//
//	SSyntaxError at 2:5: unmatched ')'
//
//	   1 | x = 1
//	   2 | y = )
//	     |     ^
//	   3 | z = 3
//
// The snippet includes up to one line of context before and after the
// error, numbers the lines, and places the caret under the 1-based column.
//
// Behavior guarantees
// -------------------
//   - If `err` is not a *Diag, it is returned unchanged.
//   - Line/column are clamped to the source bounds so the caret renders
//     safely on empty or short inputs.
//   - Output is plain text (no ANSI escapes); the CLI colors it separately.
//
// Emitter-internal invariant violations are not Diags: they panic with an
// "internal error:" prefix and indicate a compiler bug.
package pyx

import (
	"fmt"
	"strings"
)

// DiagKind classifies a static diagnostic.
type DiagKind int

const (
	DiagSyntax DiagKind = iota
	DiagType
	DiagName
	DiagNotImplemented
	// DiagIncomplete is produced only in interactive mode, when the input
	// ends mid-construct. The REPL keeps reading instead of reporting it.
	DiagIncomplete
)

func (k DiagKind) String() string {
	switch k {
	case DiagSyntax:
		return "SSyntaxError"
	case DiagType:
		return "STypeError"
	case DiagName:
		return "SNameError"
	case DiagNotImplemented:
		return "SNotImplementedError"
	case DiagIncomplete:
		return "SIncomplete"
	}
	return "SError"
}

// Diag is a positioned static diagnostic. Line is 1-based, Col 0-based
// (token coordinates); rendering converts Col to 1-based.
type Diag struct {
	Kind DiagKind
	Msg  string
	Line int
	Col  int
}

func (d *Diag) Error() string {
	return fmt.Sprintf("%s: %s", d.Kind, d.Msg)
}

func diagf(k DiagKind, p Pos, format string, args ...any) *Diag {
	return &Diag{Kind: k, Msg: fmt.Sprintf(format, args...), Line: p.Line, Col: p.Col}
}

// IsIncomplete reports whether err marks interactive input that merely
// needs more lines.
func IsIncomplete(err error) bool {
	d, ok := err.(*Diag)
	return ok && d.Kind == DiagIncomplete
}

/* ===========================
   PUBLIC API
   =========================== */

// WrapErrorWithSource returns an error augmented with a caret-annotated
// snippet of the provided source. Non-Diag errors pass through untouched.
func WrapErrorWithSource(err error, src string) error {
	return WrapErrorWithName(err, "", src)
}

// WrapErrorWithName is WrapErrorWithSource with an "in <name>" header part
// for errors that come from a named file.
func WrapErrorWithName(err error, srcName, src string) error {
	d, ok := err.(*Diag)
	if !ok || d.Kind == DiagIncomplete {
		return err
	}
	// Diag Col is 0-based; render as 1-based.
	return fmt.Errorf("%s", prettyErrorString(src, d.Kind.String(), srcName, d.Line, d.Col+1, d.Msg))
}

//// END_OF_PUBLIC

/* ===========================
   PRIVATE: rendering
   =========================== */

// prettyErrorString builds a Python-like snippet with a header and a caret.
// It shows at most one previous and one next line when available.
// Coordinates are treated as 1-based and clamped to the source bounds.
func prettyErrorString(src, header, name string, line, col int, msg string) string {
	lines := strings.Split(src, "\n")
	if line < 1 {
		line = 1
	}
	if col < 1 {
		col = 1
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	if line > len(lines) {
		line = len(lines)
	}
	lineTxt := lines[line-1]

	var b strings.Builder
	if name != "" {
		fmt.Fprintf(&b, "%s in %s at %d:%d: %s\n\n", header, name, line, col, msg)
	} else {
		fmt.Fprintf(&b, "%s at %d:%d: %s\n\n", header, line, col, msg)
	}
	if line > 1 {
		fmt.Fprintf(&b, "%4d | %s\n", line-1, lines[line-2])
	}
	fmt.Fprintf(&b, "%4d | %s\n", line, lineTxt)
	caretPad := col - 1
	if caretPad < 0 {
		caretPad = 0
	}
	fmt.Fprintf(&b, "     | %s^\n", strings.Repeat(" ", caretPad))
	if line < len(lines) {
		fmt.Fprintf(&b, "%4d | %s\n", line+1, lines[line])
	}
	return b.String()
}
