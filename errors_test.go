// errors_test.go
package pyx

import (
	"strings"
	"testing"
)

func Test_Errors_DiagStringCarriesClass(t *testing.T) {
	d := &Diag{Kind: DiagType, Msg: "invalid type assigned to x", Line: 1, Col: 0}
	if got := d.Error(); got != "STypeError: invalid type assigned to x" {
		t.Fatalf("got %q", got)
	}
	kinds := map[DiagKind]string{
		DiagSyntax:         "SSyntaxError",
		DiagType:           "STypeError",
		DiagName:           "SNameError",
		DiagNotImplemented: "SNotImplementedError",
	}
	for k, want := range kinds {
		if k.String() != want {
			t.Fatalf("kind %d: want %q, got %q", k, want, k.String())
		}
	}
}

func Test_Errors_SnippetRendering(t *testing.T) {
	src := "x = 1\ny = )\nz = 3\n"
	_, err := Parse(src)
	if err == nil {
		t.Fatalf("want parse error")
	}
	wrapped := WrapErrorWithSource(err, src)
	msg := wrapped.Error()
	if !strings.Contains(msg, "SSyntaxError at 2:") {
		t.Fatalf("missing header: %q", msg)
	}
	// Context lines and the caret line.
	if !strings.Contains(msg, "   1 | x = 1") ||
		!strings.Contains(msg, "   2 | y = )") ||
		!strings.Contains(msg, "   3 | z = 3") {
		t.Fatalf("missing context lines:\n%s", msg)
	}
	if !strings.Contains(msg, "| ") || !strings.Contains(msg, "^") {
		t.Fatalf("missing caret:\n%s", msg)
	}
}

func Test_Errors_NamedSnippet(t *testing.T) {
	src := "y = )\n"
	_, err := Parse(src)
	msg := WrapErrorWithName(err, "prog.px", src).Error()
	if !strings.Contains(msg, "in prog.px at 1:") {
		t.Fatalf("missing file name: %q", msg)
	}
}

func Test_Errors_IncompleteDiagPassesThrough(t *testing.T) {
	plain := &Diag{Kind: DiagIncomplete, Msg: "more input", Line: 1, Col: 0}
	if got := WrapErrorWithSource(plain, "x"); got != error(plain) {
		t.Fatalf("incomplete diags must pass through untouched")
	}
}

func Test_Errors_ClampedCoordinates(t *testing.T) {
	d := &Diag{Kind: DiagSyntax, Msg: "boom", Line: 99, Col: 99}
	msg := WrapErrorWithSource(d, "only line").Error()
	if !strings.Contains(msg, "only line") {
		t.Fatalf("clamped rendering failed:\n%s", msg)
	}
}

func Test_Errors_SemanticDiagnosticsArePositioned(t *testing.T) {
	src := "x = 1\ny = x + \"a\"\n"
	_, err := AnalyzeSource(src)
	d, ok := err.(*Diag)
	if !ok || d.Line != 2 {
		t.Fatalf("want positioned STypeError on line 2, got %v", err)
	}
	if d.Kind != DiagType {
		t.Fatalf("want STypeError, got %v", d.Kind)
	}
}
