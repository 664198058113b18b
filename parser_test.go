// parser_test.go
package pyx

import (
	"strings"
	"testing"
)

func parse(t *testing.T, src string) *Block {
	t.Helper()
	b, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return b
}

func parseErr(t *testing.T, src string) *Diag {
	t.Helper()
	_, err := Parse(src)
	if err == nil {
		t.Fatalf("want parse error, got none\nsource:\n%s", src)
	}
	d, ok := err.(*Diag)
	if !ok {
		t.Fatalf("want *Diag, got %T: %v", err, err)
	}
	return d
}

// wantForm parses and compares against the canonical printed form, which
// makes precedence and shape assertions readable.
func wantForm(t *testing.T, src, want string) {
	t.Helper()
	got := FormatAST(parse(t, src))
	if got != want {
		t.Fatalf("\nsource:  %q\nwant:    %q\ngot:     %q", src, want, got)
	}
}

func Test_Parser_Precedence_MulBeforeAdd(t *testing.T) {
	wantForm(t, "x = 2 + 3 * 4\n", "x = (2 + (3 * 4))")
}

func Test_Parser_Precedence_PowerOverUnaryMinus(t *testing.T) {
	wantForm(t, "x = -2 ** 2\n", "x = (-(2 ** 2))")
}

func Test_Parser_Precedence_PowerRightAssoc(t *testing.T) {
	wantForm(t, "x = 2 ** 3 ** 2\n", "x = (2 ** (3 ** 2))")
}

func Test_Parser_Precedence_BoolOps(t *testing.T) {
	wantForm(t, "x = a and not b or c\n", "x = ((a and (not b)) or c)")
}

func Test_Parser_Precedence_Comparison(t *testing.T) {
	wantForm(t, "x = 1 + 2 < 3 * 4\n", "x = ((1 + 2) < (3 * 4))")
}

func Test_Parser_ComparisonsDoNotChain(t *testing.T) {
	d := parseErr(t, "x = 1 < 2 < 3\n")
	if !strings.Contains(d.Msg, "chained") {
		t.Fatalf("unexpected message: %v", d)
	}
}

func Test_Parser_AssignmentChain(t *testing.T) {
	b := parse(t, "a = b = 1\n")
	asn, ok := b.Stmts[0].(*Asn)
	if !ok || len(asn.Targets) != 2 {
		t.Fatalf("want 2-target Asn, got %+v", b.Stmts[0])
	}
}

func Test_Parser_AnnotatedAssignment(t *testing.T) {
	b := parse(t, "x: int = 5\n")
	asn := b.Stmts[0].(*Asn)
	if asn.Decl != TyInt {
		t.Fatalf("want int annotation, got %v", asn.Decl)
	}
}

func Test_Parser_BareAnnotation(t *testing.T) {
	b := parse(t, "x: float\n")
	ann, ok := b.Stmts[0].(*TypeAnn)
	if !ok || ann.Name != "x" || ann.Ty != TyFloat {
		t.Fatalf("want TypeAnn x: float, got %+v", b.Stmts[0])
	}
}

func Test_Parser_IndexedAssignment(t *testing.T) {
	b := parse(t, "L[0] = 5\n")
	asn := b.Stmts[0].(*Asn)
	if _, ok := asn.Targets[0].(*ListAccess); !ok {
		t.Fatalf("want ListAccess target, got %T", asn.Targets[0])
	}
}

func Test_Parser_InvalidAssignmentTarget(t *testing.T) {
	parseErr(t, "1 + 2 = 3\n")
}

func Test_Parser_Casts(t *testing.T) {
	b := parse(t, "y = int(x)\n")
	c, ok := b.Stmts[0].(*Asn).Value.(*Cast)
	if !ok || c.To != TyInt {
		t.Fatalf("want int cast, got %+v", b.Stmts[0].(*Asn).Value)
	}
}

func Test_Parser_RangeForIsRecognized(t *testing.T) {
	b := parse(t, "for i in range(10):\n    pass\n")
	if _, ok := b.Stmts[0].(*Range); !ok {
		t.Fatalf("want Range, got %T", b.Stmts[0])
	}
	b = parse(t, "for e in L:\n    pass\n")
	if _, ok := b.Stmts[0].(*For); !ok {
		t.Fatalf("want For, got %T", b.Stmts[0])
	}
}

func Test_Parser_DefHeader(t *testing.T) {
	b := parse(t, "def f(a: int, b) -> float:\n    return 1.0\n")
	f := b.Stmts[0].(*Func)
	if f.Name != "f" || len(f.Formals) != 2 || f.Ret != TyFloat {
		t.Fatalf("bad header: %+v", f)
	}
	if f.Formals[0].Ty != TyInt || f.Formals[1].Ty != TyDyn {
		t.Fatalf("bad formal types: %+v", f.Formals)
	}
}

func Test_Parser_InlineSuite(t *testing.T) {
	b := parse(t, "if x: y = 1\n")
	iff := b.Stmts[0].(*If)
	blk := iff.Then.(*Block)
	if len(blk.Stmts) != 1 {
		t.Fatalf("want one inline statement, got %d", len(blk.Stmts))
	}
}

func Test_Parser_IfElse(t *testing.T) {
	b := parse(t, "if x:\n    y = 1\nelse:\n    y = 2\n")
	iff := b.Stmts[0].(*If)
	if iff.Else == nil {
		t.Fatalf("else branch missing")
	}
}

func Test_Parser_MethodAndField(t *testing.T) {
	b := parse(t, "x = o.f\ny = o.m(1)\n")
	if _, ok := b.Stmts[0].(*Asn).Value.(*Field); !ok {
		t.Fatalf("want Field")
	}
	if _, ok := b.Stmts[1].(*Asn).Value.(*Method); !ok {
		t.Fatalf("want Method")
	}
}

func Test_Parser_ErrorPositions(t *testing.T) {
	d := parseErr(t, "x = 1\ny = )\n")
	if d.Line != 2 {
		t.Fatalf("want error on line 2, got %d (%v)", d.Line, d)
	}
}

func Test_Parser_Interactive_IncompleteSuite(t *testing.T) {
	_, err := ParseInteractive("if True:\n")
	if !IsIncomplete(err) {
		t.Fatalf("want incomplete, got %v", err)
	}
	// Complete input in interactive mode parses normally.
	if _, err := ParseInteractive("if True:\n    pass\n"); err != nil {
		t.Fatalf("complete input failed: %v", err)
	}
}

func Test_Parser_FormatAST_Stable(t *testing.T) {
	src := "def f(a: int) -> int:\n    return a + 1\nprint(f(5))\n"
	once := FormatAST(parse(t, src))
	twice := FormatAST(parse(t, src))
	if once != twice {
		t.Fatalf("FormatAST not deterministic")
	}
}
