// codegen_test.go
//
// The emitter is exercised at the text level: compile a program and
// assert over the rendered LLVM assembly. That keeps the tests
// independent of instruction-level details while still pinning the
// observable structure: which functions exist, which runtime checks are
// present, and how the flag controls them.
package pyx

import (
	"strings"
	"testing"
)

func compile(t *testing.T, src string, opt Options) string {
	t.Helper()
	out, err := Compile(src, opt)
	if err != nil {
		t.Fatalf("Compile error: %v\nsource:\n%s", err, src)
	}
	return out
}

func wantContains(t *testing.T, ir, sub string) {
	t.Helper()
	if !strings.Contains(ir, sub) {
		t.Fatalf("IR should contain %q\n--- IR head ---\n%s", sub, head(ir))
	}
}

func wantNotContains(t *testing.T, ir, sub string) {
	t.Helper()
	if strings.Contains(ir, sub) {
		t.Fatalf("IR should not contain %q", sub)
	}
}

func head(s string) string {
	lines := strings.Split(s, "\n")
	if len(lines) > 60 {
		lines = lines[:60]
	}
	return strings.Join(lines, "\n")
}

var exc = Options{Exceptions: true}
var noExc = Options{Exceptions: false}

func Test_Codegen_ModuleScaffolding(t *testing.T) {
	ir := compile(t, "x = 1\n", exc)
	// Externs of the runtime contract.
	wantContains(t, ir, "@printf")
	wantContains(t, ir, "@exit")
	wantContains(t, ir, "@pow")
	wantContains(t, ir, "@malloc")
	// One dispatch table per primitive type, plus the sentinel.
	for _, g := range []string{"@pyx.int", "@pyx.float", "@pyx.bool", "@pyx.char", "@pyx.list", "@pyx.str", "@pyx.func", "@pyx.null_obj"} {
		wantContains(t, ir, g)
	}
	// The object model.
	wantContains(t, ir, "%struct.CObj = type")
	wantContains(t, ir, "%struct.CType = type")
	wantContains(t, ir, "%struct.CList = type")
	wantContains(t, ir, "define i32 @main()")
	wantContains(t, ir, "ret i32 0")
}

func Test_Codegen_RawIntAddition(t *testing.T) {
	// Scenario: x = 1; y = 2; print(x + y). Fully specialized, no boxing
	// of the operands and no runtime checks anywhere.
	ir := compile(t, "x = 1\ny = 2\nprint(x + y)\n", exc)
	wantContains(t, ir, "add i32")
	wantNotContains(t, ir, "RuntimeError")
}

func Test_Codegen_RebindIntToString(t *testing.T) {
	// Scenario: x = 1; x = "hi"; print(x). The second assignment moves x
	// into its box slot; printing dispatches through the print thunk.
	ir := compile(t, "x = 1\nx = \"hi\"\nprint(x)\n", exc)
	wantContains(t, ir, "@pyx.new_string")
	wantContains(t, ir, "@string_print")
}

func Test_Codegen_SpecializedFunction(t *testing.T) {
	// Scenario: one annotated function, one int->int specialization.
	src := "def f(a: int) -> int:\n    return a + 1\nprint(f(5))\n"
	ir := compile(t, src, exc)
	wantContains(t, ir, "define %struct.CObj* @f.generic")
	wantContains(t, ir, "define i32 @f.int(i32 %a)")
}

func Test_Codegen_TwoSpecializationsByArgumentType(t *testing.T) {
	// Scenario: f(1) and f(1.5) produce distinct monomorphic instances.
	src := "def f(x):\n    return x + 1\nprint(f(1))\nprint(f(1.5))\n"
	ir := compile(t, src, exc)
	wantContains(t, ir, "define i32 @f.int(i32 %x)")
	wantContains(t, ir, "define double @f.float(double %x)")
}

func Test_Codegen_SpecializationCacheIsReferential(t *testing.T) {
	// Calling with identical argument types twice allocates one IR
	// function, not two.
	src := "def f(x):\n    return x + 1\nprint(f(1))\nprint(f(2))\n"
	ir := compile(t, src, exc)
	if n := strings.Count(ir, "define i32 @f.int(i32 %x)"); n != 1 {
		t.Fatalf("want exactly one int specialization, got %d", n)
	}
}

func Test_Codegen_BoundsCheckFollowsFlag(t *testing.T) {
	// Scenario: L = [1, 2, 3]; L[5].
	src := "L = [1, 2, 3]\nx = L[5]\n"
	ir := compile(t, src, exc)
	wantContains(t, ir, "RuntimeError: list index out of bounds")
	ir = compile(t, src, noExc)
	wantNotContains(t, ir, "RuntimeError")
}

func Test_Codegen_JoinDynifiesAndPrintsViaSlot(t *testing.T) {
	// Scenario: branches disagree on x; the print goes through the box.
	src := "b = True\nif b:\n    x = 1\nelse:\n    x = \"s\"\nprint(x)\n"
	ir := compile(t, src, exc)
	wantContains(t, ir, "RuntimeError: name 'x' is not defined")
	// The else branch builds a string; the then branch boxes an int.
	wantContains(t, ir, "@pyx.new_string")
}

func Test_Codegen_DynCondIsRuntimeChecked(t *testing.T) {
	src := "b = True\nif b:\n    x = True\nelse:\n    x = 1\nif x:\n    print(1)\n"
	ir := compile(t, src, exc)
	wantContains(t, ir, "RuntimeError: invalid boolean type in if statement")
	ir = compile(t, src, noExc)
	wantNotContains(t, ir, "invalid boolean type")
}

func Test_Codegen_WhileLoop(t *testing.T) {
	src := "x = 1\nwhile x < 10:\n    x = x + 1\nprint(x)\n"
	ir := compile(t, src, exc)
	wantContains(t, ir, "while_cond")
	wantContains(t, ir, "while_body")
	wantContains(t, ir, "icmp slt i32")
}

func Test_Codegen_ForIteratesThroughIdxSlot(t *testing.T) {
	src := "L = [1, 2, 3]\nfor e in L:\n    print(e)\n"
	ir := compile(t, src, exc)
	wantContains(t, ir, "for_cond")
	wantContains(t, ir, "@pyx.new_arr")
	// Elements come back boxed and print through their own slot.
	wantContains(t, ir, "@pyx.box_int")
}

func Test_Codegen_RangeLoop(t *testing.T) {
	src := "for i in range(5):\n    print(i)\n"
	ir := compile(t, src, exc)
	wantContains(t, ir, "range_cond")
	wantContains(t, ir, "range_inc")
}

func Test_Codegen_GenericCallMachinery(t *testing.T) {
	// Recursion forces the generic boxed path inside f.
	src := "def f(n):\n    return f(n)\nx = f(1)\nprint(1)\n"
	ir := compile(t, src, exc)
	wantContains(t, ir, "define %struct.CObj* @f.generic")
	wantContains(t, ir, "@func_call")
	// The recursive site dynifies n and restores it with a check.
	wantContains(t, ir, "RuntimeError: invalid type assigned to n")
}

func Test_Codegen_ReturnTypeRuntimeCheck(t *testing.T) {
	// f is annotated int but returns a Dyn; the specialized definition
	// must guard the extraction.
	src := "L = []\ndef f(a) -> int:\n    return a\nprint(f(L))\n"
	ir := compile(t, src, exc)
	wantContains(t, ir, "RuntimeError: invalid return type (expected int)")
}

func Test_Codegen_FormalTypeRuntimeCheck(t *testing.T) {
	// A Dyn argument against an int-annotated formal is checked at the
	// call boundary.
	src := "L = []\ndef f(a: int) -> int:\n    return a\nprint(f(L))\n"
	ir := compile(t, src, exc)
	wantContains(t, ir, "RuntimeError: invalid type assigned to a")
}

func Test_Codegen_AssignmentCheck(t *testing.T) {
	src := "L = []\nx: int = L\n"
	ir := compile(t, src, exc)
	wantContains(t, ir, "RuntimeError: invalid type assigned to x")
	ir = compile(t, src, noExc)
	wantNotContains(t, ir, "RuntimeError")
}

func Test_Codegen_GlobalsGetModuleSlots(t *testing.T) {
	ir := compile(t, "x = 1\ns = \"hi\"\n", exc)
	wantContains(t, ir, "@g.x.raw")
	wantContains(t, ir, "@g.x.box")
	wantContains(t, ir, "@g.s.box")
	// No raw slot for a string-typed global.
	wantNotContains(t, ir, "@g.s.raw")
}

func Test_Codegen_FloatUsesUnorderedComparisons(t *testing.T) {
	ir := compile(t, "a = 1.5\nb = 2.5\nc = a < b\n", exc)
	wantContains(t, ir, "fcmp ult double")
}

func Test_Codegen_ExponentGoesThroughPow(t *testing.T) {
	ir := compile(t, "x = 2 ** 10\nprint(x)\n", exc)
	wantContains(t, ir, "call double @pow")
	wantContains(t, ir, "fptosi double")
}

func Test_Codegen_StringCast(t *testing.T) {
	ir := compile(t, "s = str(42)\nprint(s)\n", exc)
	wantContains(t, ir, "@pyx.int_to_string")
}

func Test_Codegen_IndexedAssignmentThroughIdxParent(t *testing.T) {
	src := "L = [1, 2]\nL[0] = 5\n"
	ir := compile(t, src, exc)
	wantContains(t, ir, "@list_idx_parent")
}

func Test_Codegen_CharOddityCellsPreserved(t *testing.T) {
	// The char table keeps integer logical and/or builders on i8 data;
	// cells with no rule stay null.
	ir := compile(t, "x = 1\n", exc)
	wantContains(t, ir, "@char_and")
	wantContains(t, ir, "@char_or")
	wantContains(t, ir, "@char_print")
	wantNotContains(t, ir, "@float_not")
	wantNotContains(t, ir, "@string_lt")
}
