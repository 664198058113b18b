// lexer_test.go
package pyx

import (
	"reflect"
	"strings"
	"testing"
)

func toks(t *testing.T, src string) []Token {
	t.Helper()
	ts, err := NewLexer(src).Scan()
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	return ts
}

func typesWithoutEOF(tokens []Token) []TokenType {
	if len(tokens) == 0 {
		return nil
	}
	end := len(tokens)
	if tokens[end-1].Type == EOF {
		end--
	}
	out := make([]TokenType, 0, end)
	for i := 0; i < end; i++ {
		out = append(out, tokens[i].Type)
	}
	return out
}

func wantTypes(t *testing.T, src string, want []TokenType) []Token {
	t.Helper()
	got := toks(t, src)
	gotTypes := typesWithoutEOF(got)
	if !reflect.DeepEqual(gotTypes, want) {
		t.Fatalf("\nsource:\n%s\nwant types:\n%v\ngot types:\n%v\n", src, want, gotTypes)
	}
	return got
}

func Test_Lexer_SimpleAssignment(t *testing.T) {
	got := wantTypes(t, "x = 1\n", []TokenType{ID, ASSIGN, INT_LIT, NEWLINE})
	if got[0].Literal.(string) != "x" || got[2].Literal.(int64) != 1 {
		t.Fatalf("literals not parsed: %v, %v", got[0].Literal, got[2].Literal)
	}
}

func Test_Lexer_Operators(t *testing.T) {
	wantTypes(t, "a ** b -> c <= d != e\n", []TokenType{
		ID, POWER, ID, ARROW, ID, LESS_EQ, ID, NEQ, ID, NEWLINE,
	})
}

func Test_Lexer_IndentDedentPairing(t *testing.T) {
	src := "if x:\n    y = 1\nz = 2\n"
	wantTypes(t, src, []TokenType{
		IF, ID, COLON, NEWLINE,
		INDENT, ID, ASSIGN, INT_LIT, NEWLINE, DEDENT,
		ID, ASSIGN, INT_LIT, NEWLINE,
	})
}

func Test_Lexer_NestedDedents(t *testing.T) {
	src := "if a:\n    if b:\n        x = 1\ny = 2\n"
	wantTypes(t, src, []TokenType{
		IF, ID, COLON, NEWLINE,
		INDENT, IF, ID, COLON, NEWLINE,
		INDENT, ID, ASSIGN, INT_LIT, NEWLINE,
		DEDENT, DEDENT,
		ID, ASSIGN, INT_LIT, NEWLINE,
	})
}

func Test_Lexer_DedentsClosedAtEOF(t *testing.T) {
	src := "while x:\n    y = 1"
	wantTypes(t, src, []TokenType{
		WHILE, ID, COLON, NEWLINE,
		INDENT, ID, ASSIGN, INT_LIT, NEWLINE, DEDENT,
	})
}

func Test_Lexer_TabStops(t *testing.T) {
	// A tab advances to the next multiple of 8; deeper than 0, so INDENT.
	src := "if x:\n\ty = 1\n"
	wantTypes(t, src, []TokenType{
		IF, ID, COLON, NEWLINE,
		INDENT, ID, ASSIGN, INT_LIT, NEWLINE, DEDENT,
	})
}

func Test_Lexer_InconsistentDedent(t *testing.T) {
	src := "if x:\n        y = 1\n    z = 2\n"
	_, err := NewLexer(src).Scan()
	if err == nil {
		t.Fatalf("want inconsistent dedent error, got none")
	}
	if !strings.Contains(err.Error(), "inconsistent dedent") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func Test_Lexer_BlankAndCommentLinesEmitNothing(t *testing.T) {
	src := "x = 1\n\n# a comment\n   # indented comment\ny = 2\n"
	wantTypes(t, src, []TokenType{
		ID, ASSIGN, INT_LIT, NEWLINE,
		ID, ASSIGN, INT_LIT, NEWLINE,
	})
}

func Test_Lexer_ImplicitLineJoining(t *testing.T) {
	src := "x = [1,\n     2,\n     3]\n"
	wantTypes(t, src, []TokenType{
		ID, ASSIGN, LSQUARE, INT_LIT, COMMA, INT_LIT, COMMA, INT_LIT, RSQUARE, NEWLINE,
	})
}

func Test_Lexer_TrailingComment(t *testing.T) {
	wantTypes(t, "x = 1  # note\n", []TokenType{ID, ASSIGN, INT_LIT, NEWLINE})
}

func Test_Lexer_Keywords(t *testing.T) {
	wantTypes(t, "def f(a: int) -> bool:\n    return True\n", []TokenType{
		DEF, ID, LPAREN, ID, COLON, TINT, RPAREN, ARROW, TBOOL, COLON, NEWLINE,
		INDENT, RETURN, TRUE, NEWLINE, DEDENT,
	})
}

func Test_Lexer_StringEscapes(t *testing.T) {
	got := wantTypes(t, `s = "a\n\tb\"c"`+"\n", []TokenType{ID, ASSIGN, STR_LIT, NEWLINE})
	if got[2].Literal.(string) != "a\n\tb\"c" {
		t.Fatalf("escapes not decoded: %q", got[2].Literal)
	}
}

func Test_Lexer_SingleQuotedString(t *testing.T) {
	got := wantTypes(t, "s = 'hi'\n", []TokenType{ID, ASSIGN, STR_LIT, NEWLINE})
	if got[2].Literal.(string) != "hi" {
		t.Fatalf("got %q", got[2].Literal)
	}
}

func Test_Lexer_FloatLiterals(t *testing.T) {
	got := wantTypes(t, "a = 1.5\nb = .5\nc = 2.\n", []TokenType{
		ID, ASSIGN, FLOAT_LIT, NEWLINE,
		ID, ASSIGN, FLOAT_LIT, NEWLINE,
		ID, ASSIGN, FLOAT_LIT, NEWLINE,
	})
	if got[2].Literal.(float64) != 1.5 || got[6].Literal.(float64) != 0.5 || got[10].Literal.(float64) != 2.0 {
		t.Fatalf("float literals wrong: %v %v %v", got[2].Literal, got[6].Literal, got[10].Literal)
	}
}

func Test_Lexer_UnterminatedString(t *testing.T) {
	_, err := NewLexer("s = \"abc\n").Scan()
	if err == nil || !strings.Contains(err.Error(), "unterminated string") {
		t.Fatalf("want unterminated string error, got %v", err)
	}
}

func Test_Lexer_Interactive_OpenBracketIsIncomplete(t *testing.T) {
	_, err := NewInteractiveLexer("x = (1 +\n").Scan()
	if !IsIncomplete(err) {
		t.Fatalf("want incomplete, got %v", err)
	}
	// The same input is a hard error outside interactive mode.
	_, err = NewLexer("x = (1 +\n").Scan()
	if err == nil || IsIncomplete(err) {
		t.Fatalf("want hard error, got %v", err)
	}
}

func Test_Lexer_Positions(t *testing.T) {
	got := toks(t, "x = 1\ny = 2\n")
	// The 'y' token starts at line 2, column 0.
	var y *Token
	for i := range got {
		if got[i].Type == ID && got[i].Lexeme == "y" {
			y = &got[i]
		}
	}
	if y == nil || y.Line != 2 || y.Col != 0 {
		t.Fatalf("bad position for y: %+v", y)
	}
}
