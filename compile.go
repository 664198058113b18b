// compile.go: the public pipeline surface.
//
// The library never reads files and never prints; each stage takes values
// in and hands values out, and the CLI in cmd/pyx decides what to do with
// them. Compile is the whole pipeline: source text in, LLVM assembly
// text out.
package pyx

// AnalyzeSource parses and analyzes source text in one step.
func AnalyzeSource(src string) (*Program, error) {
	ast, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return Analyze(ast)
}

// Compile lexes, parses, analyzes, and emits src, returning the textual
// LLVM assembly of the module.
func Compile(src string, opt Options) (string, error) {
	prog, err := AnalyzeSource(src)
	if err != nil {
		return "", err
	}
	return Emit(prog, opt).String(), nil
}
