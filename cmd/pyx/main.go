// Command pyx is the compiler driver and REPL.
//
// With a source file it runs the pipeline and writes LLVM assembly to -o
// (or stdout); with no file it starts an interactive shell that shows the
// inferred types of each complete input, or IR with :ir. The core library
// never reads files or prints; everything user-facing lives here.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/logrusorgru/aurora"
	"github.com/peterh/liner"

	"github.com/daios-ai/pyx"
)

const (
	appName    = "pyx"
	promptMain = "==> "
	promptCont = "... "
	histFile   = ".pyx_history"
)

func main() {
	out := flag.String("o", "", "write output to `file` (default stdout)")
	emit := flag.String("emit", "ll", "what to emit: ll, ast, sast, or dump")
	noExcept := flag.Bool("no-except", false, "disable runtime check insertion")
	color := flag.Bool("color", false, "colorize diagnostics")
	flag.Parse()

	if flag.NArg() == 0 {
		os.Exit(repl(pyx.Options{Exceptions: !*noExcept}))
	}
	os.Exit(compileFile(flag.Arg(0), *out, *emit, *color, pyx.Options{Exceptions: !*noExcept}))
}

func compileFile(path, out, emit string, color bool, opt pyx.Options) int {
	srcBytes, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, path, err)
		return 1
	}
	src := string(srcBytes)

	text, err := render(src, emit, opt)
	if err != nil {
		msg := pyx.WrapErrorWithName(err, filepath.Base(path), src).Error()
		if color {
			msg = aurora.Red(msg).String()
		}
		fmt.Fprintln(os.Stderr, msg)
		return 1
	}

	if out == "" {
		fmt.Print(text)
		return 0
	}
	if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot write %s: %v\n", appName, out, err)
		return 1
	}
	return 0
}

func render(src, emit string, opt pyx.Options) (string, error) {
	switch emit {
	case "ast":
		ast, err := pyx.Parse(src)
		if err != nil {
			return "", err
		}
		return pyx.FormatAST(ast) + "\n", nil
	case "sast":
		prog, err := pyx.AnalyzeSource(src)
		if err != nil {
			return "", err
		}
		return pyx.FormatSAST(prog) + "\n", nil
	case "dump":
		prog, err := pyx.AnalyzeSource(src)
		if err != nil {
			return "", err
		}
		return spew.Sdump(prog), nil
	case "ll":
		return pyx.Compile(src, opt)
	}
	return "", fmt.Errorf("unknown -emit mode %q", emit)
}

/* ---------- REPL ---------- */

func repl(opt pyx.Options) int {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	histPath := histFile
	if home, err := os.UserHomeDir(); err == nil {
		histPath = filepath.Join(home, histFile)
	}
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	fmt.Printf("%s — type :quit to exit, :ir for IR, :ast for the syntax tree\n", appName)

	// The session accumulates definitions so later lines can use earlier
	// names; :ir and :ast render the whole session so far.
	var session []string

	for {
		code, ok := readByParseProbe(ln, promptMain, promptCont)
		if !ok {
			fmt.Println()
			return 0
		}
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, ":") {
			switch strings.ToLower(trimmed) {
			case ":quit":
				return 0
			case ":ir":
				show(strings.Join(session, "\n"), "ll", opt)
			case ":ast":
				show(strings.Join(session, "\n"), "ast", opt)
			default:
				fmt.Println("unknown command. Type :quit to exit.")
			}
			continue
		}

		trial := append(append([]string{}, session...), code)
		prog, err := pyx.AnalyzeSource(strings.Join(trial, "\n"))
		if err != nil {
			fmt.Fprintln(os.Stderr, aurora.Red(err.Error()).String())
			continue
		}
		session = trial
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))
		for _, g := range prog.Globals {
			fmt.Printf("%s: %s\n", aurora.Blue(g.Name), aurora.Green(g.Ty.String()))
		}
	}
}

func show(src, emit string, opt pyx.Options) {
	if strings.TrimSpace(src) == "" {
		return
	}
	text, err := render(src, emit, opt)
	if err != nil {
		fmt.Fprintln(os.Stderr, aurora.Red(err.Error()).String())
		return
	}
	fmt.Println(text)
}

// readByParseProbe reads lines until the accumulated input parses, or
// fails with something other than "incomplete".
func readByParseProbe(ln *liner.State, prompt, cont string) (string, bool) {
	var b strings.Builder
	for {
		var line string
		var err error
		if b.Len() == 0 {
			line, err = ln.Prompt(prompt)
		} else {
			line, err = ln.Prompt(cont)
		}
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			// Includes a ctrl-C abort: drop the pending input, keep going.
			return "", true
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if _, perr := pyx.ParseInteractive(src + "\n"); perr == nil || !pyx.IsIncomplete(perr) {
			return src, true
		}
	}
}
