// Package repl implements an interactive command-line driver for a
// sheet.Sheet: a raw-terminal line editor when stdin/stdout are TTYs,
// falling back to line-buffered scanning otherwise, plus a TCP-based
// remote server/client pair sharing the same session loop.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/Maxibang/sheet/cellvalue"
	"github.com/Maxibang/sheet/formula"
	"github.com/Maxibang/sheet/position"
	"github.com/Maxibang/sheet/sheet"
)

const prompt = "sheet> "

type scannerResult struct {
	line string
	err  error
	ok   bool
}

type startOptions struct {
	showIntro bool
}

// Start begins a REPL session against a fresh Sheet, reading from in and
// writing to out.
func Start(in io.Reader, out io.Writer) {
	start(in, out, startOptions{showIntro: true})
}

func start(in io.Reader, out io.Writer, opts startOptions) {
	s := sheet.New()

	var (
		scanCh chan scannerResult
		tty    *ttyInput
	)
	if ti, ok := newTTYInput(in, out); ok {
		tty = ti
		defer tty.Close()
	} else {
		scanner := bufio.NewScanner(in)
		scanCh = make(chan scannerResult)
		go scanInput(scanner, scanCh)
	}

	sessionOut := out
	if tty != nil {
		// In raw TTY mode, normalize LF to CRLF so lines start in column 0.
		sessionOut = newCRLFWriter(out)
	}

	if opts.showIntro {
		fmt.Fprintf(sessionOut, "sheet repl\n")
		fmt.Fprintf(sessionOut, "enter A1=value or A1=formula; commands start with ':'\n")
		fmt.Fprintf(sessionOut, "commands: :print, :texts, :clear A1, :cls, :help, :quit\n\n")
	}

	for {
		var (
			line string
			ok   bool
		)
		if tty != nil {
			line, ok = tty.readLine(prompt)
		} else {
			fmt.Fprint(out, prompt)
			line, ok = waitForInput(scanCh)
		}
		if !ok {
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ":") {
			if handleCommand(line, sessionOut, s) {
				return
			}
			continue
		}

		if err := evalLine(line, sessionOut, s); err != nil {
			fmt.Fprintf(sessionOut, "error: %v\n", err)
		}
	}
}

// evalLine parses a bare input line as either "POS=raw" (an edit) or a
// lone "POS" (a value query), and applies it to s.
func evalLine(line string, out io.Writer, s *sheet.Sheet) error {
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		pos := position.Parse(line)
		if !pos.IsValid() {
			return fmt.Errorf("not a cell reference: %q", line)
		}
		cell, err := s.GetCell(pos)
		if err != nil {
			return err
		}
		if cell == nil {
			fmt.Fprintln(out, "0")
			return nil
		}
		fmt.Fprintln(out, cellDisplay(cell))
		return nil
	}

	ref := strings.TrimSpace(line[:eq])
	pos := position.Parse(ref)
	if !pos.IsValid() {
		return fmt.Errorf("not a cell reference: %q", ref)
	}
	return s.SetCell(pos, line[eq+1:])
}

func cellDisplay(c *sheet.Cell) string {
	switch v := c.Value(); v.Kind {
	case cellvalue.KindText:
		return v.Text
	case cellvalue.KindNumber:
		return formula.FormatNumber(v.Number)
	default:
		return v.Err.Error()
	}
}

// handleCommand processes a ':'-prefixed command. Returns true if the
// session should end.
func handleCommand(cmd string, out io.Writer, s *sheet.Sheet) bool {
	fields := strings.Fields(cmd)
	switch fields[0] {
	case ":quit", ":q", ":exit":
		fmt.Fprintln(out, "goodbye")
		return true

	case ":help", ":h":
		fmt.Fprintln(out, "commands:")
		fmt.Fprintln(out, "  A1=5          set A1 to the text \"5\" (formulas read it as 5)")
		fmt.Fprintln(out, "  A1=A2+A3      set A1 to a formula")
		fmt.Fprintln(out, "  A1='5         set A1 to text shown as \"5\" (the ' stays in :texts)")
		fmt.Fprintln(out, "  A1            print A1's current value")
		fmt.Fprintln(out, "  :clear A1     clear a cell")
		fmt.Fprintln(out, "  :print        print every cell's value")
		fmt.Fprintln(out, "  :texts        print every cell's raw text")
		fmt.Fprintln(out, "  :cls          clear the screen")
		fmt.Fprintln(out, "  :quit         exit")

	case ":print":
		if err := s.PrintValues(out); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}

	case ":texts":
		if err := s.PrintTexts(out); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}

	case ":clear":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: :clear A1")
			break
		}
		pos := position.Parse(fields[1])
		if !pos.IsValid() {
			fmt.Fprintf(out, "not a cell reference: %q\n", fields[1])
			break
		}
		if err := s.ClearCell(pos); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}

	case ":cls":
		clearScreen(out)

	case ":size":
		sz := s.PrintableSize()
		fmt.Fprintf(out, "%d rows x %d cols\n", sz.Rows, sz.Cols)

	default:
		fmt.Fprintf(out, "unknown command: %s (try :help)\n", fields[0])
	}

	return false
}

func scanInput(scanner *bufio.Scanner, out chan<- scannerResult) {
	defer close(out)
	for scanner.Scan() {
		out <- scannerResult{line: scanner.Text(), ok: true}
	}
	if err := scanner.Err(); err != nil {
		out <- scannerResult{err: err}
	}
}

func waitForInput(scanCh <-chan scannerResult) (string, bool) {
	in, ok := <-scanCh
	if !ok {
		return "", false
	}
	if in.err != nil {
		return "", false
	}
	return in.line, in.ok
}

// crlfWriter rewrites bare LF to CRLF on the way out. Raw-mode terminals do
// no output processing, so sheet output printed with plain "\n" (grid rows
// from PrintValues/PrintTexts included) would stair-step without it.
type crlfWriter struct {
	out io.Writer
}

func newCRLFWriter(out io.Writer) io.Writer {
	return &crlfWriter{out: out}
}

func (w *crlfWriter) Write(p []byte) (int, error) {
	buf := make([]byte, 0, len(p)+8)
	for i, b := range p {
		if b == '\n' && (i == 0 || p[i-1] != '\r') {
			buf = append(buf, '\r')
		}
		buf = append(buf, b)
	}
	if _, err := w.out.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}
