package console

import (
	"fmt"
	"io"
	"os"

	"github.com/gookit/color"
	"golang.org/x/term"
)

var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)

// Printer writes user-facing status lines. Colors are only emitted when the
// underlying writer is a terminal.
type Printer struct {
	w     io.Writer
	plain bool
}

// NewPrinter returns a Printer on w.
func NewPrinter(w io.Writer) *Printer {
	plain := true
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		plain = false
	}
	return &Printer{w: w, plain: plain}
}

// IsTerminal reports whether the printer writes to a TTY.
func (p *Printer) IsTerminal() bool { return !p.plain }

// Writer exposes the destination writer.
func (p *Printer) Writer() io.Writer { return p.w }

func (p *Printer) paint(style interface{ Sprint(...any) string }, s string) string {
	if p.plain {
		return s
	}
	return style.Sprint(s)
}

// Step prints "-> msg" in the success color.
func (p *Printer) Step(format string, args ...any) {
	fmt.Fprint(p.w, p.paint(colArrow, "-> "))
	fmt.Fprintln(p.w, p.paint(colSuccess, fmt.Sprintf(format, args...)))
}

func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintln(p.w, p.paint(colInfo, fmt.Sprintf(format, args...)))
}

func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprint(p.w, p.paint(colArrow, "-> "))
	fmt.Fprintln(p.w, p.paint(colWarn, fmt.Sprintf(format, args...)))
}

func (p *Printer) Error(format string, args ...any) {
	fmt.Fprint(p.w, p.paint(colArrow, "-> "))
	fmt.Fprintln(p.w, p.paint(colError, fmt.Sprintf(format, args...)))
}

// Success, Failure and Muted color a single cell of a report table.
func (p *Printer) Success(s string) string { return p.paint(colSuccess, s) }
func (p *Printer) Failure(s string) string { return p.paint(colError, s) }
func (p *Printer) Muted(s string) string   { return p.paint(colWarn, s) }
