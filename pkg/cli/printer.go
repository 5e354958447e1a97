package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Printer writes status lines with a leading symbol, colored by outcome.
type Printer struct {
	w io.Writer

	success *color.Color
	warn    *color.Color
	fail    *color.Color
	muted   *color.Color
	bold    *color.Color
}

// NewPrinter creates a Printer writing to w. If w is nil, it defaults to
// os.Stdout. Colors are emitted only when colored is true.
func NewPrinter(w io.Writer, colored bool) *Printer {
	if w == nil {
		w = os.Stdout
	}
	p := &Printer{
		w:       w,
		success: color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		fail:    color.New(color.FgRed, color.Bold),
		muted:   color.New(color.Faint),
		bold:    color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.success, p.warn, p.fail, p.muted, p.bold} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Success prints a line prefixed with a check mark.
func (p *Printer) Success(format string, args ...interface{}) {
	p.line(p.success, "✓", format, args...)
}

// Warn prints a line prefixed with a warning sign.
func (p *Printer) Warn(format string, args ...interface{}) {
	p.line(p.warn, "!", format, args...)
}

// Fail prints a line prefixed with a cross.
func (p *Printer) Fail(format string, args ...interface{}) {
	p.line(p.fail, "✗", format, args...)
}

// Detail prints an indented, de-emphasized line.
func (p *Printer) Detail(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "    %s\n", p.muted.Sprintf(format, args...))
}

// Field prints an aligned "label: value" pair.
func (p *Printer) Field(label string, value interface{}) {
	fmt.Fprintf(p.w, "  %s %v\n", p.bold.Sprintf("%-14s", label+":"), value)
}

// Outcome prints a status word colored by severity.
func (p *Printer) Outcome(label string, severity Severity) {
	c := p.muted
	switch severity {
	case SeverityOK:
		c = p.success
	case SeverityWarn:
		c = p.warn
	case SeverityFail:
		c = p.fail
	}
	fmt.Fprintln(p.w, c.Sprint(label))
}

func (p *Printer) line(c *color.Color, symbol, format string, args ...interface{}) {
	fmt.Fprintf(p.w, "%s %s\n", c.Sprint(symbol), fmt.Sprintf(format, args...))
}

// Severity selects the color of an outcome.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityOK
	SeverityWarn
	SeverityFail
)
