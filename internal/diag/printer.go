package diag

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ColorMode selects when diagnostics are colored.
type ColorMode string

const (
	ColorAuto ColorMode = "auto"
	ColorOn   ColorMode = "on"
	ColorOff  ColorMode = "off"
)

// ParseColorMode accepts auto, on and off; empty means auto.
func ParseColorMode(s string) (ColorMode, error) {
	switch ColorMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ColorAuto:
		return ColorAuto, nil
	case ColorOn:
		return ColorOn, nil
	case ColorOff:
		return ColorOff, nil
	default:
		return ColorAuto, fmt.Errorf("invalid color mode %q (expected: auto|on|off)", s)
	}
}

// Printer writes diagnostics for one tool.
type Printer struct {
	w     io.Writer
	tool  string
	color bool
}

// New returns a printer writing to w. In auto mode color is used only
// when w is a terminal.
func New(w io.Writer, tool string, mode ColorMode) *Printer {
	useColor := mode == ColorOn
	if mode == ColorAuto {
		if f, ok := w.(*os.File); ok {
			useColor = IsTerminal(f)
		}
	}
	return &Printer{w: w, tool: tool, color: useColor}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // file descriptors fit in int
}

// Report prints one diagnostic line.
func (p *Printer) Report(sev Severity, format string, args ...any) {
	label := sev.String() + ":"
	if p.color {
		c := sev.color()
		c.EnableColor()
		label = c.Sprint(label)
	}
	msg := fmt.Sprintf(format, args...)
	_, _ = fmt.Fprintf(p.w, "%s: %s %s\n", p.tool, label, msg)
}

// Fatal prints err as a fatal error.
func (p *Printer) Fatal(err error) {
	p.Report(SevFatal, "%v", err)
}

// Note prints a note.
func (p *Printer) Note(format string, args ...any) {
	p.Report(SevNote, format, args...)
}
