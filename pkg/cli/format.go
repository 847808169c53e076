// Package cli holds the terminal formatting helpers of the tbkit command.
package cli

import (
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// colorEnabled is off when NO_COLOR is set (no-color.org) or stdout is not
// a terminal.
var colorEnabled = os.Getenv("NO_COLOR") == "" && isTerminal(os.Stdout)

// SetColor forces colored output on or off.
func SetColor(on bool) {
	colorEnabled = on
}

func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Green wraps s in ANSI green.
func Green(s string) string { return paint("32", s) }

// Yellow wraps s in ANSI yellow.
func Yellow(s string) string { return paint("33", s) }

// Red wraps s in ANSI red.
func Red(s string) string { return paint("31", s) }

// Bold wraps s in ANSI bold.
func Bold(s string) string { return paint("1", s) }

// Dim wraps s in ANSI dim.
func Dim(s string) string { return paint("2", s) }

// DotPad pads name with dots to the given width.
// Example: DotPad("h1", 10) → "h1 ......."
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	return name + " " + strings.Repeat(".", width-len(name)-1)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the columns of w, or 0 when w is not a terminal.
func terminalWidth(w io.Writer) int {
	if !isTerminal(w) {
		return 0
	}
	cols, _, err := term.GetSize(int(w.(*os.File).Fd()))
	if err != nil {
		return 0
	}
	return cols
}
