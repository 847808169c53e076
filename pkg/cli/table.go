package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const columnGap = 2

// Table prints column-aligned rows. Rows are buffered until Flush so that
// widths fit the content; on a terminal, wide columns are wrapped to fit
// the screen. Tables without rows print nothing.
type Table struct {
	out     io.Writer
	width   int // 0: unlimited
	headers []string
	prefix  string
	rows    [][]string
}

// NewTable creates a table on stdout.
func NewTable(headers ...string) *Table {
	return &Table{out: os.Stdout, width: terminalWidth(os.Stdout), headers: headers}
}

// WithWriter sends the table to w.
func (t *Table) WithWriter(w io.Writer) *Table {
	t.out = w
	t.width = terminalWidth(w)
	return t
}

// WithWidth caps lines at cols columns; 0 disables the cap.
func (t *Table) WithWidth(cols int) *Table {
	t.width = cols
	return t
}

// WithPrefix sets a string prepended to each line.
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

// Row adds a row.
func (t *Table) Row(values ...string) {
	t.rows = append(t.rows, values)
}

// Flush writes the buffered rows under the headers.
func (t *Table) Flush() {
	if len(t.rows) == 0 {
		return
	}
	headers := t.headers
	for _, r := range t.rows {
		for len(headers) < len(r) {
			headers = append(headers, "")
		}
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = visualLen(h)
	}
	for _, r := range t.rows {
		for i, c := range r {
			if n := visualLen(c); n > widths[i] {
				widths[i] = n
			}
		}
	}
	if t.width > 0 {
		widths = capWidths(widths, headers, t.width, visualLen(t.prefix))
	}

	t.writeRow(headers, widths)
	dividers := make([]string, len(headers))
	for i, h := range headers {
		dividers[i] = strings.Repeat("-", visualLen(h))
	}
	t.writeRow(dividers, widths)
	for _, r := range t.rows {
		t.writeRow(r, widths)
	}
	t.rows = nil
}

func (t *Table) writeRow(cells []string, widths []int) {
	wrapped := make([][]string, len(widths))
	lines := 1
	for i := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		wrapped[i] = wrapCell(cell, widths[i])
		if len(wrapped[i]) > lines {
			lines = len(wrapped[i])
		}
	}
	for l := 0; l < lines; l++ {
		var b strings.Builder
		b.WriteString(t.prefix)
		for i, w := range widths {
			part := ""
			if l < len(wrapped[i]) {
				part = wrapped[i][l]
			}
			b.WriteString(part)
			if i < len(widths)-1 {
				b.WriteString(strings.Repeat(" ", w-visualLen(part)+columnGap))
			}
		}
		fmt.Fprintln(t.out, strings.TrimRight(b.String(), " "))
	}
}

// capWidths narrows the widest columns until a line fits in termWidth.
// No column goes below the width of its header.
func capWidths(widths []int, headers []string, termWidth, prefix int) []int {
	out := append([]int(nil), widths...)
	total := func() int {
		n := prefix + columnGap*(len(out)-1)
		for _, w := range out {
			n += w
		}
		return n
	}
	for excess := total() - termWidth; excess > 0; excess = total() - termWidth {
		widest := -1
		for i, w := range out {
			if w > visualLen(headers[i]) && (widest < 0 || w > out[widest]) {
				widest = i
			}
		}
		if widest < 0 {
			break
		}
		room := out[widest] - visualLen(headers[widest])
		if excess < room {
			room = excess
		}
		out[widest] -= room
	}
	return out
}

// wrapCell splits s into lines of at most width columns, at spaces where
// possible. Cells that fit are returned unchanged, escape codes included.
func wrapCell(s string, width int) []string {
	if width <= 0 || visualLen(s) <= width {
		return []string{s}
	}
	var lines []string
	cur := ""
	for _, word := range strings.Fields(s) {
		if visualLen(word) > width {
			if cur != "" {
				lines = append(lines, cur)
			}
			r := []rune(word)
			for len(r) > width {
				lines = append(lines, string(r[:width]))
				r = r[width:]
			}
			cur = string(r)
			continue
		}
		switch {
		case cur == "":
			cur = word
		case visualLen(cur)+1+visualLen(word) <= width:
			cur += " " + word
		default:
			lines = append(lines, cur)
			cur = word
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

// visualLen counts the runes of s that take up a column, skipping ANSI
// escape sequences.
func visualLen(s string) int {
	n := 0
	inEsc := false
	for _, r := range s {
		switch {
		case inEsc:
			if r >= '@' && r <= '~' && r != '[' {
				inEsc = false
			}
		case r == '\x1b':
			inEsc = true
		default:
			n++
		}
	}
	return n
}
