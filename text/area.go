// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package text implements the text stream layer of §4.e: per-process input
// and output text streams, a scrollback ring, and the text-mode/graphics-mode
// output driver split.
package text

import "fmt"

// DefaultTab is the tab stop width used by the input stream's echo
// intercept (§4.e).
const DefaultTab = 8

// Area is a console text area: a fixed viewport over a scrollback ring of
// lines. Lines, not raw bytes-per-char video cells, are the unit of storage
// here — the spec's "bytes-per-char" distinction between text-mode (1) and
// graphics-mode (2) video memory is a Driver concern (area.go only tracks
// what content is scrolled into view).
type Area struct {
	Columns int
	Rows    int

	MaxBufferLines int

	CursorRow, CursorCol int
	CursorVisible        bool

	Foreground, Background Color

	NoScroll bool

	Input  *InputStream
	Output Driver

	lines             []string
	scrolledBackLines int
}

// NewArea creates a text area with the given geometry and scrollback
// budget. MaxBufferLines follows §3's "rows + scrollback budget" shape.
func NewArea(columns, rows, scrollbackBudget int) *Area {
	return &Area{
		Columns:        columns,
		Rows:           rows,
		MaxBufferLines: rows + scrollbackBudget,
		CursorVisible:  true,
	}
}

// ScrollbackLines is the number of historical lines currently retained
// above the active viewport.
func (a *Area) ScrollbackLines() int {
	if len(a.lines) <= a.Rows {
		return 0
	}
	return len(a.lines) - a.Rows
}

// ScrolledBackLines is how far the current view is scrolled away from
// "now" (the bottom).
func (a *Area) ScrolledBackLines() int {
	return a.scrolledBackLines
}

// WriteLine appends one complete line to the scrollback ring, evicting the
// oldest line once MaxBufferLines is exceeded, and snaps the view back to
// "now" (§4.e Scroll discipline: "any write implicitly scrolls forward to
// now").
func (a *Area) WriteLine(line string) {
	a.lines = append(a.lines, line)
	a.evict()
	a.scrolledBackLines = 0
}

// Put appends s to the line currently being composed (the input stream's
// in-progress echo line), creating one if the area is empty.
func (a *Area) Put(s string) {
	if len(a.lines) == 0 {
		a.lines = append(a.lines, "")
	}
	a.lines[len(a.lines)-1] += s
	a.evict()
	a.scrolledBackLines = 0
}

// Newline finalizes the line currently being composed and starts a new,
// blank one (§4.e Scroll discipline: "on newline from the bottom row...
// blank the last line").
func (a *Area) Newline() {
	a.lines = append(a.lines, "")
	a.evict()
	a.scrolledBackLines = 0
}

func (a *Area) evict() {
	if len(a.lines) > a.MaxBufferLines {
		a.lines = a.lines[len(a.lines)-a.MaxBufferLines:]
	}
}

// Scroll moves the view by n screens: negative scrolls back into history,
// positive scrolls forward toward "now" (§8 scenario 4: "scroll(-2) moves
// the view up two screens").
func (a *Area) Scroll(n int) {
	a.scrolledBackLines -= n * a.Rows

	if a.scrolledBackLines < 0 {
		a.scrolledBackLines = 0
	}
	if max := a.ScrollbackLines(); a.scrolledBackLines > max {
		a.scrolledBackLines = max
	}
}

// ReadVisible returns the lines currently in the viewport, oldest first.
func (a *Area) ReadVisible() []string {
	total := len(a.lines)
	end := total - a.scrolledBackLines
	start := end - a.Rows

	if start < 0 {
		start = 0
	}
	if end > total {
		end = total
	}
	if end < start {
		end = start
	}

	out := make([]string, end-start)
	copy(out, a.lines[start:end])

	return out
}

// DeleteLastChar removes the final character from the last line in the
// scrollback ring (used by the input stream's backspace intercept).
func (a *Area) DeleteLastChar() {
	if len(a.lines) == 0 {
		return
	}
	last := a.lines[len(a.lines)-1]
	if last == "" {
		return
	}
	a.lines[len(a.lines)-1] = last[:len(last)-1]
}

// String renders the area for debugging.
func (a *Area) String() string {
	return fmt.Sprintf("Area(%dx%d, %d lines, scrolledBack=%d)", a.Columns, a.Rows, len(a.lines), a.scrolledBackLines)
}
