// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package text

import (
	"fmt"
	"testing"
)

func TestWriteLineEvictsAtMaxBufferLines(t *testing.T) {
	a := NewArea(80, 25, 100)

	for n := 1; n <= 200; n++ {
		a.WriteLine(fmt.Sprintf("LINE %d", n))
	}

	want := a.Rows + 100
	if got := len(a.lines); got != want {
		t.Fatalf("len(lines) = %d, want %d (MaxBufferLines)", got, want)
	}

	// The oldest surviving line is the one evicted up to the budget: of
	// 200 writes only the last 125 (rows+scrollback) remain.
	if first := a.lines[0]; first != "LINE 76" {
		t.Fatalf("oldest surviving line = %q, want %q", first, "LINE 76")
	}
}

func TestScrollMovesViewIntoHistory(t *testing.T) {
	a := NewArea(80, 25, 100)

	for n := 1; n <= 200; n++ {
		a.WriteLine(fmt.Sprintf("LINE %d", n))
	}

	a.Scroll(-2)

	visible := a.ReadVisible()
	if len(visible) != a.Rows {
		t.Fatalf("len(ReadVisible()) = %d, want %d", len(visible), a.Rows)
	}

	if a.ScrolledBackLines() == 0 {
		t.Fatal("ScrolledBackLines() = 0 after scrolling back, want > 0")
	}

	// A fresh write implicitly scrolls forward to now (§4.e Scroll
	// discipline).
	a.WriteLine("LINE 201")
	if a.ScrolledBackLines() != 0 {
		t.Fatalf("ScrolledBackLines() = %d after write, want 0 (snap to bottom)", a.ScrolledBackLines())
	}

	visible = a.ReadVisible()
	if visible[len(visible)-1] != "LINE 201" {
		t.Fatalf("last visible line = %q, want %q", visible[len(visible)-1], "LINE 201")
	}
}

func TestScrollClampsAtHistoryBounds(t *testing.T) {
	a := NewArea(80, 25, 100)

	for n := 1; n <= 5; n++ {
		a.WriteLine(fmt.Sprintf("LINE %d", n))
	}

	a.Scroll(-100)
	if max := a.ScrollbackLines(); a.ScrolledBackLines() != max {
		t.Fatalf("ScrolledBackLines() = %d, want clamp to %d", a.ScrolledBackLines(), max)
	}

	a.Scroll(100)
	if a.ScrolledBackLines() != 0 {
		t.Fatalf("ScrolledBackLines() = %d, want clamp to 0", a.ScrolledBackLines())
	}
}

func TestPutAndNewlineComposeOneLineAtATime(t *testing.T) {
	a := NewArea(80, 25, 10)

	a.Put("a")
	a.Put("b")
	a.Put("c")

	visible := a.ReadVisible()
	if len(visible) != 1 || visible[0] != "abc" {
		t.Fatalf("ReadVisible() = %v, want single line %q", visible, "abc")
	}

	a.Newline()
	a.Put("d")

	visible = a.ReadVisible()
	if len(visible) != 2 || visible[0] != "abc" || visible[1] != "d" {
		t.Fatalf("ReadVisible() = %v, want [%q %q]", visible, "abc", "d")
	}
}

func TestDeleteLastCharTrimsCurrentLine(t *testing.T) {
	a := NewArea(80, 25, 10)

	a.Put("abc")
	a.DeleteLastChar()

	visible := a.ReadVisible()
	if len(visible) != 1 || visible[0] != "ab" {
		t.Fatalf("ReadVisible() = %v, want single line %q", visible, "ab")
	}

	// Deleting from an empty line is a no-op, not a panic.
	a2 := NewArea(80, 25, 10)
	a2.DeleteLastChar()
	if len(a2.ReadVisible()) != 0 {
		t.Fatalf("ReadVisible() on empty area = %v, want empty", a2.ReadVisible())
	}
}

func TestToPCColorMapsDefinedConstantsExactly(t *testing.T) {
	for want, rgb := range pcPalette {
		pc, intense := ToPCColor(rgb)
		gotIdx := int(pc)
		if intense {
			gotIdx += 8
		}
		if gotIdx != want {
			t.Fatalf("ToPCColor(%v) round-trips to %d (intense=%v), want %d", rgb, gotIdx, intense, want)
		}
	}
}
