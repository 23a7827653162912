// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package text

import (
	"fmt"
	"io"
)

// Color is a 24-bit RGB color, as stored on an Area (§3 Text area:
// "foreground/background color, an 8-bit PC-palette colour derived from
// foreground/background").
type Color struct {
	R, G, B uint8
}

// The 16 PC-palette colors (§4.e: "reserving the pre-defined COLOR_*
// constants to map exactly"). PCColor values 0-7 are the low-intensity
// half, 8-15 the same hues with the intense bit set.
type PCColor uint8

const (
	ColorBlack PCColor = iota
	ColorBlue
	ColorGreen
	ColorCyan
	ColorRed
	ColorMagenta
	ColorBrown
	ColorLightGray
	ColorDarkGray
	ColorLightBlue
	ColorLightGreen
	ColorLightCyan
	ColorLightRed
	ColorLightMagenta
	ColorYellow
	ColorWhite
)

// pcPalette is the RGB value of each of the 16 PC-palette hues, used by
// ToPCColor to find the nearest match.
var pcPalette = [16]Color{
	ColorBlack:        {0x00, 0x00, 0x00},
	ColorBlue:         {0x00, 0x00, 0xAA},
	ColorGreen:        {0x00, 0xAA, 0x00},
	ColorCyan:         {0x00, 0xAA, 0xAA},
	ColorRed:          {0xAA, 0x00, 0x00},
	ColorMagenta:      {0xAA, 0x00, 0xAA},
	ColorBrown:        {0xAA, 0x55, 0x00},
	ColorLightGray:    {0xAA, 0xAA, 0xAA},
	ColorDarkGray:     {0x55, 0x55, 0x55},
	ColorLightBlue:    {0x55, 0x55, 0xFF},
	ColorLightGreen:   {0x55, 0xFF, 0x55},
	ColorLightCyan:    {0x55, 0xFF, 0xFF},
	ColorLightRed:     {0xFF, 0x55, 0x55},
	ColorLightMagenta: {0xFF, 0x55, 0xFF},
	ColorYellow:       {0xFF, 0xFF, 0x55},
	ColorWhite:        {0xFF, 0xFF, 0xFF},
}

// ToPCColor converts a 24-bit RGB color to a 4-bit PC color plus an
// "intense" bit (§4.e: "converts a 24-bit RGB into a 4-bit PC colour plus
// intense bit"). The 4-bit value is one of the 8 low-intensity hues
// (ColorBlack..ColorLightGray); intense reports whether the brighter half
// of the palette was the nearer match.
func ToPCColor(c Color) (pc PCColor, intense bool) {
	best := PCColor(0)
	bestDist := -1

	for i, p := range pcPalette {
		d := sqDist(c, p)
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = PCColor(i)
		}
	}

	if best >= 8 {
		return best - 8, true
	}
	return best, false
}

func sqDist(a, b Color) int {
	dr := int(a.R) - int(b.R)
	dg := int(a.G) - int(b.G)
	db := int(a.B) - int(b.B)
	return dr*dr + dg*dg + db*db
}

// Attr is a set of print attributes (§4.e: "print string with optional
// attributes {foreground, background, reverse, blink, no-format}").
type Attr struct {
	Foreground, Background Color
	Reverse, Blink         bool
	NoFormat               bool
}

// Driver is the output driver capability set implemented identically by
// the text-mode and graphics-mode backends (§4.e).
type Driver interface {
	SetCursor(row, col int)
	GetCursor() (row, col int)
	SetCursorAddress(addr uint32)
	GetCursorAddress() uint32

	SetForeground(c Color)
	SetBackground(c Color)

	Print(s string, a Attr)
	DeleteLastChar()

	Clear()
	Save() []byte
	Restore(snapshot []byte)
	Redraw()
}

// TextModeDriver is the text-mode backend: 2 bytes/char (character,
// attribute) written directly into a mapped video memory region (§4.e:
// "mapped directly over text-mode video memory (2 bytes/char)"), grounded
// on the same "console is a byte sink, nothing else knows about it" shape
// as the board-level serial console drivers in the original source.
type TextModeDriver struct {
	Columns, Rows int
	Video         []byte // Columns*Rows*2 bytes: char, attribute

	row, col      int
	cursorVisible bool
	attr          uint8
}

// NewTextModeDriver allocates a text-mode driver over a columns×rows
// video region.
func NewTextModeDriver(columns, rows int) *TextModeDriver {
	return &TextModeDriver{
		Columns:       columns,
		Rows:          rows,
		Video:         make([]byte, columns*rows*2),
		cursorVisible: true,
	}
}

func (d *TextModeDriver) offset(row, col int) int {
	return (row*d.Columns + col) * 2
}

func (d *TextModeDriver) SetCursor(row, col int) {
	d.row, d.col = row, col
}

func (d *TextModeDriver) GetCursor() (row, col int) {
	return d.row, d.col
}

func (d *TextModeDriver) SetCursorAddress(addr uint32) {
	d.row = int(addr) / d.Columns
	d.col = int(addr) % d.Columns
}

func (d *TextModeDriver) GetCursorAddress() uint32 {
	return uint32(d.row*d.Columns + d.col)
}

func (d *TextModeDriver) SetForeground(c Color) {
	pc, intense := ToPCColor(c)
	d.attr = (d.attr &^ 0x0F) | uint8(pc)
	if intense {
		d.attr |= 0x08
	} else {
		d.attr &^= 0x08
	}
}

func (d *TextModeDriver) SetBackground(c Color) {
	pc, _ := ToPCColor(c)
	d.attr = (d.attr &^ 0x70) | (uint8(pc)&0x07)<<4
}

func (d *TextModeDriver) Print(s string, a Attr) {
	attr := d.attr
	if a.Reverse {
		attr = (attr&0x0F)<<4 | (attr&0xF0)>>4
	}
	if a.Blink {
		attr |= 0x80
	}

	for _, r := range s {
		if d.col >= d.Columns {
			d.col = 0
			d.row++
		}
		if d.row >= d.Rows {
			break
		}

		off := d.offset(d.row, d.col)
		if off+1 < len(d.Video) {
			d.Video[off] = byte(r)
			d.Video[off+1] = attr
		}
		d.col++
	}
}

func (d *TextModeDriver) DeleteLastChar() {
	if d.col == 0 {
		if d.row == 0 {
			return
		}
		d.row--
		d.col = d.Columns - 1
	} else {
		d.col--
	}

	off := d.offset(d.row, d.col)
	if off+1 < len(d.Video) {
		d.Video[off] = ' '
		d.Video[off+1] = d.attr
	}
}

func (d *TextModeDriver) Clear() {
	for i := range d.Video {
		if i%2 == 0 {
			d.Video[i] = ' '
		} else {
			d.Video[i] = d.attr
		}
	}
	d.row, d.col = 0, 0
}

func (d *TextModeDriver) Save() []byte {
	snap := make([]byte, len(d.Video))
	copy(snap, d.Video)
	return snap
}

func (d *TextModeDriver) Restore(snapshot []byte) {
	copy(d.Video, snapshot)
}

func (d *TextModeDriver) Redraw() {}

// GraphicsModeDriver is the graphics-mode backend: 1 byte/char into a
// buffer a GUI component draws (§4.e: "backed by a GUI component (usually
// 1 byte/char into a buffer the window draws)"), flushing a textual
// rendering to an io.Writer on Redraw.
type GraphicsModeDriver struct {
	Columns, Rows int
	Buffer        []byte
	Out           io.Writer

	fg, bg   Color
	row, col int
}

// NewGraphicsModeDriver allocates a graphics-mode driver that redraws to
// out.
func NewGraphicsModeDriver(columns, rows int, out io.Writer) *GraphicsModeDriver {
	return &GraphicsModeDriver{
		Columns: columns,
		Rows:    rows,
		Buffer:  make([]byte, columns*rows),
		Out:     out,
	}
}

func (d *GraphicsModeDriver) offset(row, col int) int {
	return row*d.Columns + col
}

func (d *GraphicsModeDriver) SetCursor(row, col int) {
	d.row, d.col = row, col
}

func (d *GraphicsModeDriver) GetCursor() (row, col int) {
	return d.row, d.col
}

func (d *GraphicsModeDriver) SetCursorAddress(addr uint32) {
	d.row = int(addr) / d.Columns
	d.col = int(addr) % d.Columns
}

func (d *GraphicsModeDriver) GetCursorAddress() uint32 {
	return uint32(d.row*d.Columns + d.col)
}

func (d *GraphicsModeDriver) SetForeground(c Color) { d.fg = c }
func (d *GraphicsModeDriver) SetBackground(c Color) { d.bg = c }

func (d *GraphicsModeDriver) Print(s string, a Attr) {
	for _, r := range s {
		if d.col >= d.Columns {
			d.col = 0
			d.row++
		}
		if d.row >= d.Rows {
			break
		}
		off := d.offset(d.row, d.col)
		if off < len(d.Buffer) {
			d.Buffer[off] = byte(r)
		}
		d.col++
	}
}

func (d *GraphicsModeDriver) DeleteLastChar() {
	if d.col == 0 {
		if d.row == 0 {
			return
		}
		d.row--
		d.col = d.Columns - 1
	} else {
		d.col--
	}
	if off := d.offset(d.row, d.col); off < len(d.Buffer) {
		d.Buffer[off] = ' '
	}
}

func (d *GraphicsModeDriver) Clear() {
	for i := range d.Buffer {
		d.Buffer[i] = ' '
	}
	d.row, d.col = 0, 0
}

func (d *GraphicsModeDriver) Save() []byte {
	snap := make([]byte, len(d.Buffer))
	copy(snap, d.Buffer)
	return snap
}

func (d *GraphicsModeDriver) Restore(snapshot []byte) {
	copy(d.Buffer, snapshot)
}

func (d *GraphicsModeDriver) Redraw() {
	if d.Out == nil {
		return
	}
	for row := 0; row < d.Rows; row++ {
		line := d.Buffer[row*d.Columns : (row+1)*d.Columns]
		fmt.Fprintf(d.Out, "%s\n", line)
	}
}
