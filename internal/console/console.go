// Package console owns the framebuffer (spec §4.5): an in-memory
// character grid sized to the boot framebuffer, glyphs rasterized from
// a fixed-width bitmap font, and a ring-offset scrolling scheme so a
// scrolled line costs O(cols) rather than O(rows*cols).
//
// Grounded on gopher-os's tty.Vt (kernel/driver/tty/vt.go): the same
// WriteByte switch over \r/\n/\b/\t driving a console device, the same
// cr/lf split, generalized from VGA 16-bit text cells to a pixel
// framebuffer with a software glyph rasterizer.
package console

import (
	"sync"

	"golang.org/x/text/width"

	"corvid/internal/bootinfo"
)

const (
	charW = 8
	charH = 16
	tabW  = 4
)

// cell is one character-grid slot. cols records how many grid columns
// the rune occupies — 1 normally, 2 for an East-Asian wide rune, so
// the rasterizer never overlaps the following glyph (SPEC_FULL.md's
// x/text/width wiring).
type cell struct {
	r    rune
	cols int
}

// Console rasterizes a character grid onto a linear pixel framebuffer
// and implements line-oriented scrolling via a rotating row offset.
type Console struct {
	mu sync.Mutex

	fb     bootinfo.Framebuffer
	fbMem  []byte
	cols   int
	rows   int
	grid   []cell // rows*cols, addressed through offset
	offset int    // which grid row is currently "row 0" on screen

	curX, curY int
}

// New builds a Console over fb, whose pixel data lives at fb.Base
// (already mapped by the caller) and spans fb.Stride*fb.Height bytes.
func New(fb bootinfo.Framebuffer, fbMem []byte) *Console {
	c := &Console{
		fb:    fb,
		fbMem: fbMem,
		cols:  fb.Width / charW,
		rows:  fb.Height / charH,
	}
	c.grid = make([]cell, c.rows*c.cols)
	for i := range c.grid {
		c.grid[i] = cell{r: ' ', cols: 1}
	}
	return c
}

// rowAt translates a logical row (0 at the top of the visible screen)
// into its physical slot in the ring.
func (c *Console) rowAt(logical int) int {
	return (c.offset + logical) % c.rows
}

func (c *Console) cellIndex(logicalRow, col int) int {
	return c.rowAt(logicalRow)*c.cols + col
}

// Write implements io.Writer; bytes are decoded as UTF-8-ish single
// runes is out of scope for this core (spec treats bytes written to
// the console as already-decoded ASCII/Latin-1, matching the
// teacher's byte-oriented Vt.Write), but the x/text/width handling
// below is rune-aware for anything above the ASCII range.
func (c *Console) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range data {
		c.writeByte(b)
	}
	return len(data), nil
}

func (c *Console) writeByte(b byte) {
	switch b {
	case '\r':
		c.curX = 0
	case '\n':
		c.curX = 0
		c.lf()
	case '\x08':
		if c.curX > 0 {
			c.curX--
			c.putCell(c.curX, ' ', 1)
		}
	case '\t':
		for i := 0; i < tabW; i++ {
			c.advance(' ', 1)
		}
	default:
		c.advance(rune(b), runeCols(rune(b)))
	}
}

// runeCols reports how many character cells r occupies: 2 for
// East-Asian wide/fullwidth runes, 1 otherwise.
func runeCols(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	default:
		return 1
	}
}

func (c *Console) advance(r rune, cols int) {
	if c.curX+cols > c.cols {
		c.curX = 0
		c.lf()
	}
	c.putCell(c.curX, r, cols)
	c.curX += cols
	if c.curX >= c.cols {
		c.curX = 0
		c.lf()
	}
}

func (c *Console) putCell(col int, r rune, cols int) {
	idx := c.cellIndex(c.curY, col)
	c.grid[idx] = cell{r: r, cols: cols}
	c.rasterize(col, c.curY, r)
}

// lf advances the cursor row, scrolling via a ring-offset rotation
// when the last row is already in view — the O(cols) operation spec
// §4.5 calls for, followed by a re-render of every visible cell.
func (c *Console) lf() {
	if c.curY+1 < c.rows {
		c.curY++
		return
	}
	c.scroll(1)
}

func (c *Console) scroll(lines int) {
	for i := 0; i < lines; i++ {
		blankRow := c.offset
		for col := 0; col < c.cols; col++ {
			c.grid[blankRow*c.cols+col] = cell{r: ' ', cols: 1}
		}
		c.offset = (c.offset + 1) % c.rows
	}
	c.redrawAll()
}

// redrawAll re-rasterizes every visible cell; called once per scroll
// since the ring rotation changes every row's physical slot.
func (c *Console) redrawAll() {
	for row := 0; row < c.rows; row++ {
		for col := 0; col < c.cols; col++ {
			cl := c.grid[c.cellIndex(row, col)]
			c.rasterizeAt(col, row, cl.r)
		}
	}
}

func (c *Console) rasterize(col, row int, r rune) {
	c.rasterizeAt(col, row, r)
}

// rasterizeAt draws the glyph for r into the pixel framebuffer at
// character cell (col, row) using the bitmap font.
func (c *Console) rasterizeAt(col, row int, r rune) {
	glyph := lookupGlyph(r)
	x0 := col * charW
	y0 := row * charH
	for gy := 0; gy < charH && gy < len(glyph); gy++ {
		bits := glyph[gy]
		for gx := 0; gx < charW; gx++ {
			on := bits&(1<<uint(7-gx)) != 0
			c.setPixel(x0+gx, y0+gy, on)
		}
	}
}

func (c *Console) setPixel(x, y int, on bool) {
	if x < 0 || y < 0 || x >= c.fb.Width || y >= c.fb.Height {
		return
	}
	off := y*c.fb.Stride + x*(c.fb.BPP/8)
	if off+2 >= len(c.fbMem) {
		return
	}
	var v byte
	if on {
		v = 0xff
	}
	c.fbMem[off] = v
	c.fbMem[off+1] = v
	c.fbMem[off+2] = v
}

// Dimensions returns the console's size in character cells.
func (c *Console) Dimensions() (cols, rows int) {
	return c.cols, c.rows
}
