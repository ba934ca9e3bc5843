package console

import (
	"testing"

	"corvid/internal/bootinfo"
)

func newTestConsole(cols, rows int) *Console {
	fb := bootinfo.Framebuffer{
		Width:  cols * charW,
		Height: rows * charH,
		Stride: cols * charW * 4,
		BPP:    32,
		Format: bootinfo.PixelFormatRGB,
	}
	mem := make([]byte, fb.Stride*fb.Height)
	return New(fb, mem)
}

func TestWriteAdvancesCursorAndWraps(t *testing.T) {
	c := newTestConsole(4, 3)
	c.Write([]byte("abcd"))
	if c.curX != 0 || c.curY != 1 {
		t.Fatalf("after filling a row, cursor = (%d,%d), want (0,1)", c.curX, c.curY)
	}
}

func TestNewlineResetsColumn(t *testing.T) {
	c := newTestConsole(10, 3)
	c.Write([]byte("ab\n"))
	if c.curX != 0 || c.curY != 1 {
		t.Fatalf("cursor = (%d,%d), want (0,1)", c.curX, c.curY)
	}
}

func TestScrollAtBottomRow(t *testing.T) {
	c := newTestConsole(4, 2)
	c.Write([]byte("11112222"))
	before := c.offset
	c.Write([]byte("\n"))
	if c.offset == before {
		t.Fatal("expected a scroll to rotate the ring offset")
	}
}

func TestBackspaceMovesCursorLeft(t *testing.T) {
	c := newTestConsole(10, 3)
	c.Write([]byte("ab\x08"))
	if c.curX != 1 {
		t.Fatalf("curX = %d, want 1", c.curX)
	}
}

func TestWideRuneOccupiesTwoCells(t *testing.T) {
	c := newTestConsole(10, 3)
	before := c.curX
	c.advance('中', runeCols('中')) // CJK "middle"
	if c.curX-before != 2 {
		t.Fatalf("wide rune advanced cursor by %d, want 2", c.curX-before)
	}
}
