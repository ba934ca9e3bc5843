package console

// glyph is one character's bitmap: up to charH rows, each row's low
// charW bits are the pixel mask (bit 7 = leftmost column).
type glyph = [charH]byte

var blankGlyph glyph

// fallbackGlyph is rendered for any rune not present in the font
// table below: a light outline box, so an unmapped rune is visibly
// distinct from a space rather than silently vanishing.
var fallbackGlyph = glyph{
	0x00, 0x7e, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42,
	0x42, 0x42, 0x42, 0x42, 0x42, 0x7e, 0x00, 0x00,
}

// font covers the digits and the punctuation most common in log
// output. Anything else in the printable range, including letters,
// falls back to fallbackGlyph rather than growing this table further
// for glyphs this core's own diagnostics rarely print.
var font = map[rune]glyph{
	' ': blankGlyph,
	'!': {0, 0x18, 0x3c, 0x3c, 0x3c, 0x18, 0x18, 0, 0x18, 0x18, 0, 0, 0, 0, 0, 0},
	'.': {0, 0, 0, 0, 0, 0, 0, 0, 0, 0x18, 0x18, 0, 0, 0, 0, 0},
	',': {0, 0, 0, 0, 0, 0, 0, 0, 0, 0x18, 0x18, 0x08, 0x10, 0, 0, 0},
	':': {0, 0, 0x18, 0x18, 0, 0, 0, 0, 0, 0x18, 0x18, 0, 0, 0, 0, 0},
	'/': {0, 0x02, 0x04, 0x08, 0x10, 0x20, 0x40, 0x80, 0, 0, 0, 0, 0, 0, 0, 0},
	'-': {0, 0, 0, 0, 0, 0x7e, 0x7e, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	'_': {0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x7e, 0, 0},
	'0': {0, 0x3c, 0x66, 0x6e, 0x76, 0x66, 0x66, 0x3c, 0, 0, 0, 0, 0, 0, 0, 0},
	'1': {0, 0x18, 0x38, 0x18, 0x18, 0x18, 0x18, 0x7e, 0, 0, 0, 0, 0, 0, 0, 0},
	'2': {0, 0x3c, 0x66, 0x06, 0x1c, 0x30, 0x60, 0x7e, 0, 0, 0, 0, 0, 0, 0, 0},
	'3': {0, 0x3c, 0x66, 0x06, 0x1c, 0x06, 0x66, 0x3c, 0, 0, 0, 0, 0, 0, 0, 0},
	'4': {0, 0x0c, 0x1c, 0x3c, 0x6c, 0x7e, 0x0c, 0x0c, 0, 0, 0, 0, 0, 0, 0, 0},
	'5': {0, 0x7e, 0x60, 0x7c, 0x06, 0x06, 0x66, 0x3c, 0, 0, 0, 0, 0, 0, 0, 0},
	'6': {0, 0x3c, 0x60, 0x7c, 0x66, 0x66, 0x66, 0x3c, 0, 0, 0, 0, 0, 0, 0, 0},
	'7': {0, 0x7e, 0x06, 0x0c, 0x18, 0x30, 0x30, 0x30, 0, 0, 0, 0, 0, 0, 0, 0},
	'8': {0, 0x3c, 0x66, 0x66, 0x3c, 0x66, 0x66, 0x3c, 0, 0, 0, 0, 0, 0, 0, 0},
	'9': {0, 0x3c, 0x66, 0x66, 0x3e, 0x06, 0x66, 0x3c, 0, 0, 0, 0, 0, 0, 0, 0},
}

// lookupGlyph returns the bitmap for r, or fallbackGlyph if r isn't
// in the table.
func lookupGlyph(r rune) glyph {
	if g, ok := font[r]; ok {
		return g
	}
	return fallbackGlyph
}
