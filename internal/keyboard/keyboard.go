// Package keyboard decodes PS/2 set-1 scancodes into runes and owns
// the lossy scancode ring the keyboard interrupt posts into (spec
// §4.4.1). Kept standalone from internal/devfs because the console's
// blocking single-slot waiter is a devfs concern, while scancode
// decoding is reusable independent of how (or whether) a reader is
// currently blocked.
//
// The ring itself follows the head/tail-modulo idiom of biscuit's
// circbuf.Circbuf_t (src/circbuf/circbuf.go), generalized for lossy
// producer-overflow behavior: circbuf's Copyin blocks the writer
// until there's Left() space, but a keyboard IRQ handler can never
// block, so Ring.Push drops the oldest scancode on overflow instead
// (spec §4.4.1 "on overflow the oldest scancode is dropped").
package keyboard

import "sync"

const ringCapacity = 64

// Ring is a fixed-size lossy FIFO of raw scancode bytes.
type Ring struct {
	mu         sync.Mutex
	buf        [ringCapacity]byte
	head, tail int
}

// Push appends a scancode, dropping the oldest entry if the ring is
// already full.
func (r *Ring) Push(scancode byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full() {
		r.tail = (r.tail + 1) % ringCapacity
	}
	r.buf[r.head] = scancode
	r.head = (r.head + 1) % ringCapacity
}

// Pop removes and returns the oldest scancode, or ok=false if empty.
func (r *Ring) Pop() (scancode byte, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.head == r.tail {
		return 0, false
	}
	scancode = r.buf[r.tail]
	r.tail = (r.tail + 1) % ringCapacity
	return scancode, true
}

func (r *Ring) full() bool {
	return (r.head+1)%ringCapacity == r.tail
}

// shiftSet tracks the two physical shift keys independently so either
// releasing doesn't clear the other's held state.
type shiftSet struct {
	left, right bool
}

func (s shiftSet) held() bool { return s.left || s.right }

// Decoder turns a stream of set-1 scancodes into runes, tracking
// shift state across calls (spec §4.4.1 "decoded lazily inside
// read").
type Decoder struct {
	shift shiftSet
}

const (
	scancodeLeftShiftMake   = 0x2A
	scancodeLeftShiftBreak  = 0xAA
	scancodeRightShiftMake  = 0x36
	scancodeRightShiftBreak = 0xB6
	breakBit                = 0x80

	scancodeBackspaceMake = 0x0E
	// ScancodeEOF is a reserved make code devfs's Read treats as the
	// console's EOF marker, shadowing set-1's own "3" key code; this
	// core never wires a physical Ctrl-D combo, so the collision
	// costs nothing in practice.
	ScancodeEOF = 0x04
)

var unshifted = [...]rune{
	0, 0, '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=', 0 /* backspace */, '\t',
	'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '[', ']', '\n', 0, /* ctrl */
	'a', 's', 'd', 'f', 'g', 'h', 'j', 'k', 'l', ';', '\'', '`', 0, /* shift */
	'\\', 'z', 'x', 'c', 'v', 'b', 'n', 'm', ',', '.', '/', 0, /* shift */
	'*', 0 /* alt */, ' ',
}

var shifted = [...]rune{
	0, 0, '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '_', '+', 0, '\t',
	'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', '{', '}', '\n', 0,
	'A', 'S', 'D', 'F', 'G', 'H', 'J', 'K', 'L', ':', '"', '~', 0,
	'|', 'Z', 'X', 'C', 'V', 'B', 'N', 'M', '<', '>', '?', 0,
	'*', 0, ' ',
}

// Feed decodes one scancode, returning the rune it produces (ok=true)
// or ok=false for modifier keys, key-up events, and unmapped codes.
// 0x08 (backspace) and 0x04 (EOF) are passed through as their literal
// byte values by the console, not through this table.
func (d *Decoder) Feed(scancode byte) (r rune, ok bool) {
	switch scancode {
	case ScancodeEOF:
		return 0x04, true
	case scancodeBackspaceMake:
		return 0x08, true
	case scancodeLeftShiftMake:
		d.shift.left = true
		return 0, false
	case scancodeLeftShiftBreak:
		d.shift.left = false
		return 0, false
	case scancodeRightShiftMake:
		d.shift.right = true
		return 0, false
	case scancodeRightShiftBreak:
		d.shift.right = false
		return 0, false
	}
	if scancode&breakBit != 0 {
		return 0, false // key-up, not otherwise tracked
	}
	idx := int(scancode)
	table := unshifted[:]
	if d.shift.held() {
		table = shifted[:]
	}
	if idx >= len(table) || table[idx] == 0 {
		return 0, false
	}
	return table[idx], true
}
