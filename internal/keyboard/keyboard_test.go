package keyboard

import "testing"

func TestRingFIFOOrder(t *testing.T) {
	var r Ring
	r.Push(1)
	r.Push(2)
	r.Push(3)
	for _, want := range []byte{1, 2, 3} {
		got, ok := r.Pop()
		if !ok || got != want {
			t.Fatalf("Pop() = %d,%v want %d,true", got, ok, want)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("expected empty ring")
	}
}

func TestRingDropsOldestOnOverflow(t *testing.T) {
	var r Ring
	for i := 0; i < ringCapacity+5; i++ {
		r.Push(byte(i))
	}
	first, ok := r.Pop()
	if !ok {
		t.Fatal("expected a scancode")
	}
	if first == 0 {
		t.Fatalf("oldest entries should have been dropped, got %d", first)
	}
}

func TestDecoderLowercaseAndShift(t *testing.T) {
	var d Decoder
	r, ok := d.Feed(0x1E) // 'a' make code
	if !ok || r != 'a' {
		t.Fatalf("Feed('a' make) = %q,%v", r, ok)
	}
	d.Feed(scancodeLeftShiftMake)
	r, ok = d.Feed(0x1E)
	if !ok || r != 'A' {
		t.Fatalf("Feed('a' make with shift held) = %q,%v", r, ok)
	}
	d.Feed(scancodeLeftShiftBreak)
	r, ok = d.Feed(0x1E)
	if !ok || r != 'a' {
		t.Fatalf("Feed after shift release = %q,%v", r, ok)
	}
}

func TestDecoderIgnoresKeyUp(t *testing.T) {
	var d Decoder
	if _, ok := d.Feed(0x1E | breakBit); ok {
		t.Fatal("expected key-up to be ignored")
	}
}
