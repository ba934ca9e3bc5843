package heap

import (
	"testing"
	"unsafe"

	"corvid/internal/defs"
)

// newTestHeap builds a Heap directly over a plain Go byte slice,
// bypassing Init's PMM/VM wiring, so the free-list algorithm can be
// exercised without a real address space.
func newTestHeap(t *testing.T, size uintptr) *Heap {
	t.Helper()
	backing := make([]byte, size)
	base := defs.Va_t(uintptr(unsafe.Pointer(&backing[0])))
	h := &Heap{base: base, size: size}
	first := blockAt(uintptr(base))
	first.size = uint64(size) - uint64(blockHdrSize)
	first.next = nil
	h.free = first
	// Keep backing alive for the duration of the test by referencing
	// it from the closure below via t.Cleanup.
	t.Cleanup(func() { _ = backing })
	return h
}

func TestAllocFromSingleFreeBlock(t *testing.T) {
	h := newTestHeap(t, 4096)
	p := h.Alloc(64)
	if p == nil {
		t.Fatal("Alloc returned nil for a fresh heap")
	}
}

func TestAllocSplitsAndShrinksFreeBytes(t *testing.T) {
	h := newTestHeap(t, 4096)
	before := h.FreeBytes()
	p := h.Alloc(128)
	if p == nil {
		t.Fatal("Alloc returned nil")
	}
	after := h.FreeBytes()
	if after >= before {
		t.Fatalf("FreeBytes did not shrink: before=%d after=%d", before, after)
	}
}

func TestFreeCoalescesBackToOriginalCapacity(t *testing.T) {
	h := newTestHeap(t, 4096)
	before := h.FreeBytes()
	p1 := h.Alloc(64)
	p2 := h.Alloc(64)
	h.Free(p1)
	h.Free(p2)
	after := h.FreeBytes()
	if after != before {
		t.Fatalf("coalesced free bytes = %d, want %d", after, before)
	}
}

func TestAllocExhaustion(t *testing.T) {
	h := newTestHeap(t, 256)
	var got []unsafe.Pointer
	for {
		p := h.Alloc(64)
		if p == nil {
			break
		}
		got = append(got, p)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one successful allocation before exhaustion")
	}
	if p := h.Alloc(64); p != nil {
		t.Fatal("expected exhausted heap to return nil")
	}
}
