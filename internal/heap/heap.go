// Package heap is the kernel's own dynamic-allocation arena: a single
// fixed-size virtual window mapped once at boot and carved up by a
// first-fit free-list allocator (spec §4.3). It is not growable in
// this core — a second window would need its own VM mapping and a
// second Heap value, not a resize of this one.
package heap

import (
	"sync"
	"unsafe"

	"corvid/internal/defs"
	"corvid/internal/mem"
	"corvid/internal/vm"
)

// block is the header prefixed to every free run. size excludes the
// header itself. Free blocks are singly linked in address order so
// Free can coalesce with both neighbors in one pass.
type block struct {
	size uint64
	next *block
}

const blockHdrSize = unsafe.Sizeof(block{})

// minAlloc is the smallest region Alloc will ever hand back or Free
// will ever keep on the list; anything smaller than a header isn't
// worth tracking as a hole.
const minAlloc = 16

// Heap is the kernel dynamic-memory arena described in spec §4.3: one
// contiguous kernel-virtual window, backed by PMM frames mapped in at
// Init, carved up by a first-fit free list.
type Heap struct {
	mu    sync.Mutex
	base  defs.Va_t
	size  uintptr
	free  *block
}

// Init maps size bytes (rounded up to a page) of fresh PMM frames at
// base into as, and initializes the whole window as one free block.
// Init must be called exactly once per Heap.
func Init(as *vm.AS, pmm *mem.PMM, base defs.Va_t, size uintptr) (*Heap, bool) {
	npages := (size + uintptr(defs.PGSIZE) - 1) / uintptr(defs.PGSIZE)
	for i := uintptr(0); i < npages; i++ {
		frame, ok := pmm.AllocateFrame()
		if !ok {
			return nil, false
		}
		page := base + defs.Va_t(i*uintptr(defs.PGSIZE))
		if !as.Map(page, frame, vm.PTE_W|vm.PTE_NX) {
			return nil, false
		}
	}
	h := &Heap{base: base, size: npages * uintptr(defs.PGSIZE)}
	first := (*block)(unsafe.Pointer(uintptr(base)))
	first.size = uint64(h.size) - uint64(blockHdrSize)
	first.next = nil
	h.free = first
	return h, true
}

func blockAt(addr uintptr) *block {
	return (*block)(unsafe.Pointer(addr))
}

func dataOf(b *block) uintptr {
	return uintptr(unsafe.Pointer(b)) + blockHdrSize
}

// Alloc returns a pointer to at least n usable bytes, or nil if the
// heap has no run large enough. First-fit: walks the free list in
// address order and takes the first block that fits, splitting off
// the remainder when it's large enough to stay useful.
func (h *Heap) Alloc(n uintptr) unsafe.Pointer {
	if n < minAlloc {
		n = minAlloc
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var prev *block
	for b := h.free; b != nil; b = b.next {
		if uintptr(b.size) >= n {
			remain := uintptr(b.size) - n
			if remain > blockHdrSize+minAlloc {
				// Split: carve n bytes off the front, keep the tail
				// as a smaller free block in the same list slot.
				tail := blockAt(dataOf(b) + n)
				tail.size = uint64(remain - blockHdrSize)
				tail.next = b.next
				if prev == nil {
					h.free = tail
				} else {
					prev.next = tail
				}
				b.size = uint64(n)
			} else if prev == nil {
				h.free = b.next
			} else {
				prev.next = b.next
			}
			b.next = nil
			return unsafe.Pointer(dataOf(b))
		}
		prev = b
	}
	return nil
}

// Free returns a pointer previously returned by Alloc to the free
// list, coalescing with the immediately preceding and following free
// blocks when they are adjacent in memory. Freeing anything not obtained from Alloc, or
// freeing it twice, corrupts the heap — same contract as the PMM's
// DeallocateFrame.
func (h *Heap) Free(p unsafe.Pointer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b := (*block)(unsafe.Pointer(uintptr(p) - blockHdrSize))

	var prev *block
	cur := h.free
	for cur != nil && uintptr(unsafe.Pointer(cur)) < uintptr(unsafe.Pointer(b)) {
		prev = cur
		cur = cur.next
	}

	// Coalesce with the block that follows if they're contiguous.
	if cur != nil && dataOf(b)+uintptr(b.size) == uintptr(unsafe.Pointer(cur)) {
		b.size += uint64(blockHdrSize) + cur.size
		b.next = cur.next
	} else {
		b.next = cur
	}

	// Coalesce with the block that precedes if they're contiguous.
	if prev != nil && dataOf(prev)+uintptr(prev.size) == uintptr(unsafe.Pointer(b)) {
		prev.size += uint64(blockHdrSize) + b.size
		prev.next = b.next
		return
	}

	if prev == nil {
		h.free = b
	} else {
		prev.next = b
	}
}

// FreeBytes sums the capacity still available across the free list,
// for diagnostics and tests; it does not include block-header
// overhead.
func (h *Heap) FreeBytes() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var total uint64
	for b := h.free; b != nil; b = b.next {
		total += b.size
	}
	return total
}
