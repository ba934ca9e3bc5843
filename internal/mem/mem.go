// Package mem is the physical memory manager: a 1-bit-per-frame bitmap
// allocator over 4KiB frames (spec §4.1), plus the Dmap helper that
// turns a physical address into a kernel-virtual alias using the
// bootloader's phys-offset mapping (spec §4.2 preamble).
//
// Grounded on other_examples' goos-e bitmap_allocator.go for the
// word-at-a-time bitmap scan, and on the teacher's mem package for the
// Pa_t/Pg_t naming and the Dmap/Dmap8 split.
package mem

import (
	"math/bits"
	"unsafe"

	"corvid/internal/bootinfo"
	"corvid/internal/defs"
)

// Pg_t is a page-sized array of bytes, the unit Dmap returns a pointer
// to.
type Pg_t [defs.PGSIZE]byte

// PMM is the bitmap-backed physical frame allocator. One instance is
// the process-wide singleton (spec §9 "global mutable state"); it is
// initialized exactly once at boot via Init.
type PMM struct {
	bitmap     []uint64 // one bit per frame; 1 == used
	frameCount uint64
	physOffset defs.Va_t

	// word is a scan cursor: the lowest word index that was not full
	// the last time we looked. Allocation starts scanning there, which
	// is why allocation is fast in practice despite being O(words)
	// worst case (spec §4.1).
	word int
}

// frameOf rounds a physical address down to its containing frame
// number.
func frameOf(pa defs.Pa_t) uint64 {
	return uint64(pa) >> defs.PGSHIFT
}

// Init sizes the bitmap to cover the highest physical address in
// memMap, places it inside the largest usable region, marks every
// non-usable region and the bitmap's own backing frames as used, and
// leaves everything else free.
func Init(memMap []bootinfo.MemRegion, physOffset defs.Va_t) *PMM {
	var highest defs.Pa_t
	bestIdx, bestLen := -1, uint64(0)
	for i, r := range memMap {
		if r.End() > highest {
			highest = r.End()
		}
		if r.Kind == bootinfo.MemUsable && r.Length > bestLen {
			bestIdx, bestLen = i, r.Length
		}
	}
	if bestIdx < 0 {
		panic("mem: no usable region for PMM bitmap")
	}

	frameCount := frameOf(highest-1) + 1
	words := (frameCount + 63) / 64
	bitmapBytes := words * 8

	region := memMap[bestIdx]
	bitmapPA := defs.Pa_t(util_roundup(uint64(region.Base), 4096))
	bitmapVA := physOffset + defs.Va_t(bitmapPA)
	bitmap := unsafe.Slice((*uint64)(unsafe.Pointer(uintptr(bitmapVA))), words)

	p := &PMM{bitmap: bitmap, frameCount: frameCount, physOffset: physOffset}

	// Mark everything used by default, then free the usable regions.
	for i := range p.bitmap {
		p.bitmap[i] = ^uint64(0)
	}
	for _, r := range memMap {
		if r.Kind != bootinfo.MemUsable {
			continue
		}
		p.markRange(frameOf(r.Base), frameOf(r.End()-1)+1, false)
	}
	// Reserve the frames the bitmap itself occupies.
	bitmapFrames := (bitmapBytes + uint64(defs.PGSIZE) - 1) / uint64(defs.PGSIZE)
	p.markRange(frameOf(bitmapPA), frameOf(bitmapPA)+bitmapFrames, true)

	return p
}

func util_roundup(v, b uint64) uint64 {
	return (v + b - 1) &^ (b - 1)
}

func (p *PMM) markRange(lo, hi uint64, used bool) {
	for f := lo; f < hi && f < p.frameCount; f++ {
		word, bit := f/64, f%64
		if used {
			p.bitmap[word] |= 1 << bit
		} else {
			p.bitmap[word] &^= 1 << bit
		}
	}
}

// AllocateFrame returns a frame not currently held by any caller and
// marks it used, or ok=false if the bitmap is full (spec §4.1).
func (p *PMM) AllocateFrame() (frame defs.Pa_t, ok bool) {
	n := len(p.bitmap)
	for i := 0; i < n; i++ {
		idx := (p.word + i) % n
		w := p.bitmap[idx]
		if w == ^uint64(0) {
			continue
		}
		// Lowest clear bit in the first non-full word.
		bit := bits.TrailingZeros64(^w)
		p.bitmap[idx] |= 1 << bit
		p.word = idx
		return defs.Pa_t((uint64(idx)*64 + uint64(bit)) << defs.PGSHIFT), true
	}
	return 0, false
}

// DeallocateFrame marks frame free. The caller asserts the frame is
// not referenced from any live mapping (spec §4.1).
func (p *PMM) DeallocateFrame(frame defs.Pa_t) {
	f := frameOf(frame)
	word, bit := f/64, f%64
	if p.bitmap[word]&(1<<bit) == 0 {
		panic("mem: double free of frame")
	}
	p.bitmap[word] &^= 1 << bit
	if int(word) < p.word {
		p.word = int(word)
	}
}

// Dmap returns the kernel-virtual alias of a physical frame via the
// bootloader's phys-offset mapping.
func (p *PMM) Dmap(pa defs.Pa_t) *Pg_t {
	v := p.physOffset + defs.Va_t(pa&defs.PGMASK)
	return (*Pg_t)(unsafe.Pointer(uintptr(v)))
}

// Dmap8 is Dmap but returns a byte slice starting at pa's exact
// (possibly unaligned) offset within its frame.
func (p *PMM) Dmap8(pa defs.Pa_t) []byte {
	pg := p.Dmap(pa)
	off := pa & defs.PGOFFSET
	return pg[off:]
}

// FreeCount reports the number of frames currently unallocated, for
// diagnostics and tests. The tail bits past frameCount in the last word
// are pre-marked used at Init, so they never contribute to the count.
func (p *PMM) FreeCount() uint64 {
	var free uint64
	for _, w := range p.bitmap {
		free += uint64(64 - bits.OnesCount64(w))
	}
	return free
}
