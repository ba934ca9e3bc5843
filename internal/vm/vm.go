// Package vm is the address-space mapper: a 4-level x86_64 page-table
// tree wrapper exposing Map, Unmap and CloneForFork (spec §4.2), built
// on the PMM's phys-offset direct map so the mapper can edit page
// tables without a recursive self-mapping.
//
// Grounded on the teacher's vm.Vm_t/Pmap_t naming and on
// original_source/kernel/src/user.rs's allocate_user_page for the
// map-then-copy-bytes sequencing used by execve, but trimmed to the
// spec's deep-copy-on-fork model: no COW, no physical-page refcounting
// (spec §9 calls COW an explicit future extension, not part of this
// core).
package vm

import (
	"sync"
	"unsafe"

	"corvid/internal/cpu"
	"corvid/internal/defs"
	"corvid/internal/mem"
)

// Page-table entry flag bits (spec §3 "Page-table tree").
const (
	PTE_P    defs.Pa_t = 1 << 0
	PTE_W    defs.Pa_t = 1 << 1
	PTE_U    defs.Pa_t = 1 << 2
	PTE_PCD  defs.Pa_t = 1 << 4
	PTE_PS   defs.Pa_t = 1 << 7
	PTE_NX   defs.Pa_t = 1 << 63
	PTE_ADDR defs.Pa_t = 0x000f_ffff_ffff_f000
)

// Pmap_t is one level of the page-table radix: 512 eight-byte entries.
type Pmap_t [512]defs.Pa_t

func pageIndices(va defs.Va_t) (l4, l3, l2, l1 int) {
	v := uint64(va)
	l4 = int((v >> 39) & 0x1ff)
	l3 = int((v >> 30) & 0x1ff)
	l2 = int((v >> 21) & 0x1ff)
	l1 = int((v >> 12) & 0x1ff)
	return
}

// AS is a process (or the kernel's) address space: a PML4 frame plus
// the list of frames it owns, so fork/exec/exit can free them without
// double-freeing a frame some other address space still maps (spec §3
// invariant).
type AS struct {
	mu sync.Mutex

	pmm  *mem.PMM
	Root defs.Pa_t // PML4 physical frame

	// Owned lists every frame (page tables and leaves) this address
	// space allocated, so Destroy can free them all.
	Owned []defs.Pa_t
}

// pmapAt returns the page-table level living at physical frame f via
// the PMM's direct map.
func pmapAt(pmm *mem.PMM, f defs.Pa_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pmm.Dmap(f)))
}

// kernelPML4 is the single shared template for the upper 256 entries
// every address space clones by reference (spec §3 invariant: "the
// upper 256 top-level entries are shared (kernel) across every address
// space"). It is populated once by InitKernel and never copied deeply.
var (
	kernelMu   sync.Mutex
	kernelPML4 *Pmap_t
)

// InitKernel records the kernel's half of the top-level table. pml4
// must already have its lower 256 entries zeroed; only entries
// [256:512] are read from it by New/CloneForFork.
func InitKernel(pml4 *Pmap_t) {
	kernelMu.Lock()
	defer kernelMu.Unlock()
	kernelPML4 = pml4
}

func installKernelHalf(root *Pmap_t) {
	kernelMu.Lock()
	defer kernelMu.Unlock()
	if kernelPML4 == nil {
		return
	}
	copy(root[256:512], kernelPML4[256:512])
}

// New allocates a fresh address space whose upper half is the shared
// kernel mapping and whose lower half is empty.
func New(pmm *mem.PMM) (*AS, bool) {
	frame, ok := pmm.AllocateFrame()
	if !ok {
		return nil, false
	}
	root := pmapAt(pmm, frame)
	*root = Pmap_t{}
	installKernelHalf(root)
	return &AS{pmm: pmm, Root: frame, Owned: []defs.Pa_t{frame}}, true
}

// walk returns the leaf PTE slot for va, allocating intermediate
// tables from the PMM when alloc is true. It never allocates the leaf
// itself; the caller installs that entry. The caller must hold as.mu.
func (as *AS) walk(va defs.Va_t, alloc bool) (*defs.Pa_t, bool) {
	l4, l3, l2, l1 := pageIndices(va)
	root := pmapAt(as.pmm, as.Root)

	next := func(table *Pmap_t, idx int) (*Pmap_t, bool) {
		e := table[idx]
		if e&PTE_P != 0 {
			return pmapAt(as.pmm, e&PTE_ADDR), true
		}
		if !alloc {
			return nil, false
		}
		frame, ok := as.pmm.AllocateFrame()
		if !ok {
			return nil, false
		}
		as.Owned = append(as.Owned, frame)
		child := pmapAt(as.pmm, frame)
		*child = Pmap_t{}
		table[idx] = (frame & PTE_ADDR) | PTE_P | PTE_W | PTE_U
		return child, true
	}

	t3, ok := next(root, l4)
	if !ok {
		return nil, false
	}
	t2, ok := next(t3, l3)
	if !ok {
		return nil, false
	}
	t1, ok := next(t2, l2)
	if !ok {
		return nil, false
	}
	return &t1[l1], true
}

// Map installs a leaf mapping for page -> frame with the given flags,
// allocating intermediate tables as needed, and flushes the TLB entry
// for page (spec §4.2).
func (as *AS) Map(page defs.Va_t, frame defs.Pa_t, flags defs.Pa_t) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	pte, ok := as.walk(page, true)
	if !ok {
		return false
	}
	*pte = (frame & PTE_ADDR) | flags | PTE_P
	cpu.Invlpg(uintptr(page))
	return true
}

// Unmap removes the mapping for page, returning the frame that was
// mapped there (spec §4.2). ok is false if nothing was mapped.
func (as *AS) Unmap(page defs.Va_t) (defs.Pa_t, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	pte, ok := as.walk(page, false)
	if !ok || *pte&PTE_P == 0 {
		return 0, false
	}
	frame := *pte & PTE_ADDR
	*pte = 0
	cpu.Invlpg(uintptr(page))
	return frame, true
}

// Translate reports whether page is mapped, and if so its backing
// frame and flags, without allocating anything.
func (as *AS) Translate(page defs.Va_t) (frame defs.Pa_t, flags defs.Pa_t, ok bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	pte, found := as.walk(page, false)
	if !found || *pte&PTE_P == 0 {
		return 0, 0, false
	}
	return *pte & PTE_ADDR, *pte &^ PTE_ADDR, true
}

// RootTable exposes the address space's top-level page table through
// the phys-offset alias, for callers (execve's clear-on-exec step)
// that need to zero the lower half directly rather than through
// Map/Unmap one page at a time.
func (as *AS) RootTable() *Pmap_t {
	return pmapAt(as.pmm, as.Root)
}

// Destroy frees every frame this address space owns. Callers must
// ensure no thread is still running with this address space loaded in
// CR3.
func (as *AS) Destroy() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for _, f := range as.Owned {
		as.pmm.DeallocateFrame(f)
	}
	as.Owned = nil
}
