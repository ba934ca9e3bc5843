// Package bootinfo models the bootloader's contract with the kernel
// (spec §6 "Bootloader contract"). The bootloader itself is explicitly
// out of scope (spec §1); this package is the narrow struct boundary
// the kernel core receives values across, grounded on gopher-os's
// kernel/hal/multiboot package playing the same role for a multiboot
// bootloader.
package bootinfo

import "corvid/internal/defs"

// MemRegionKind classifies one entry of the bootloader's physical
// memory map.
type MemRegionKind int

const (
	MemUsable MemRegionKind = iota
	MemReserved
	MemACPIReclaimable
	MemACPINVS
	MemBadMemory
	MemBootloaderReclaimable
	MemKernelAndModules
)

// MemRegion is one entry of the physical memory map.
type MemRegion struct {
	Base   defs.Pa_t
	Length uint64
	Kind   MemRegionKind
}

// End returns the first address past the region.
func (r MemRegion) End() defs.Pa_t {
	return r.Base + defs.Pa_t(r.Length)
}

// FramebufferFormat describes the pixel layout of the bootloader's
// framebuffer.
type FramebufferFormat int

const (
	PixelFormatRGB FramebufferFormat = iota
	PixelFormatBGR
)

// Framebuffer is the linear framebuffer the bootloader hands to the
// kernel (spec §1 "framebuffer text rendering" is out of scope; this
// struct is the narrow contract internal/console renders into).
type Framebuffer struct {
	Base   defs.Va_t
	Width  int
	Height int
	Stride int // bytes per scanline
	BPP    int // bits per pixel
	Format FramebufferFormat
}

// BootInfo collects everything the bootloader hands the kernel at
// entry: the framebuffer, the physical memory map, the phys-offset
// direct mapping base, the RSDP, and the ramdisk image location.
type BootInfo struct {
	Framebuffer  Framebuffer
	MemoryMap    []MemRegion
	PhysOffset   defs.Va_t
	RSDP         defs.Pa_t
	RamdiskBase  defs.Pa_t
	RamdiskLen   uint64
	KernelStart  defs.Pa_t
	KernelEnd    defs.Pa_t
}
