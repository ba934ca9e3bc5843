// Package gdt builds the flat GDT and per-CPU TSS this core needs to
// enter and leave user mode: one kernel code/data pair, one user
// code/data pair positioned for SYSCALL/SYSRET's fixed selector
// arithmetic, and a TSS supplying RSP0 for privilege-level changes
// (spec §4.8/§4.9, §9 "one kernel stack per thread, loaded into
// TSS.RSP0 on every dispatch").
//
// Grounded on original_source/kernel/src/cpu.rs's PerCpu::init_gdt:
// the same five-descriptor append order (kernel code, kernel data,
// TSS, user data, user code) and the same STAR selector pairing,
// expressed by hand since no Go library builds x86 segment
// descriptors — this is raw ISA table layout, not a concern any
// ecosystem package models. Follows internal/interrupt/idt.go's
// bodyless-Go-func-backed-by-assembly convention for LGDT/LTR/segment
// register reloads.
package gdt

import "unsafe"

// Selector values. Kernel code must sit at 0x08 to match
// internal/interrupt/idt.go's kernelCodeSegment constant: IDT gates
// and the GDT are built independently but must agree on this value.
const (
	selNull     = 0x00
	SelKernelCS = 0x08
	SelKernelDS = 0x10
	selTSS      = 0x18
	// User descriptors carry RPL 3. user data sits directly below user
	// code (dataBase = codeBase-8) so that SYSRET's fixed "CS =
	// base+16, SS = base+8" arithmetic lands on exactly these two
	// selectors (spec'd by the SYSCALL/SYSRET instruction, not by us).
	selUserDSBase = 0x28
	SelUserDS     = selUserDSBase | 3
	SelUserCS     = selUserDSBase + 8 | 3
)

// descriptor is one flat 8-byte segment descriptor (Intel SDM vol 3
// 3.4.5). This core runs entirely in long mode, so base and limit are
// ignored by the CPU for code/data segments; only the access and
// flag bytes matter.
type descriptor uint64

func flatDescriptor(access, flags uint8) descriptor {
	return descriptor(uint64(access)<<40 | uint64(flags)<<52 | 0xFFFF | 0xF<<48)
}

const (
	accPresent  = 1 << 7
	accUser     = 1 << 4
	accExec     = 1 << 3
	accRW       = 1 << 1
	accDPL3     = 3 << 5
	flagLong    = 1 << 1 // descriptor's "L" bit, 64-bit code segment
	flagGranule = 1 << 3 // limit scaled by 4K
)

// TSS is the 64-bit task state segment (Intel SDM vol 3 7.7): this
// core uses it only for RSP0 (the stack loaded on a ring3->ring0
// transition) and one IST slot for double faults (spec §9 "double
// fault runs on its own stack, never the interrupted thread's").
type TSS struct {
	reserved0 uint32
	RSP       [3]uint64
	reserved1 uint64
	IST       [7]uint64
	reserved2 uint64
	reserved3 uint16
	ioMapBase uint16
}

const doubleFaultIST = 0

var (
	tss TSS
	gdt [7]uint64 // null, kcode, kdata, tss-low, tss-high, udata, ucode
)

// dfStack backs the one IST entry this core installs, so a double
// fault taken with a corrupt or absent kernel stack still lands
// somewhere valid.
var dfStack [4096 * 4]byte

type gdtr struct {
	limit uint16
	base  uint64
}

// Init builds the GDT and TSS, loads them with LGDT/LTR, and reloads
// every segment register to the new selectors. Must run once, before
// interrupt.Init and before syscall.Enable (both assume SelKernelCS
// and the TSS are already live).
func Init() {
	tss.IST[doubleFaultIST] = uint64(uintptr(unsafe.Pointer(&dfStack[len(dfStack)-1])))

	gdt[0] = uint64(selNull)
	gdt[1] = uint64(flatDescriptor(accPresent|accExec|accRW, flagLong)) // kernel code, DPL0
	gdt[2] = uint64(flatDescriptor(accPresent|accRW, 0))                         // kernel data, DPL0
	tssLow, tssHigh := tssDescriptor(&tss)
	gdt[3] = tssLow
	gdt[4] = tssHigh
	gdt[5] = uint64(flatDescriptor(accPresent|accUser|accDPL3|accRW, 0))         // user data, DPL3
	gdt[6] = uint64(flatDescriptor(accPresent|accUser|accDPL3|accExec|accRW, flagLong)) // user code, DPL3

	r := gdtr{
		limit: uint16(unsafe.Sizeof(gdt)) - 1,
		base:  uint64(uintptr(unsafe.Pointer(&gdt[0]))),
	}
	lgdt(uintptr(unsafe.Pointer(&r)))
	reloadSegments(SelKernelCS, SelKernelDS)
	ltr(selTSS)
}

// tssDescriptor builds the 16-byte system-segment descriptor a 64-bit
// TSS needs (Intel SDM vol 3 7.2.3): an 8-byte low half shaped like a
// normal descriptor plus an 8-byte high half carrying the top 32 bits
// of the base address.
func tssDescriptor(t *TSS) (low, high uint64) {
	base := uint64(uintptr(unsafe.Pointer(t)))
	limit := uint64(unsafe.Sizeof(*t)) - 1
	const typeAvailable64TSS = 0x9
	low = limit&0xFFFF |
		(base&0xFFFFFF)<<16 |
		uint64(accPresent|typeAvailable64TSS)<<40 |
		(limit>>16&0xF)<<48 |
		(base>>24&0xFF)<<56
	high = base >> 32
	return low, high
}

// StarValue packs the kernel and user segment bases SYSCALL/SYSRET
// swap CS/SS from, in the layout the STAR MSR expects (AMD64 APM vol
// 2 6.1.1): bits 47:32 are the syscall-entry base (CS = that value,
// SS = value+8), bits 63:48 are the sysret base (SS = value+8, CS =
// value+16). Matches Init's layout, not a general MSR
// fact — a different selector ordering needs a different StarValue.
func StarValue() uint64 {
	sysretBase := uint64(selUserDSBase - 8)
	syscallBase := uint64(SelKernelCS)
	return sysretBase<<48 | syscallBase<<32
}

// SetKernelStack installs rsp0 as this CPU's privilege-0 stack,
// loaded by the CPU on every ring3->ring0 transition (interrupt or
// SYSCALL) from then on. internal/sched's switch_finish_hook calls
// this on every context switch so the incoming thread's own kernel
// stack is what a future trap or syscall lands on (spec §4.8).
func SetKernelStack(rsp0 uintptr) {
	tss.RSP[0] = uint64(rsp0)
}

// lgdt, reloadSegments and ltr are implemented in gdt_amd64.s:
// assembly is unavoidable here since Go has no way to load a segment
// descriptor table or reload CS short of a far call/jump.
func lgdt(gdtr uintptr)
func reloadSegments(codeSel, dataSel uint16)
func ltr(sel uint16)
