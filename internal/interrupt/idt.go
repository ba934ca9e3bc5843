package interrupt

import (
	"unsafe"

	"corvid/internal/defs"
	"corvid/internal/gdt"
)

// gate is one x86_64 IDT entry: a 16-byte interrupt gate descriptor
// pointing at a stub in idt_amd64.s, running on the current stack
// (only the double-fault gate uses an IST stack, IST1, which gdt.Init
// backs with its dedicated stack — stack switching on interrupt-from-userspace
// happens via the TSS.RSP0 field the scheduler's switch_finish_hook
// programs, per spec §4.8/§9).
type gate struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

const (
	gateTypeInterrupt = 0xE
	gatePresent       = 1 << 7
	kernelCodeSegment = gdt.SelKernelCS
)

var idt [256]gate

type idtr struct {
	limit uint16
	base  uint64
}

func setGate(vector uint8, handler uintptr) {
	idt[vector] = gate{
		offsetLow:  uint16(handler),
		selector:   kernelCodeSegment,
		ist:        0,
		typeAttr:   gateTypeInterrupt | gatePresent,
		offsetMid:  uint16(handler >> 16),
		offsetHigh: uint32(handler >> 32),
	}
}

// stubAddr and the stub* declarations below are bodyless Go funcs
// backed by idt_amd64.s, one per vector this core actually routes
// (exceptions 0-31 plus the timer, keyboard and spurious vectors from
// spec §6). Each stub pushes its own vector number (and a zero
// placeholder error code when the CPU doesn't push one) before
// jumping to the shared trampoline that builds a Trapframe and calls
// dispatch.
func stub0()
func stub1()
func stub2()
func stub3()
func stub4()
func stub5()
func stub6()
func stub7()
func stub8()
func stub9()
func stub10()
func stub11()
func stub12()
func stub13()
func stub14()
func stub15()
func stub16()
func stub17()
func stub18()
func stub19()
func stubTimer()
func stubKeyboard()
func stubSpurious()

// Init builds the IDT covering exceptions 0-19, the timer, keyboard
// and spurious vectors, and loads it with LIDT. Vectors with no stub
// here are left not-present; an interrupt on one of them raises a
// segment-not-present fault (#NP), which vector 11 does have a stub for.
func Init() {
	type entry struct {
		vector uint8
		stub   func()
	}
	entries := []entry{
		{0, stub0}, {1, stub1}, {2, stub2}, {3, stub3}, {4, stub4},
		{5, stub5}, {6, stub6}, {7, stub7}, {8, stub8}, {9, stub9},
		{10, stub10}, {11, stub11}, {12, stub12}, {13, stub13}, {14, stub14},
		{15, stub15}, {16, stub16}, {17, stub17}, {18, stub18}, {19, stub19},
		{defs.VecTimer, stubTimer},
		{defs.VecKeyboard, stubKeyboard},
		{defs.VecSpurious, stubSpurious},
	}
	for _, e := range entries {
		fn := e.stub
		addr := **(**uintptr)(unsafe.Pointer(&fn))
		setGate(e.vector, addr)
	}
	// Gate IST indices are 1-based: IST1 selects TSS.IST[0], the slot
	// gdt.Init points at its double-fault stack.
	idt[vecDoubleFault].ist = 1
	loadIDT()
}

func loadIDT() {
	r := idtr{
		limit: uint16(unsafe.Sizeof(idt)) - 1,
		base:  uint64(uintptr(unsafe.Pointer(&idt[0]))),
	}
	lidt(uintptr(unsafe.Pointer(&r)))
}

// lidt executes LIDT with the given idtr pointer; implemented in
// idt_amd64.s alongside the vector stubs.
func lidt(idtr uintptr)
