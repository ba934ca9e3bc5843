// Package interrupt owns the IDT, the vector table from spec §6, and
// dispatch into the scheduler (timer) and devfs (keyboard). Exception
// vectors fall through to a panic path that disassembles the faulting
// instruction with golang.org/x/arch/x86/x86asm and dumps registers,
// matching spec §7 tier 1 (fatal/unrecoverable).
//
// Grounded on gopher-os's irq.Regs/irq.Frame split (kernel/irq/interrupt_amd64.go)
// for the trapframe field layout, generalized to the vector+handler
// table spec §4.8/§6 need.
package interrupt

import "corvid/internal/klog"

// Regs is the general-purpose register snapshot pushed by the common
// assembly stub before it calls dispatch, in stack order: R15, pushed
// last, sits at the lowest address (so the struct and the assembly
// pushes must stay in lockstep).
type Regs struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RBP, RDI, RSI, RDX, RCX, RBX, RAX    uint64
}

// Frame is the exception frame the CPU itself pushes on an interrupt
// or exception (Intel SDM vol 3 ch 6).
type Frame struct {
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// Trapframe is everything known about an interrupt at dispatch time:
// which vector fired, the CPU-pushed error code (0 for vectors that
// don't have one), the saved general-purpose registers, and the
// CPU-pushed exception frame.
type Trapframe struct {
	Regs      Regs
	Vector    uint64
	ErrorCode uint64
	Frame     Frame
}

// Handler processes one interrupt. Handlers for the timer and
// keyboard vectors are expected to be fast and non-blocking; they run
// with interrupts disabled until they return.
type Handler func(tf *Trapframe)

var table [256]Handler

// Register installs h as the handler for vector. Must be called
// before Init loads the IDT, or at any point thereafter — table reads
// happen on every dispatch so a late registration takes effect
// immediately.
func Register(vector uint8, h Handler) {
	table[vector] = h
}

// dispatch is called from the common assembly stub with a pointer to
// the trapframe it built on the kernel stack. It is the single Go
// entry point for every vector.
//
//go:nosplit
func dispatch(tf *Trapframe) {
	h := table[tf.Vector]
	if h == nil {
		fault(tf)
		return
	}
	h(tf)
}

// fault is the fallback for any vector with no registered handler:
// every exception vector (0-31) that isn't explicitly handled lands
// here, matching spec §7 tier 1 ("CPU exceptions ... handled by a
// panic path that freezes all other execution").
func fault(tf *Trapframe) {
	printTrapframe(tf)
	panic("unhandled interrupt")
}

func printTrapframe(tf *Trapframe) {
	klog.Printf("interrupt: vector=%#x error=%#x\n", tf.Vector, tf.ErrorCode)
	klog.Printf("RIP=%#016x CS=%#x RFLAGS=%#x RSP=%#016x SS=%#x\n",
		tf.Frame.RIP, tf.Frame.CS, tf.Frame.RFlags, tf.Frame.RSP, tf.Frame.SS)
	klog.Printf("RAX=%#016x RBX=%#016x RCX=%#016x RDX=%#016x\n",
		tf.Regs.RAX, tf.Regs.RBX, tf.Regs.RCX, tf.Regs.RDX)
	klog.Printf("RSI=%#016x RDI=%#016x RBP=%#016x\n", tf.Regs.RSI, tf.Regs.RDI, tf.Regs.RBP)
	klog.Printf("R8=%#016x R9=%#016x R10=%#016x R11=%#016x\n",
		tf.Regs.R8, tf.Regs.R9, tf.Regs.R10, tf.Regs.R11)
	klog.Printf("R12=%#016x R13=%#016x R14=%#016x R15=%#016x\n",
		tf.Regs.R12, tf.Regs.R13, tf.Regs.R14, tf.Regs.R15)
}
