package interrupt

import "corvid/internal/defs"

const (
	vecDoubleFault       = 8
	vecGeneralProtection = 13
	vecPageFault         = 14
)

// InitExceptionReporting registers the handful of exception vectors
// that benefit from the disassembling panic report (double fault,
// general-protection fault, page fault) instead of the generic dump.
// Every other vector 0-19 already falls through to fault via the
// un-Registered path.
func InitExceptionReporting() {
	Register(vecDoubleFault, func(tf *Trapframe) { PanicExceptionFrame(tf, "double fault") })
	Register(vecGeneralProtection, func(tf *Trapframe) { PanicExceptionFrame(tf, "general protection fault") })
	Register(vecPageFault, func(tf *Trapframe) { PanicExceptionFrame(tf, "page fault") })
}

// RegisterTimer installs the LAPIC timer handler. eoi is called before
// onTick so the LAPIC accepts the next timer interrupt even when onTick
// switches to another thread and does not return promptly; onTick is
// expected to be the scheduler's yield_and_continue (spec §4.8
// "the timer IRQ signals end-of-interrupt ... and calls
// yield_and_continue").
func RegisterTimer(eoi func(), onTick func()) {
	Register(defs.VecTimer, func(tf *Trapframe) {
		eoi()
		onTick()
	})
}

// RegisterKeyboard installs the PS/2 keyboard handler. eoi acknowledges
// the LAPIC; onScancode receives the raw scancode byte read from port
// 0x60 (read by the caller supplying onScancode, since port I/O has no
// home in this package) and is expected to push it into the lossy
// scancode ring (spec §4.4.1).
func RegisterKeyboard(eoi func(), onScancode func()) {
	Register(defs.VecKeyboard, func(tf *Trapframe) {
		onScancode()
		eoi()
	})
}

// RegisterSpurious installs a no-op handler for the spurious vector:
// per the Intel SDM, spurious interrupts must not be EOI'd.
func RegisterSpurious() {
	Register(defs.VecSpurious, func(tf *Trapframe) {})
}
