package interrupt

import (
	"golang.org/x/arch/x86/x86asm"

	"corvid/internal/klog"
)

// instructionReader fetches up to n bytes starting at virtual address
// va, for disassembling the instruction that faulted. It is supplied
// by whoever owns address-space mapping (internal/vm) via
// SetInstructionReader; cmd/kernel installs one over the kernel
// address space's Translate.
var instructionReader func(va uintptr, n int) []byte

// SetInstructionReader installs the callback fault uses to read
// faulting-instruction bytes for disassembly. cmd/kernel calls this
// once during boot after the address-space mapper is initialized.
func SetInstructionReader(r func(va uintptr, n int) []byte) {
	instructionReader = r
}

// maxInstrLen is the longest possible x86-64 instruction encoding.
const maxInstrLen = 15

// disassembleFaultingInstruction decodes the instruction at RIP and
// renders it the way a panic screen shows "RIP: <bytes> (<mnemonic>)",
// per SPEC_FULL's DOMAIN STACK entry for x/arch/x86/x86asm.
func disassembleFaultingInstruction(rip uint64) string {
	if instructionReader == nil {
		return "<no instruction reader installed>"
	}
	raw := instructionReader(uintptr(rip), maxInstrLen)
	if len(raw) == 0 {
		return "<unreadable>"
	}
	inst, err := x86asm.Decode(raw, 64)
	if err != nil {
		return "<undecodable>"
	}
	return inst.String()
}

// PanicExceptionFrame prints a trapframe, its disassembled faulting
// instruction, and panics. Used for any exception vector that needs
// the instruction bytes in the report (page fault, general-protection
// fault, invalid opcode); plain CPU exceptions without that context
// use fault's shorter report.
func PanicExceptionFrame(tf *Trapframe, reason string) {
	printTrapframe(tf)
	klog.Printf("faulting instruction: %s\n", disassembleFaultingInstruction(tf.Frame.RIP))
	panic(reason)
}
