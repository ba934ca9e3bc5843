// Package cpu declares the handful of x86_64 primitives the rest of
// the kernel needs that cannot be expressed in portable Go: interrupt
// masking, TLB invalidation, CR3/MSR access and halt. Each is declared
// here with no body and implemented in cpu_amd64.s, following
// gopher-os's kernel/cpu convention of a bodyless Go declaration backed
// by a Plan 9 assembly file rather than inline asm helpers (spec §9
// "naked assembly entries... not inline helpers").
package cpu

// EnableInterrupts executes STI.
func EnableInterrupts()

// DisableInterrupts executes CLI.
func DisableInterrupts()

// InterruptsEnabled reports whether RFLAGS.IF is currently set.
func InterruptsEnabled() bool

// Halt executes HLT.
func Halt()

// Invlpg invalidates the TLB entry for the given virtual address.
func Invlpg(va uintptr)

// ReadCR3 returns the current top-level page-table physical address.
func ReadCR3() uintptr

// WriteCR3 loads a new top-level page-table physical address,
// flushing all non-global TLB entries.
func WriteCR3(pml4 uintptr)

// Rdmsr reads a model-specific register.
func Rdmsr(msr uint32) uint64

// Wrmsr writes a model-specific register.
func Wrmsr(msr uint32, val uint64)

// Rdtsc returns the processor timestamp counter, used by kprof to
// timestamp profiling samples.
func Rdtsc() uint64

// Inb reads one byte from an x86 I/O port, the PS/2 keyboard
// controller's only interface (data port 0x60, status port 0x64) —
// the same role original_source/kernel/src/apic/mod.rs's Port<u8>
// plays for the legacy PIC's command/data ports.
func Inb(port uint16) uint8

// Outb writes one byte to an x86 I/O port.
func Outb(port uint16, val uint8)
