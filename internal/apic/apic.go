// Package apic programs the Local APIC and I/O APIC far enough to
// satisfy spec §1.7's narrow scope: timer preemption and keyboard
// forwarding. It does not touch the legacy 8259 PIC or any other ISA
// IRQ source — those are out of scope for this core (see
// original_source/kernel/src/apic/mod.rs for the fuller sequence this
// was distilled from, including the PIC-disable dance this kernel
// skips because the bootloader already leaves the PIC masked).
package apic

import "corvid/internal/mmio"

// Local APIC register offsets (Intel SDM vol 3 ch 11).
const (
	lapicID      = 0x20
	lapicEOI     = 0xB0
	lapicSIV     = 0xF0 // spurious interrupt vector register
	lapicTimerLV = 0x320
	lapicTimerIC = 0x380 // initial count
	lapicTimerCC = 0x390 // current count
	lapicTimerDC = 0x3E0 // divide configuration

	svrEnable = 1 << 8
)

// TimerDivide selects the LAPIC timer's divide-by configuration.
type TimerDivide uint32

const (
	DivideBy1   TimerDivide = 0xB
	DivideBy16  TimerDivide = 0x3
	DivideBy128 TimerDivide = 0xA
)

const timerModePeriodic = 1 << 17

// Lapic wraps the Local APIC's MMIO register block.
type Lapic struct {
	dev mmio.Dev32
}

// NewLapic constructs a Lapic over the kernel-virtual LAPIC alias
// (defs.VLapicBase) and programs the spurious interrupt vector,
// matching original_source's Lapic::new(mapper, 0xff) step.
func NewLapic(base uintptr, spuriousVector uint8) *Lapic {
	l := &Lapic{dev: mmio.Dev32{Base: base}}
	l.dev.Write32(lapicSIV, uint32(spuriousVector)|svrEnable)
	return l
}

// ID returns this CPU's Local APIC id, used by the IOAPIC redirection
// entry to target interrupts at this core.
func (l *Lapic) ID() uint8 {
	return uint8(l.dev.Read32(lapicID) >> 24)
}

// EOI signals end-of-interrupt; must be called at the end of every
// LAPIC-routed interrupt handler (spec §4.8 "the timer IRQ signals
// end-of-interrupt to the LAPIC").
func (l *Lapic) EOI() {
	l.dev.Write32(lapicEOI, 0)
}

// ConfigureTimer arms the LAPIC timer in periodic mode to fire
// vector on every expiry of initialCount ticks at the given divide
// configuration, the sole preemption source named in spec §4.8.
func (l *Lapic) ConfigureTimer(vector uint8, initialCount uint32, div TimerDivide) {
	l.dev.Write32(lapicTimerDC, uint32(div))
	l.dev.Write32(lapicTimerLV, uint32(vector)|timerModePeriodic)
	l.dev.Write32(lapicTimerIC, initialCount)
}

// IOApic wraps the I/O APIC's indirect register window: register
// index is written to IOREGSEL and the value is read/written through
// IOWIN, per the I/O APIC's two-register MMIO protocol.
type IOApic struct {
	dev     mmio.Dev32
	gsiBase uint32
}

const (
	ioRegSel = 0x00
	ioWin    = 0x10
	ioRedTbl = 0x10 // low word of redirection table entry n is at ioRedTbl + 2n
)

// NewIOApic wraps the I/O APIC MMIO window at base, whose redirection
// table entries begin routing global system interrupts at gsiBase.
func NewIOApic(base uintptr, gsiBase uint32) *IOApic {
	return &IOApic{dev: mmio.Dev32{Base: base}, gsiBase: gsiBase}
}

func (a *IOApic) readReg(reg uint32) uint32 {
	a.dev.Write32(ioRegSel, reg)
	return a.dev.Read32(ioWin)
}

func (a *IOApic) writeReg(reg uint32, v uint32) {
	a.dev.Write32(ioRegSel, reg)
	a.dev.Write32(ioWin, v)
}

// RouteIRQ programs the redirection table entry for the given global
// system interrupt so it delivers vector to the Local APIC identified
// by destAPICID. Used once at boot to forward the PS/2 keyboard's IRQ
// into vector 0x41 (spec §6 interrupt vectors).
func (a *IOApic) RouteIRQ(gsi uint32, vector uint8, destAPICID uint8) {
	idx := gsi - a.gsiBase
	low := ioRedTbl + 2*idx
	high := low + 1
	a.writeReg(high, uint32(destAPICID)<<24)
	a.writeReg(low, uint32(vector))
}

// Mask disables delivery for the redirection table entry at gsi.
func (a *IOApic) Mask(gsi uint32) {
	idx := gsi - a.gsiBase
	low := ioRedTbl + 2*idx
	a.writeReg(low, a.readReg(low)|1<<16)
}
