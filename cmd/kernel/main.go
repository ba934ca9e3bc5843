// Command kernel is corvid's entrypoint: the Kmain-style sequencing
// that turns a bootloader handoff into a running init process (spec
// §6). Grounded on gopher-os's kernel/kmain/kmain.go, including its
// "main is a thin trampoline, Kmain does the real work and never
// returns" split.
package main

import (
	"unsafe"

	"corvid/internal/apic"
	"corvid/internal/bootinfo"
	"corvid/internal/console"
	"corvid/internal/cpu"
	"corvid/internal/defs"
	"corvid/internal/devfs"
	"corvid/internal/gdt"
	"corvid/internal/heap"
	"corvid/internal/interrupt"
	"corvid/internal/keyboard"
	"corvid/internal/klog"
	"corvid/internal/kprof"
	"corvid/internal/mem"
	"corvid/internal/proc"
	"corvid/internal/ramdisk"
	"corvid/internal/sched"
	"corvid/internal/syscall"
	"corvid/internal/vfs"
	"corvid/internal/vm"
)

// Default MMIO physical addresses for the Local APIC and I/O APIC.
// original_source/kernel/src/apic/mod.rs discovers these from the
// ACPI MADT; that table-walk is out of spec.md's scope (spec §1.7
// "minimal interrupt/APIC plumbing"), so this entrypoint assumes the
// standard fixed addresses instead, the same simplification
// internal/apic's own package doc already records for the 8259 PIC.
const (
	lapicPhysBase  = 0xfee0_0000
	ioapicPhysBase = 0xfec0_0000

	// isaIRQKeyboard is the IOAPIC pin the PS/2 keyboard's legacy ISA
	// IRQ1 lands on. The timer needs no IOAPIC route: it runs on the
	// LAPIC's own built-in timer, which fires directly at its
	// configured vector (apic.Lapic.ConfigureTimer below).
	isaIRQKeyboard = 1

	timerInitialCount = 10_000_000
)

// initPath is where cmd/mkramdisk places the first user program; the
// ustar image wired in from bootinfo.RamdiskBase/RamdiskLen is
// expected to contain it (spec §6).
const initPath = "/init/init"

// Kmain sequences PMM -> VM -> heap -> GDT/IDT -> console ->
// scheduler -> APIC -> devfs/ramdisk and VFS mounts -> process table ->
// syscall MSRs -> execve(initPath), mirroring
// gopher-os's allocator -> vmm -> goruntime chain. It is not expected
// to return; main calls it exactly once.
//
//go:noinline
func Kmain(bi *bootinfo.BootInfo) {
	pmm := mem.Init(bi.MemoryMap, bi.PhysOffset)

	// The bootloader already switched to long mode with some page
	// table live in CR3; adopt its upper half as the template every
	// address space clones (spec §3 "shared kernel half").
	bootRoot := (*vm.Pmap_t)(unsafe.Pointer(pmm.Dmap(defs.Pa_t(cpu.ReadCR3()))))
	vm.InitKernel(bootRoot)

	kernelAS, ok := vm.New(pmm)
	if !ok {
		panic("kmain: failed to allocate kernel address space")
	}
	mapMMIO(kernelAS, defs.VLapicBase, lapicPhysBase)
	mapMMIO(kernelAS, defs.VIoapicBase, ioapicPhysBase)

	if _, ok := heap.Init(kernelAS, pmm, defs.VHeapBase, defs.KernelHeapSize); !ok {
		panic("kmain: failed to map kernel heap window")
	}

	gdt.Init()

	interrupt.Init()
	interrupt.InitExceptionReporting()
	interrupt.SetInstructionReader(func(va uintptr, n int) []byte {
		frame, _, ok := kernelAS.Translate(defs.Va_t(va &^ uintptr(defs.PGSIZE-1)))
		if !ok {
			return nil
		}
		raw := pmm.Dmap8(frame)[int(va&uintptr(defs.PGSIZE-1)):]
		if len(raw) > n {
			raw = raw[:n]
		}
		return raw
	})

	fbLen := bi.Framebuffer.Stride * bi.Framebuffer.Height
	fbMem := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(bi.Framebuffer.Base))), fbLen)
	term := console.New(bi.Framebuffer, fbMem)
	klog.Out = term
	klog.Println("corvid: booting")

	idle := sched.New(sched.IdleLoop, "idle")
	scheduler := sched.Init(idle, gdt.SetKernelStack, func(pml4 defs.Pa_t) {
		cpu.WriteCR3(uintptr(pml4))
	})

	lapic := apic.NewLapic(uintptr(defs.VLapicBase), defs.VecSpurious)
	ioapicDev := apic.NewIOApic(uintptr(defs.VIoapicBase), 0)
	ioapicDev.RouteIRQ(isaIRQKeyboard, defs.VecKeyboard, lapic.ID())
	lapic.ConfigureTimer(defs.VecTimer, timerInitialCount, apic.DivideBy16)

	interrupt.RegisterSpurious()
	interrupt.RegisterTimer(lapic.EOI, scheduler.YieldAndContinue)

	ring := &keyboard.Ring{}
	var devfsInst *devfs.Devfs
	interrupt.RegisterKeyboard(lapic.EOI, func() {
		sc := cpu.Inb(0x60)
		devfsInst.PushScancode(sc)
	})

	counters := kprof.NewCounters()
	devfsInst = devfs.New(term, scheduler, ring, counters.Encode)

	ramdiskImage := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(bi.PhysOffset)+uintptr(bi.RamdiskBase))), bi.RamdiskLen)
	rd := ramdisk.Parse(uint32(defs.D_INITRD), ramdiskImage)

	v := vfs.New()
	v.Mount(uint32(defs.D_DEVFS), devfsInst, "dev")
	v.Mount(uint32(defs.D_INITRD), rd, "init")

	table := proc.NewTable(pmm)

	dispatcher := &syscall.Dispatcher{
		Procs:    table,
		VFS:      v,
		Sched:    scheduler,
		Counters: counters,
		CurrentProcess: func() *proc.Process {
			t := scheduler.Current()
			if t == nil || !t.HasPid {
				return nil
			}
			p, ok := table.Get(t.Pid)
			if !ok {
				return nil
			}
			return p
		},
		ReadFile: func(name string) ([]byte, defs.Err_t) {
			ino, verr := v.Traverse(v.Root(), name)
			if verr != 0 {
				return nil, -defs.ENOENT
			}
			buf := make([]byte, ino.Size)
			n, verr := v.Read(ino, 0, buf)
			if verr != 0 {
				return nil, -defs.EINVAL
			}
			return buf[:n], 0
		},
		Clock: func() int64 { return int64(cpu.Rdtsc()) },
	}
	syscall.Install(dispatcher)
	syscall.Enable(syscall.Msrs{Star: gdt.StarValue(), Fmask: 0x200})

	initImage, errNo := dispatcher.ReadFile(initPath)
	if errNo != 0 {
		panic("kmain: " + initPath + " missing from ramdisk")
	}
	initProc, ok := table.NewProcess()
	if !ok {
		panic("kmain: failed to allocate init process")
	}

	entry, sp, err := initProc.Execve(pmm, initImage, []string{initPath}, nil)
	if err != nil {
		panic("kmain: execve(" + initPath + ") failed: " + err.Error())
	}

	initThread := syscall.NewUserThread("init")
	initThread.HasPid, initThread.Pid = true, initProc.Pid
	initThread.HasCR3, initThread.CR3 = true, initProc.AS.Root
	initThread.UserRIP = uint64(entry)
	initThread.UserRFLAGS = 0x202
	initThread.UserRSP = uint64(sp)
	initProc.Thread = initThread

	scheduler.Enqueue(initThread)
	cpu.EnableInterrupts()
	scheduler.YieldExecution()

	panic("kmain: Kmain returned")
}

// mapMMIO installs a single uncached, writable identity-style mapping
// from va to the physical MMIO window at pa, used for the LAPIC and
// IOAPIC register blocks before apic.NewLapic/NewIOApic touch them.
func mapMMIO(as *vm.AS, va defs.Va_t, pa defs.Pa_t) {
	if !as.Map(va, pa, vm.PTE_W|vm.PTE_PCD) {
		panic("kmain: failed to map MMIO window")
	}
}

// main is invoked by the bootloader stub (out of scope, spec §1's
// "external bootloader contract") once it has constructed a
// bootinfo.BootInfo and switched to long mode; it exists so this
// directory builds as a normal Go command in the meantime.
func main() {
	Kmain(&bootinfo.BootInfo{})
}
