// Package syscall is the system-call dispatcher (spec §4.9): the
// Linux x86-64-numbered table of ten handlers, pointer validation
// against the user/kernel split, and the negative-errno return
// convention. The fast-syscall entry/exit trampoline itself is
// entry_amd64.s; Go only supplies the two callbacks it invokes
// (prepareSyscallEntry and dispatch) plus the raw SYSRET primitive
// (enterUser) fork and execve use to start a thread in user mode for
// the first time.
//
// Grounded on original_source/kernel/src/user/syscalls.rs's
// handle_syscall/handle_syscall_inner split (switch onto the target
// thread's kernel stack, then dispatch) and its get_kernel_stack/
// check_addr/check_buffer helpers; the register-normalization
// convention (SYSCALL clobbers rcx/r11, so the fourth argument travels
// in r10 and the trampoline moves it into the dispatcher's argument
// register for it, r8, since the syscall number takes the first slot)
// mirrors that same file's handle_syscall assembly. The entry
// trampoline's asm-to-Go calling convention follows
// internal/interrupt/idt_amd64.s's commonStub (CALL ·dispatch(SB)
// passing arguments in fixed registers, mirrored in Go by a plain
// parameter list).
package syscall

import (
	"corvid/internal/cpu"
	"corvid/internal/defs"
	"corvid/internal/kprof"
	"corvid/internal/mem"
	"corvid/internal/proc"
	"corvid/internal/sched"
	"corvid/internal/vfs"
	"corvid/internal/vm"
)

// Syscall numbers this dispatcher understands, Linux x86-64 numbering
// (spec §4.9's table).
const (
	SysRead      = 0
	SysWrite     = 1
	SysOpen      = 2
	SysClose     = 3
	SysBrk       = 12
	SysIoctl     = 16
	SysFork      = 57
	SysExecve    = 59
	SysExit      = 60
	SysArchPrctl = 158
	SysExitGroup = 231
)

// arch_prctl codes this core understands: ARCH_SET_FS only, the one
// every libc startup path calls to install TLS (spec §4.9 row 158).
const archSetFS = 0x1002

// Model-specific registers the entry trampoline's SYSCALL/SYSRET pair
// depends on (spec §9's "fast-syscall MSRs, not a software interrupt
// gate").
const (
	msrEFER  = 0xC000_0080
	msrSTAR  = 0xC000_0081
	msrLSTAR = 0xC000_0082
	msrFMASK = 0xC000_0084

	eferSCE = 1 << 0
)

// Msrs is the MSR values cmd/kernel computes from its own GDT layout
// and passes to Enable: STAR packs the kernel and user code/data
// selectors SYSCALL/SYSRET swap in, FMASK is the rflags bits SYSCALL
// clears (interrupts, in particular) on entry.
type Msrs struct {
	Star  uint64
	Fmask uint64
}

// Enable programs the fast-syscall MSRs: LSTAR to this package's
// assembly entry point, STAR/FMASK from m, and sets EFER.SCE so the
// SYSCALL instruction is not #UD. Must run after Install.
func Enable(m Msrs) {
	cpu.Wrmsr(msrSTAR, m.Star)
	cpu.Wrmsr(msrLSTAR, uint64(entryPointer()))
	cpu.Wrmsr(msrFMASK, m.Fmask)
	efer := cpu.Rdmsr(msrEFER)
	cpu.Wrmsr(msrEFER, efer|eferSCE)
}

// entryPointer is implemented in entry_amd64.s: it returns the address
// of syscallEntry, the symbol LSTAR must point at. Plan 9 assembly has
// no portable way to take a TEXT symbol's address from Go directly, so
// a one-instruction LEA wrapper stands in for "&syscallEntry".
func entryPointer() uintptr

// Dispatcher owns every piece of kernel state a syscall handler needs
// to reach: the process table, the VFS, the scheduler (fork's thread
// creation, execve's re-enqueue-and-yield, exit's park-forever), and
// the profiling counters the prof pseudo-file (spec §4.4.1) reads
// from.
type Dispatcher struct {
	Procs    *proc.Table
	VFS      *vfs.VFS
	Sched    *sched.Scheduler
	Counters *kprof.Counters

	// CurrentProcess returns the process owning the thread presently
	// running. Installed by cmd/kernel once a process table exists;
	// nil is treated as "no process", every syscall then fails ENOSYS.
	CurrentProcess func() *proc.Process

	// ReadFile resolves name against the mounted filesystems and
	// returns its full contents, for execve loading a program image by
	// path (spec §4.9 row 59). Installed by cmd/kernel as a thin
	// wrapper over VFS.Traverse + Read.
	ReadFile func(name string) ([]byte, defs.Err_t)

	// Clock returns a monotonic timestamp, used only to time syscalls
	// for kprof. cmd/kernel installs the raw cpu.Rdtsc count, so the
	// recorded durations are TSC ticks, not scaled to nanoseconds; left
	// nil disables syscall timing without disabling
	// syscalls themselves.
	Clock func() int64
}

var active *Dispatcher

// Install registers d as the dispatcher entry_amd64.s's trampoline
// calls into. Must happen before Enable programs the fast-syscall
// MSRs.
func Install(d *Dispatcher) {
	active = d
}

func checkAddr(a uint64) bool {
	return a&(1<<63) == 0
}

func checkBuffer(base, length uint64) bool {
	if length == 0 {
		return checkAddr(base)
	}
	return checkAddr(base) && checkAddr(base+length-1)
}

// errRet converts an already-negated Err_t (the convention every
// other package in this kernel uses: 0 success, negative -errno) into
// the uint64 bit pattern SYSRET carries back in rax. Callers pass the
// negated value explicitly (errRet(-defs.EBADF)), exactly as fd.go and
// proc.go do at their own return statements — this is not a second
// negation.
func errRet(e defs.Err_t) uint64 {
	return uint64(int64(e))
}

var syscallNames = map[uint64]string{
	SysRead: "read", SysWrite: "write", SysOpen: "open", SysClose: "close",
	SysBrk: "brk", SysIoctl: "ioctl", SysFork: "fork", SysExecve: "execve",
	SysExit: "exit", SysExitGroup: "exit_group", SysArchPrctl: "arch_prctl",
}

func name(num uint64) string {
	if n, ok := syscallNames[num]; ok {
		return n
	}
	return "unknown"
}

// prepareSyscallEntry is called from entry_amd64.s before it switches
// off the user stack: it records the interrupted user context on the
// current thread (so fork can snapshot it and execve can overwrite it)
// and returns the kernel stack this syscall should run on, mirroring
// syscalls.rs's get_kernel_stack.
//
//go:nosplit
func prepareSyscallEntry(userRIP, userRFLAGS, userRSP uint64) uintptr {
	t := sched.CurrentThread()
	if t == nil {
		return 0
	}
	t.UserRIP, t.UserRFLAGS, t.UserRSP = userRIP, userRFLAGS, userRSP
	return t.KstackTop()
}

// dispatch is called from entry_amd64.s once it is running on the
// current thread's kernel stack, with the syscall number and the four
// argument registers already normalized (r10 moved to r8, a3's slot
// after num, per spec §4.9 step 5). Its return value is placed in rax and carried back to
// user space by SYSRET.
//
//go:nosplit
func dispatch(num, a0, a1, a2, a3 uint64) uint64 {
	d := active
	if d == nil {
		return errRet(-defs.ENOSYS)
	}
	var t0 int64
	if d.Clock != nil {
		t0 = d.Clock()
	}
	ret := d.handle(num, a0, a1, a2, a3)
	if d.Counters != nil && d.Clock != nil {
		d.Counters.RecordSyscall(name(num), d.Clock()-t0)
	}
	return ret
}

func (d *Dispatcher) handle(num, a0, a1, a2, a3 uint64) uint64 {
	p := d.process()
	if p == nil {
		return errRet(-defs.ENOSYS)
	}
	switch num {
	case SysRead:
		return d.sysRead(p, int(a0), a1, a2)
	case SysWrite:
		return d.sysWrite(p, int(a0), a1, a2)
	case SysOpen:
		return d.sysOpen(p, a0, a1)
	case SysClose:
		return d.sysClose(p, int(a0))
	case SysBrk:
		return uint64(p.Brk(d.Procs.PMM(), defs.Va_t(a0)))
	case SysIoctl:
		return errRet(-defs.ENOTTY)
	case SysFork:
		return d.sysFork(p)
	case SysExecve:
		return d.sysExecve(p, a0, a1, a2)
	case SysExit, SysExitGroup:
		return d.sysExit(p, int32(a0))
	case SysArchPrctl:
		return d.sysArchPrctl(a0, a1)
	default:
		return errRet(-defs.ENOSYS)
	}
}

func (d *Dispatcher) process() *proc.Process {
	if d.CurrentProcess == nil {
		return nil
	}
	return d.CurrentProcess()
}

// userEntryTrampoline is the Thread entry point for a brand-new user
// thread (fork's child, or the current thread immediately after a
// successful execve resets it): it reads whatever this thread's
// UserRIP/UserRFLAGS/UserRSP fields hold and SYSRETs into user mode
// with them. It must be a plain package-level function (sched.New and
// sched.Thread.ResetEntry extract only its code pointer).
func userEntryTrampoline() {
	t := sched.CurrentThread()
	enterUser(t.UserRIP, t.UserRFLAGS, t.UserRSP)
}

// NewUserThread builds a thread whose first dispatch drops into user
// mode via userEntryTrampoline, for cmd/kernel's boot-time init
// process (the one user thread this package doesn't create itself via
// fork/execve). Caller still owns setting HasPid/Pid, HasCR3/CR3 and
// the UserRIP/UserRFLAGS/UserRSP fields before enqueuing it.
func NewUserThread(name string) *sched.Thread {
	return sched.New(userEntryTrampoline, name)
}

// enterUser is implemented in entry_amd64.s: loads rsp, rcx (target
// rip) and r11 (target rflags) from its arguments, zeroes rax, and
// executes SYSRETQ. Used only to start a thread in user mode for the
// first time (fork child, post-execve); an already-running thread
// resumes through the timer interrupt's own IRETQ instead (spec §4.8).
func enterUser(rip, rflags, rsp uint64)

// readUserCString copies a NUL-terminated string out of as starting at
// va, refusing to read past max bytes or across the kernel/user
// boundary (spec §4.9 pointer validation).
func readUserCString(pmm *mem.PMM, as *vm.AS, va uint64, max int) (string, defs.Err_t) {
	if !checkAddr(va) {
		return "", -defs.EFAULT
	}
	buf := make([]byte, 0, 64)
	for i := 0; i < max; i++ {
		a := va + uint64(i)
		if !checkAddr(a) {
			return "", -defs.EFAULT
		}
		b, ok := readUserByte(pmm, as, a)
		if !ok {
			return "", -defs.EFAULT
		}
		if b == 0 {
			return string(buf), 0
		}
		buf = append(buf, b)
	}
	return "", -defs.ENAMETOOLONG
}

func readUserByte(pmm *mem.PMM, as *vm.AS, va uint64) (byte, bool) {
	pageVA := va &^ uint64(defs.PGSIZE-1)
	frame, _, ok := as.Translate(defs.Va_t(pageVA))
	if !ok {
		return 0, false
	}
	page := pmm.Dmap8(frame)
	return page[va-pageVA], true
}

// readUserBuffer copies n bytes out of as starting at va, for write().
func readUserBuffer(pmm *mem.PMM, as *vm.AS, va uint64, n int) ([]byte, defs.Err_t) {
	if !checkBuffer(va, uint64(n)) {
		return nil, -defs.EFAULT
	}
	out := make([]byte, n)
	for i := range out {
		b, ok := readUserByte(pmm, as, va+uint64(i))
		if !ok {
			return nil, -defs.EFAULT
		}
		out[i] = b
	}
	return out, 0
}

// writeUserBuffer copies data into as starting at va, for read().
func writeUserBuffer(pmm *mem.PMM, as *vm.AS, va uint64, data []byte) defs.Err_t {
	if !checkBuffer(va, uint64(len(data))) {
		return -defs.EFAULT
	}
	for i, b := range data {
		a := va + uint64(i)
		pageVA := a &^ uint64(defs.PGSIZE-1)
		frame, _, ok := as.Translate(defs.Va_t(pageVA))
		if !ok {
			return -defs.EFAULT
		}
		pmm.Dmap8(frame)[a-pageVA] = b
	}
	return 0
}

// readUserStringVector reads a NUL-terminated argv/envp-style array of
// string pointers out of as, stopping at the first NULL entry (spec
// §4.9 row 59's argv/envp layout), bounded by max entries.
func readUserStringVector(pmm *mem.PMM, as *vm.AS, va uint64, max int) ([]string, defs.Err_t) {
	if va == 0 {
		return nil, 0
	}
	var out []string
	for i := 0; i < max; i++ {
		ptrBytes, err := readUserBuffer(pmm, as, va+uint64(i)*8, 8)
		if err != 0 {
			return nil, err
		}
		ptr := leUint64(ptrBytes)
		if ptr == 0 {
			return out, 0
		}
		s, err := readUserCString(pmm, as, ptr, 4096)
		if err != 0 {
			return nil, err
		}
		out = append(out, s)
	}
	return nil, -defs.EINVAL
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func mapVFSErr(e vfs.Error) defs.Err_t {
	switch e {
	case vfs.ErrNotFound:
		return -defs.ENOENT
	case vfs.ErrWrongType, vfs.ErrUnknownDevice:
		return -defs.EINVAL
	default:
		return 0
	}
}

// vfsFile adapts a resolved vfs.Inode to fd.File, tracking its own
// read/write offset since fd.Fd_t's File interface has no offset
// parameter (internal/fd.Fd_t keeps a parallel Offset field for stat
// purposes; this is the position actually consulted on every call).
type vfsFile struct {
	v   *vfs.VFS
	ino *vfs.Inode
	off uint64
}

func (f *vfsFile) Read(buf []byte) (int, defs.Err_t) {
	n, err := f.v.Read(f.ino, f.off, buf)
	if err != 0 {
		return 0, mapVFSErr(err)
	}
	f.off += uint64(n)
	return n, 0
}

func (f *vfsFile) Write(buf []byte) (int, defs.Err_t) {
	n, err := f.v.Write(f.ino, f.off, buf)
	if err != 0 {
		return 0, mapVFSErr(err)
	}
	f.off += uint64(n)
	return n, 0
}

func (f *vfsFile) Close() defs.Err_t {
	return mapVFSErr(f.v.Close(f.ino))
}
