package syscall

import (
	"corvid/internal/cpu"
	"corvid/internal/defs"
	"corvid/internal/fd"
	"corvid/internal/proc"
	"corvid/internal/sched"
)

const msrFSBase = 0xC000_0100

// sysRead implements read(2): spec §4.9 row 0. fdNum must be open for
// reading; buf/len are validated against the user/kernel split before
// any byte is copied.
func (d *Dispatcher) sysRead(p *proc.Process, fdNum int, bufVA, length uint64) uint64 {
	f, ok := p.LookupFd(fdNum)
	if !ok {
		return errRet(-defs.EBADF)
	}
	if !checkBuffer(bufVA, length) {
		return errRet(-defs.EFAULT)
	}
	tmp := make([]byte, length)
	n, err := f.Read(tmp)
	if err != 0 {
		return errRet(err)
	}
	if werr := writeUserBuffer(d.Procs.PMM(), p.AS, bufVA, tmp[:n]); werr != 0 {
		return errRet(werr)
	}
	return uint64(n)
}

// sysWrite implements write(2): spec §4.9 row 1.
func (d *Dispatcher) sysWrite(p *proc.Process, fdNum int, bufVA, length uint64) uint64 {
	f, ok := p.LookupFd(fdNum)
	if !ok {
		return errRet(-defs.EBADF)
	}
	data, err := readUserBuffer(d.Procs.PMM(), p.AS, bufVA, int(length))
	if err != 0 {
		return errRet(err)
	}
	n, werr := f.Write(data)
	if werr != 0 {
		return errRet(werr)
	}
	return uint64(n)
}

// sysOpen implements open(2): spec §4.9 row 2. Only the path and
// O_WRONLY-vs-read distinction matter at this layer; flags this core
// does not model (O_CREAT, O_APPEND, ...) are silently ignored, the
// same simplification spec §9 records for devfs/ramdisk's read-only
// posture.
func (d *Dispatcher) sysOpen(p *proc.Process, pathVA, flags uint64) uint64 {
	path, err := readUserCString(d.Procs.PMM(), p.AS, pathVA, 4096)
	if err != 0 {
		return errRet(err)
	}
	ino, verr := d.VFS.Traverse(d.VFS.Root(), path)
	if verr != 0 {
		return errRet(mapVFSErr(verr))
	}
	if verr := d.VFS.Open(ino); verr != 0 {
		return errRet(mapVFSErr(verr))
	}
	const oAccmode = 0x3
	const oWronly = 0x1
	const oRdwr = 0x2
	perms := fd.FD_READ
	switch flags & oAccmode {
	case oWronly:
		perms = fd.FD_WRITE
	case oRdwr:
		perms = fd.FD_READ | fd.FD_WRITE
	}
	f := fd.New(&vfsFile{v: d.VFS, ino: ino}, perms)
	return uint64(p.AddFd(f))
}

// sysClose implements close(2): spec §4.9 row 3, real cleanup per
// SPEC_FULL.md's Open Question decision (close is not a no-op).
func (d *Dispatcher) sysClose(p *proc.Process, fdNum int) uint64 {
	return errRet(p.CloseFd(fdNum))
}

// sysFork implements fork(2): spec §4.9 row 57, §4.7. The parent's
// syscall returns the child's pid; the child's first return from this
// same syscall happens later, when its thread is first dispatched,
// and yields zero (enterUser always loads rax with 0, see
// entry_amd64.s).
func (d *Dispatcher) sysFork(parent *proc.Process) uint64 {
	cur := sched.CurrentThread()
	if cur == nil {
		return errRet(-defs.EAGAIN)
	}
	child, ok := d.Procs.Fork(parent)
	if !ok {
		return errRet(-defs.ENOMEM)
	}
	childThread := sched.New(userEntryTrampoline, "fork")
	childThread.HasPid, childThread.Pid = true, child.Pid
	childThread.HasCR3, childThread.CR3 = true, child.AS.Root
	childThread.UserRIP = cur.UserRIP
	childThread.UserRFLAGS = cur.UserRFLAGS
	childThread.UserRSP = cur.UserRSP
	child.Thread = childThread
	d.Sched.Enqueue(childThread)
	return uint64(child.Pid)
}

// sysExecve implements execve(2): spec §4.9 row 59, §4.6. On success
// this never returns to its caller: the current thread's saved
// context is rewound to userEntryTrampoline (sched.Thread.ResetEntry)
// and the thread is re-dispatched with ForgetCurrent so the "same
// thread, skip the switch" shortcut in YieldExecution cannot fire
// (spec §9's execve divergence note).
func (d *Dispatcher) sysExecve(p *proc.Process, pathVA, argvVA, envpVA uint64) uint64 {
	pmm := d.Procs.PMM()
	path, err := readUserCString(pmm, p.AS, pathVA, 4096)
	if err != 0 {
		return errRet(err)
	}
	argv, err := readUserStringVector(pmm, p.AS, argvVA, defs.MaxArgv)
	if err != 0 {
		return errRet(err)
	}
	envp, err := readUserStringVector(pmm, p.AS, envpVA, defs.MaxArgv)
	if err != 0 {
		return errRet(err)
	}
	if d.ReadFile == nil {
		return errRet(-defs.ENOSYS)
	}
	image, rerr := d.ReadFile(path)
	if rerr != 0 {
		return errRet(rerr)
	}

	entry, sp, execErr := p.Execve(pmm, image, argv, envp)
	if execErr != nil {
		return errRet(-defs.EINVAL)
	}

	cur := sched.CurrentThread()
	cur.UserRIP = uint64(entry)
	cur.UserRFLAGS = 0x202
	cur.UserRSP = uint64(sp)
	cur.ResetEntry(userEntryTrampoline)

	d.Sched.Enqueue(cur)
	d.Sched.ForgetCurrent()
	d.Sched.YieldExecution()
	panic("syscall: execve's thread resumed its old call chain")
}

// sysExit implements exit(2)/exit_group(2): spec §4.9 rows 60/231.
// This core has no process-reaping or wait() path (spec's Non-goals),
// so exiting parks the current thread forever by never re-enqueuing
// it and yielding; its resources are dropped from the process table
// but its address space is left for a future reaper to tear down (spec
// §9 "no zombie reaping").
func (d *Dispatcher) sysExit(p *proc.Process, code int32) uint64 {
	d.Procs.Remove(p.Pid)
	d.Sched.ForgetCurrent()
	d.Sched.YieldExecution()
	panic("syscall: exited thread resumed")
}

// sysArchPrctl implements arch_prctl(2): spec §4.9 row 158, the one
// subcode libc startup code actually calls (ARCH_SET_FS, to install
// TLS). Any other subcode is EINVAL; ARCH_SET_FS itself validates the
// address before writing FSBASE, rejecting a kernel-half pointer.
func (d *Dispatcher) sysArchPrctl(code, value uint64) uint64 {
	if code != archSetFS {
		return errRet(-defs.EINVAL)
	}
	if !checkAddr(value) {
		return errRet(-defs.EFAULT)
	}
	cpu.Wrmsr(msrFSBase, value)
	return 0
}
