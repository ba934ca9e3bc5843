// Package proc is the process and thread model: a process table
// keyed by pid, fork's address-space/descriptor duplication, execve's
// ELF loading and initial-stack construction, and brk (spec §3
// Process/Thread, §4.6, §4.7, §4.10).
//
// Grounded on biscuit's per-pid map convention (kernel's proc table)
// for Table's shape, and on original_source/kernel/src/user/mod.rs's
// UserProcess::load_elf for the segment-mapping and initial-stack
// layout execve builds — generalized from a single hard-coded pid
// there to this package's pid-table/fork/execve split, and on
// original_source/kernel/src/scheduler.rs's "thread stores a pid, not
// a process handle" rule (spec §9 "cyclic ownership").
package proc

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"corvid/internal/defs"
	"corvid/internal/elf"
	"corvid/internal/fd"
	"corvid/internal/mem"
	"corvid/internal/sched"
	"corvid/internal/vm"
)

// Process is the spec §3 Process record: address space, descriptor
// table, program break, and a pointer back to its primary thread.
// Threads index back to their process by pid (not by pointer), per
// spec §9's cyclic-ownership note.
type Process struct {
	mu sync.Mutex

	Pid     defs.Pid_t
	AS      *vm.AS
	Fds     map[int]*fd.Fd_t
	NextFd  int
	BrkInit defs.Va_t
	BrkCur  defs.Va_t
	Thread  *sched.Thread
	Parent  defs.Pid_t
	HasParent bool
}

// Table is the process-wide singleton process table (spec §9 "global
// mutable state"): a pid-keyed map under a reader/writer lock.
type Table struct {
	mu   sync.RWMutex
	byPid map[defs.Pid_t]*Process
	pmm   *mem.PMM
}

var nextPid int32

// NewTable constructs an empty process table bound to pmm, the
// allocator every process's address space draws frames from.
func NewTable(pmm *mem.PMM) *Table {
	return &Table{byPid: make(map[defs.Pid_t]*Process), pmm: pmm}
}

// PMM returns the frame allocator the table's address spaces draw
// from, for callers (internal/syscall's read/write/execve handlers)
// that need to translate user pointers outside of a Process method.
func (t *Table) PMM() *mem.PMM {
	return t.pmm
}

// Get looks up a process by pid under the table's read lock.
func (t *Table) Get(pid defs.Pid_t) (*Process, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byPid[pid]
	return p, ok
}

func (t *Table) insert(p *Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPid[p.Pid] = p
}

// Remove deletes pid from the table, called once its address space and
// frames have been torn down (exit).
func (t *Table) Remove(pid defs.Pid_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPid, pid)
}

// NewProcess allocates a fresh address space and an empty process
// record, not yet runnable until Execve loads a program into it.
func (t *Table) NewProcess() (*Process, bool) {
	as, ok := vm.New(t.pmm)
	if !ok {
		return nil, false
	}
	p := &Process{
		Pid: defs.Pid_t(atomic.AddInt32(&nextPid, 1)),
		AS:  as,
		Fds: make(map[int]*fd.Fd_t),
	}
	t.insert(p)
	return p, true
}

// AddFd installs f under a freshly allocated descriptor number and
// returns it.
func (p *Process) AddFd(f *fd.Fd_t) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.NextFd
	p.NextFd++
	p.Fds[n] = f
	return n
}

// LookupFd returns the descriptor at n, if open.
func (p *Process) LookupFd(n int) (*fd.Fd_t, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.Fds[n]
	return f, ok
}

// CloseFd removes fd n from the table and closes the underlying
// descriptor if this was the last reference (spec's Open Question
// decision: close does real cleanup).
func (p *Process) CloseFd(n int) defs.Err_t {
	p.mu.Lock()
	f, ok := p.Fds[n]
	if !ok {
		p.mu.Unlock()
		return -defs.EBADF
	}
	delete(p.Fds, n)
	p.mu.Unlock()
	return f.Close()
}

// checkAddr reports whether addr is a user address: bit 63 clear
// (spec §4.9 pointer validation).
func checkAddr(addr defs.Va_t) bool {
	return uint64(addr)&(1<<63) == 0
}

// Fork duplicates the current process (spec §4.7): deep-copies the
// user address space, shares file descriptors by reference (bumping
// their refcounts), and copies brk state. The caller is responsible
// for creating and enqueuing the child's thread; Fork only builds the
// Process record.
func (t *Table) Fork(parent *Process) (*Process, bool) {
	parent.mu.Lock()
	defer parent.mu.Unlock()

	childAS, ok := vm.CloneForFork(parent.AS)
	if !ok {
		return nil, false
	}
	child := &Process{
		Pid:       defs.Pid_t(atomic.AddInt32(&nextPid, 1)),
		AS:        childAS,
		Fds:       make(map[int]*fd.Fd_t, len(parent.Fds)),
		NextFd:    parent.NextFd,
		BrkInit:   parent.BrkInit,
		BrkCur:    parent.BrkCur,
		Parent:    parent.Pid,
		HasParent: true,
	}
	for n, f := range parent.Fds {
		child.Fds[n] = f.Dup()
	}
	t.insert(child)
	return child, true
}

// ExecveError reports why an execve attempt failed (spec §4.6 step 1,
// §9's "validate fully before clearing" decision).
type ExecveError struct{ msg string }

func (e ExecveError) Error() string { return e.msg }

// Execve loads image into p's address space (spec §4.6). Per
// SPEC_FULL.md's Open Question decision (b), every validation step —
// ELF header, program headers, argv count — runs to completion before
// any of p's prior user mappings are cleared, so a failed Execve
// leaves p's original address space untouched.
func (p *Process) Execve(pmm *mem.PMM, image []byte, argv []string, envp []string) (entry defs.Va_t, userSP defs.Va_t, err error) {
	if len(argv) > defs.MaxArgv {
		return 0, 0, ExecveError{"too many argv strings"}
	}
	header, perr := elf.ParseHeader(image)
	if perr != nil {
		return 0, 0, ExecveError{"invalid ELF header"}
	}
	phdrs, perr := elf.ProgramHeaders(image, header)
	if perr != nil {
		return 0, 0, ExecveError{"invalid program headers"}
	}

	// Validation complete; only now do we touch p's address space.
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearUserMappings(pmm)

	var brkInit defs.Va_t
	for _, ph := range phdrs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		if err := p.loadSegment(pmm, image, ph); err != nil {
			return 0, 0, err
		}
		end := defs.Va_t(ph.Vaddr + ph.Memsz)
		if end > brkInit {
			brkInit = end
		}
	}
	p.BrkInit = brkInit
	p.BrkCur = brkInit

	sp, err := p.buildInitialStack(pmm, argv, envp)
	if err != nil {
		return 0, 0, err
	}
	return defs.Va_t(header.Entry), sp, nil
}

// clearUserMappings drops and frees every frame currently owned by the
// process's address space (the lower 256 top-level entries), per spec
// §4.6 step 3. The PML4 root frame itself stays owned and in use.
// Kernel-half entries are shared by reference and never touched.
func (p *Process) clearUserMappings(pmm *mem.PMM) {
	for _, f := range p.AS.Owned {
		if f == p.AS.Root {
			continue
		}
		pmm.DeallocateFrame(f)
	}
	p.AS.Owned = append(p.AS.Owned[:0], p.AS.Root)
	root := pmapAtAS(p.AS)
	for i := 0; i < 256; i++ {
		root[i] = 0
	}
}

// loadSegment maps and populates the pages covering one PT_LOAD
// segment (spec §4.6 step 4): file bytes beyond file_size are left
// zero by virtue of fresh-frame zeroing.
func (p *Process) loadSegment(pmm *mem.PMM, image []byte, ph elf.ProgramHeader) error {
	flags := vm.PTE_U
	if ph.Flags&elf.PF_W != 0 {
		flags |= vm.PTE_W
	}
	if ph.Flags&elf.PF_X == 0 {
		flags |= vm.PTE_NX
	}

	start := ph.Vaddr &^ uint64(defs.PGSIZE-1)
	end := ph.Vaddr + ph.Memsz
	for va := start; va < end; va += uint64(defs.PGSIZE) {
		frame, ok := pmm.AllocateFrame()
		if !ok {
			return ExecveError{"out of memory loading segment"}
		}
		p.AS.Owned = append(p.AS.Owned, frame)
		page := pmm.Dmap(frame)
		for i := range page {
			page[i] = 0
		}
		copySegmentPage(page[:], image, ph, va)
		if !p.AS.Map(defs.Va_t(va), frame, flags) {
			return ExecveError{"failed to map segment page"}
		}
	}
	return nil
}

// copySegmentPage copies whatever portion of [va, va+PGSIZE) falls
// inside the segment's file-backed range ([vaddr, vaddr+filesz)) into
// page; bytes outside that range stay zero (already zeroed by the
// caller), giving the file_size < mem_size bss behavior spec §4.6
// step 4 describes.
func copySegmentPage(page []byte, image []byte, ph elf.ProgramHeader, va uint64) {
	fileStart := ph.Vaddr
	fileEnd := ph.Vaddr + ph.Filesz
	pageEnd := va + uint64(defs.PGSIZE)

	lo := va
	if lo < fileStart {
		lo = fileStart
	}
	hi := pageEnd
	if hi > fileEnd {
		hi = fileEnd
	}
	if hi <= lo {
		return
	}
	srcOff := ph.Offset + (lo - ph.Vaddr)
	if srcOff+(hi-lo) > uint64(len(image)) {
		hi = lo + (uint64(len(image)) - srcOff)
	}
	if hi <= lo {
		return
	}
	copy(page[lo-va:hi-va], image[srcOff:srcOff+(hi-lo)])
}

// buildInitialStack lays out argc/argv/envp/auxv and the argument
// strings at the fixed user stack top, per spec §4.6 step 6.
func (p *Process) buildInitialStack(pmm *mem.PMM, argv, envp []string) (defs.Va_t, error) {
	top := uint64(defs.UserStackTop)
	firstPage := (top - 1) &^ uint64(defs.PGSIZE-1)
	bottom := top - defs.UserStackPrelude

	for va := firstPage; ; va -= uint64(defs.PGSIZE) {
		frame, ok := pmm.AllocateFrame()
		if !ok {
			return 0, ExecveError{"out of memory building stack"}
		}
		p.AS.Owned = append(p.AS.Owned, frame)
		page := pmm.Dmap(frame)
		for i := range page {
			page[i] = 0
		}
		if !p.AS.Map(defs.Va_t(va), frame, vm.PTE_U|vm.PTE_W|vm.PTE_NX) {
			return 0, ExecveError{"failed to map stack page"}
		}
		if va <= bottom {
			break
		}
	}

	sp := top
	writeStr := func(s string) uint64 {
		b := append([]byte(s), 0)
		sp -= uint64(len(b))
		writeUserBytes(pmm, p.AS, defs.Va_t(sp), b)
		return sp
	}

	argvPtrs := make([]uint64, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		argvPtrs[i] = writeStr(argv[i])
	}
	envpPtrs := make([]uint64, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		envpPtrs[i] = writeStr(envp[i])
	}

	// Align down to 8 bytes before the pointer arrays.
	sp &^= 7

	pushU64 := func(v uint64) {
		sp -= 8
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		writeUserBytes(pmm, p.AS, defs.Va_t(sp), b[:])
	}

	pushU64(0) // auxv terminator (AT_NULL)
	pushU64(0) // envp terminator
	for i := len(envpPtrs) - 1; i >= 0; i-- {
		pushU64(envpPtrs[i])
	}
	pushU64(0) // argv terminator
	for i := len(argvPtrs) - 1; i >= 0; i-- {
		pushU64(argvPtrs[i])
	}
	pushU64(uint64(len(argv))) // argc

	return defs.Va_t(sp), nil
}

// writeUserBytes copies data into the already-mapped user page(s)
// starting at va, resolving each page through the address space's own
// Translate so the write goes through the phys-offset alias.
func writeUserBytes(pmm *mem.PMM, as *vm.AS, va defs.Va_t, data []byte) {
	for len(data) > 0 {
		pageVA := uint64(va) &^ uint64(defs.PGSIZE-1)
		off := uint64(va) - pageVA
		frame, _, ok := as.Translate(defs.Va_t(pageVA))
		if !ok {
			return
		}
		page := pmm.Dmap(frame)
		n := copy(page[off:], data)
		data = data[n:]
		va += defs.Va_t(n)
	}
}

// pmapAtAS exposes vm's private page-table accessor for
// clearUserMappings; vm.AS.Root plus the process's own pmm pointer is
// all clearUserMappings needs, but vm keeps pmapAt unexported, so this
// returns the root table through AS.RootTable.
func pmapAtAS(as *vm.AS) *vm.Pmap_t {
	return as.RootTable()
}

// Brk implements spec §4.10: addr==0 or below BrkInit or not a user
// address returns the current break unchanged; growing maps NX+W+U
// pages, shrinking unmaps and frees them; BrkCur only advances after
// every mapping change succeeds.
func (p *Process) Brk(pmm *mem.PMM, addr defs.Va_t) defs.Va_t {
	p.mu.Lock()
	defer p.mu.Unlock()

	if addr == 0 || addr < p.BrkInit || !checkAddr(addr) {
		return p.BrkCur
	}

	oldPage := pageRoundUp(uint64(p.BrkCur))
	newPage := pageRoundUp(uint64(addr))

	if addr > p.BrkCur {
		for va := oldPage; va < newPage; va += uint64(defs.PGSIZE) {
			frame, ok := pmm.AllocateFrame()
			if !ok {
				return p.BrkCur
			}
			page := pmm.Dmap(frame)
			for i := range page {
				page[i] = 0
			}
			if !p.AS.Map(defs.Va_t(va), frame, vm.PTE_U|vm.PTE_W|vm.PTE_NX) {
				pmm.DeallocateFrame(frame)
				return p.BrkCur
			}
			p.AS.Owned = append(p.AS.Owned, frame)
		}
	} else if addr < p.BrkCur {
		for va := newPage; va < oldPage; va += uint64(defs.PGSIZE) {
			frame, ok := p.AS.Unmap(defs.Va_t(va))
			if ok {
				pmm.DeallocateFrame(frame)
				p.removeOwned(frame)
			}
		}
	}

	p.BrkCur = addr
	return p.BrkCur
}

func (p *Process) removeOwned(frame defs.Pa_t) {
	for i, f := range p.AS.Owned {
		if f == frame {
			p.AS.Owned = append(p.AS.Owned[:i], p.AS.Owned[i+1:]...)
			return
		}
	}
}

func pageRoundUp(v uint64) uint64 {
	return (v + uint64(defs.PGSIZE) - 1) &^ uint64(defs.PGSIZE-1)
}
