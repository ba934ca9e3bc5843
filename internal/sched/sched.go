// Package sched is the cooperative+preemptive scheduler: a FIFO ready
// queue of threads, an idle thread, and a context switch implemented
// in assembly over the exact System-V callee-saved register set plus
// rflags (spec §4.8).
//
// Grounded directly on original_source/kernel/src/scheduler.rs: the
// Context/Thread split, the enqueue/yield_execution/yield_and_continue
// three-way operation split, and the switch_to/switch_finish_hook
// "jmp, not call" idiom that lets the post-switch hook's own `ret`
// resume the incoming thread exactly where it last yielded.
package sched

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"corvid/internal/cpu"
	"corvid/internal/defs"
)

// Context is exactly the System-V callee-saved integer register set
// plus rflags (spec §3 "Saved context"). Field order and offsets are
// load-bearing: switch_amd64.s indexes into this struct by hand, so
// never reorder these fields without updating the assembly too.
type Context struct {
	Rflags uint64
	Rbx    uint64
	R12    uint64
	R13    uint64
	R14    uint64
	R15    uint64
	Rbp    uint64
	Rsp    uint64
}

const kstackWords = 2 * 4096 / 8

// Thread is a schedulable unit of execution (spec §3 Thread): a saved
// context, a fixed-size kernel stack, and an optional address space to
// switch CR3 to on dispatch.
type Thread struct {
	Context Context
	Kstack  []uint64
	Pid     defs.Pid_t
	HasPid  bool
	Tid     defs.Tid_t
	Name    string

	// CR3 is the top-level page-table frame loaded into CR3 when this
	// thread is dispatched. HasCR3 is false for kernel-only threads
	// (the idle thread, and any worker that never leaves the kernel's
	// own address space), which run with whatever CR3 is already
	// loaded.
	CR3    defs.Pa_t
	HasCR3 bool

	// UserRIP/UserRFLAGS/UserRSP snapshot this thread's interrupted
	// user-mode context at its last syscall entry (internal/syscall's
	// prepareSyscallEntry records them). fork reads a parent's values
	// to seed a child thread that has never run yet; execve overwrites
	// them with the new program's entry point and stack before
	// resetting this same thread to start over (spec §4.9).
	UserRIP    uint64
	UserRFLAGS uint64
	UserRSP    uint64
}

var nextTid int32

// New constructs a thread whose first dispatch calls entry. entry must
// be a plain, non-closure package-level function: its code pointer is
// extracted via the same funcval trick internal/interrupt/idt.go uses
// for assembly stub addresses, which only sees the code address, not
// any captured closure state.
func New(entry func(), name string) *Thread {
	t := &Thread{
		Kstack: make([]uint64, kstackWords),
		Tid:    defs.Tid_t(atomic.AddInt32(&nextTid, 1)),
		Name:   name,
	}
	t.Kstack[len(t.Kstack)-1] = uint64(funcCodePointer(entry))
	t.Context.Rsp = uint64(uintptr(unsafe.Pointer(&t.Kstack[len(t.Kstack)-1])))
	t.Context.Rflags = 0x202 // IF set
	return t
}

// KstackTop returns the address one past the end of the thread's
// kernel stack, the value switch_finish_hook programs into the TSS's
// RSP0 field so an interrupt from user mode lands on this thread's
// stack (spec §4.8 post-hook).
func (t *Thread) KstackTop() uintptr {
	return uintptr(unsafe.Pointer(&t.Kstack[len(t.Kstack)-1])) + 8
}

func funcCodePointer(fn func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&fn))
}

// IdleLoop is the idle thread's entry point (spec §4.8): enables
// interrupts and halts in a loop, never blocking, never appearing in
// the ready queue. Selected only when the ready queue is empty.
func IdleLoop() {
	for {
		cpu.EnableInterrupts()
		cpu.Halt()
	}
}

// Scheduler holds the single-CPU scheduling state spec §3 calls
// "per-CPU state" (current/next thread slots, idle thread); this core
// targets one CPU (spec §5), so there is exactly one Scheduler rather
// than a per-LAPIC-id array.
type Scheduler struct {
	mu    sync.Mutex
	ready []*Thread

	current *Thread
	// next is set transiently by YieldExecution immediately before the
	// switch and consumed by switchFinishHook right after (spec §3
	// "next-thread slot (set transiently during switch)").
	next *Thread
	idle *Thread

	programStack func(kstackTop uintptr)
	loadCR3      func(pml4 defs.Pa_t)
}

var global *Scheduler

// Init creates the empty ready queue, records the idle thread, and
// installs the two hooks switchFinishHook needs: programStack installs
// a new TSS.RSP0, loadCR3 installs a new top-level page table. Must be
// called exactly once (spec §4.8 init()).
func Init(idle *Thread, programStack func(uintptr), loadCR3 func(defs.Pa_t)) *Scheduler {
	s := &Scheduler{idle: idle, current: idle, programStack: programStack, loadCR3: loadCR3}
	global = s
	return s
}

// Current returns the thread presently running on this CPU.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CurrentThread returns the running thread on the global scheduler
// instance, for packages (internal/syscall's entry trampoline) that
// need it but would otherwise have to thread a *Scheduler through
// every call.
func CurrentThread() *Thread {
	if global == nil {
		return nil
	}
	return global.Current()
}

// ResetEntry rewinds t's saved context to start fresh at entry,
// reusing t's existing kernel stack buffer exactly as New seeds a
// brand-new thread. Used by execve: a successful execve never returns
// to its own call chain (spec §4.9), so the thread's saved context is
// discarded and rebuilt from scratch rather than resumed.
func (t *Thread) ResetEntry(entry func()) {
	t.Kstack[len(t.Kstack)-1] = uint64(funcCodePointer(entry))
	t.Context = Context{
		Rsp:    uint64(uintptr(unsafe.Pointer(&t.Kstack[len(t.Kstack)-1]))),
		Rflags: 0x202,
	}
}

// ForgetCurrent clears the current-thread slot without enqueuing or
// otherwise touching it. Paired with Enqueue+YieldExecution, this is
// how execve discards its own call chain (spec §4.9 "does NOT return
// to the caller"): with no current thread recorded, YieldExecution's
// "same thread, skip the switch" shortcut can never fire, so the
// freshly Reset context is always switched into.
func (s *Scheduler) ForgetCurrent() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// Enqueue appends t to the ready queue's tail with interrupts masked
// (spec §4.8 enqueue).
func (s *Scheduler) Enqueue(t *Thread) {
	cpu.WithInterruptsDisabled(func() {
		s.mu.Lock()
		s.ready = append(s.ready, t)
		s.mu.Unlock()
	})
}

// YieldExecution pops the ready queue's head (or idle if empty); if it
// is the same thread as current, it returns without switching;
// otherwise it performs the context switch (spec §4.8
// yield_execution). Interrupts stay masked across the pop/compare, but
// not across the switch itself: the incoming thread resumes with
// whatever interrupt state its own Context.Rflags carries.
func (s *Scheduler) YieldExecution() {
	cpu.DisableInterrupts()

	s.mu.Lock()
	var nextThread *Thread
	if len(s.ready) > 0 {
		nextThread, s.ready = s.ready[0], s.ready[1:]
	} else {
		nextThread = s.idle
	}
	prev := s.current
	if prev != nil && prev == nextThread {
		s.mu.Unlock()
		cpu.EnableInterrupts()
		return
	}
	s.next = nextThread
	s.mu.Unlock()

	// prev is nil right after ForgetCurrent (execve, exit): there is no
	// outgoing context to save, so switchTo gets a scratch Context it
	// saves into and never looks at again.
	var prevCtx *Context
	if prev != nil {
		prevCtx = &prev.Context
	} else {
		prevCtx = &Context{}
	}
	switchTo(prevCtx, &nextThread.Context)
}

// YieldAndContinue re-enqueues the current thread, then yields (spec
// §4.8 yield_and_continue) — the operation the timer IRQ calls for
// preemption.
func (s *Scheduler) YieldAndContinue() {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil && cur != s.idle {
		s.Enqueue(cur)
	}
	s.YieldExecution()
}

// switchFinishHook runs on the incoming thread's stack immediately
// after switchTo loads its rsp; it is the sole code authorised to
// retire the outgoing thread from "current" (spec §9), and its own
// `ret` — switchTo jumps here rather than calling — resumes the
// incoming thread exactly where it last suspended.
//
//go:nosplit
func switchFinishHook() {
	s := global
	s.mu.Lock()
	s.current = s.next
	s.next = nil
	cur := s.current
	s.mu.Unlock()

	if s.programStack != nil {
		s.programStack(cur.KstackTop())
	}
	if cur.HasCR3 && s.loadCR3 != nil {
		s.loadCR3(cur.CR3)
	}
}

// switchTo is implemented in switch_amd64.s: saves prev's callee-saved
// registers and rflags, loads next's, then jumps (not calls) to
// switchFinishHook so its own `ret` resumes execution wherever
// next.Rsp now points.
func switchTo(prev, next *Context)
