package sched

import "testing"

func TestEnqueueIsFIFO(t *testing.T) {
	idle := New(IdleLoop, "idle")
	s := Init(idle, nil, nil)

	a := New(IdleLoop, "a")
	b := New(IdleLoop, "b")
	s.Enqueue(a)
	s.Enqueue(b)

	if len(s.ready) != 2 || s.ready[0] != a || s.ready[1] != b {
		t.Fatalf("ready queue = %v, want [a b] in FIFO order", s.ready)
	}
}

func TestNewThreadSeedsReturnAddress(t *testing.T) {
	th := New(IdleLoop, "t")
	top := th.Kstack[len(th.Kstack)-1]
	if top == 0 {
		t.Fatal("expected New to seed the kernel stack's top word with entry's code pointer")
	}
	if uintptr(th.Context.Rsp) != uintptr(KstackTopMinusOne(th)) {
		t.Fatalf("Context.Rsp does not point at the seeded return address slot")
	}
}

// KstackTopMinusOne is a test-only accessor for the slot New seeds;
// exported here (rather than via an unexported helper) keeps the
// production API free of a getter nothing else needs.
func KstackTopMinusOne(t *Thread) uintptr {
	return th(t)
}

func th(t *Thread) uintptr {
	return t.KstackTop() - 8
}

func TestYieldExecutionNoopWhenNextEqualsCurrent(t *testing.T) {
	idle := New(IdleLoop, "idle")
	s := Init(idle, nil, nil)
	// With an empty ready queue and current already idle, yielding
	// must return without attempting a context switch (which would
	// require real CPU register state this unit test does not have).
	s.YieldExecution()
	if s.Current() != idle {
		t.Fatalf("current = %v, want idle unchanged", s.Current())
	}
}
