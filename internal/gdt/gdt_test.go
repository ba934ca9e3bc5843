package gdt

import (
	"testing"
	"unsafe"
)

func TestStarValueMatchesSysretArithmetic(t *testing.T) {
	star := StarValue()

	syscallBase := (star >> 32) & 0xFFFF
	sysretBase := (star >> 48) & 0xFFFF

	if syscallBase != SelKernelCS {
		t.Fatalf("syscall CS base = %#x, want %#x", syscallBase, uint64(SelKernelCS))
	}
	if syscallBase+8 != SelKernelDS {
		t.Fatalf("syscall SS (base+8) = %#x, want %#x", syscallBase+8, uint64(SelKernelDS))
	}
	if (sysretBase+8)|3 != SelUserDS {
		t.Fatalf("sysret SS (base+8|3) = %#x, want %#x", (sysretBase+8)|3, uint64(SelUserDS))
	}
	if (sysretBase+16)|3 != SelUserCS {
		t.Fatalf("sysret CS (base+16|3) = %#x, want %#x", (sysretBase+16)|3, uint64(SelUserCS))
	}
}

func TestTSSDescriptorEncodesLimitAndPresence(t *testing.T) {
	var fake TSS
	low, high := tssDescriptor(&fake)

	limit := low&0xFFFF | ((low >> 48 & 0xF) << 16)
	wantLimit := uint64(unsafe.Sizeof(fake)) - 1
	if limit != wantLimit {
		t.Fatalf("limit = %#x, want %#x", limit, wantLimit)
	}
	if low&(1<<47) == 0 {
		t.Fatal("present bit not set in TSS descriptor low half")
	}
	if high == 0 && uintptr(unsafe.Pointer(&fake)) >= 1<<32 {
		t.Fatal("TSS descriptor high half should carry base bits 63:32")
	}
}
