package proc

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"corvid/internal/bootinfo"
	"corvid/internal/defs"
	"corvid/internal/mem"
	"corvid/internal/vm"
)

// newTestPMM mirrors internal/mem's own test helper: a PMM backed by a
// plain Go byte slice so tests can exercise real page-table/frame code
// without actual physical memory.
func newTestPMM(t *testing.T, frames int) *mem.PMM {
	t.Helper()
	backing := make([]byte, frames*defs.PGSIZE+defs.PGSIZE)
	base := defs.Pa_t(0)
	physOffset := defs.Va_t(uintptr(unsafe.Pointer(&backing[0]))) - defs.Va_t(base)
	mm := []bootinfo.MemRegion{{Base: base, Length: uint64(len(backing)), Kind: bootinfo.MemUsable}}
	return mem.Init(mm, physOffset)
}

func TestBrkGrowAndShrink(t *testing.T) {
	pmm := newTestPMM(t, 256)
	table := NewTable(pmm)
	p, ok := table.NewProcess()
	if !ok {
		t.Fatal("NewProcess failed")
	}
	p.BrkInit = 0x1000
	p.BrkCur = 0x1000

	got := p.Brk(pmm, 0x1000+0x3000)
	if got != 0x1000+0x3000 {
		t.Fatalf("Brk grow = %#x, want %#x", got, 0x1000+0x3000)
	}
	if _, _, ok := p.AS.Translate(0x1000); !ok {
		t.Fatal("expected first break page mapped after grow")
	}

	got = p.Brk(pmm, 0x1000)
	if got != 0x1000 {
		t.Fatalf("Brk shrink = %#x, want %#x", got, 0x1000)
	}
	if _, _, ok := p.AS.Translate(0x1000 + 0x2000); ok {
		t.Fatal("expected shrunk page to be unmapped")
	}
}

func TestBrkBelowInitialIsNoop(t *testing.T) {
	pmm := newTestPMM(t, 64)
	table := NewTable(pmm)
	p, _ := table.NewProcess()
	p.BrkInit = 0x2000
	p.BrkCur = 0x2000

	if got := p.Brk(pmm, 0x1000); got != 0x2000 {
		t.Fatalf("Brk below initial = %#x, want unchanged %#x", got, 0x2000)
	}
	if got := p.Brk(pmm, 0); got != 0x2000 {
		t.Fatalf("Brk(0) = %#x, want current break %#x", got, 0x2000)
	}
}

func TestForkDeepCopiesUserPages(t *testing.T) {
	pmm := newTestPMM(t, 256)
	table := NewTable(pmm)
	parent, _ := table.NewProcess()

	frame, ok := pmm.AllocateFrame()
	if !ok {
		t.Fatal("AllocateFrame failed")
	}
	parent.AS.Owned = append(parent.AS.Owned, frame)
	page := pmm.Dmap(frame)
	page[0] = 0xAA
	if !parent.AS.Map(0x4000, frame, vm.PTE_U|vm.PTE_W) {
		t.Fatal("Map failed")
	}

	child, ok := table.Fork(parent)
	if !ok {
		t.Fatal("Fork failed")
	}

	cf, _, ok := child.AS.Translate(0x4000)
	if !ok {
		t.Fatal("expected child to have page 0x4000 mapped")
	}
	if cf == frame {
		t.Fatal("fork must deep-copy, not share, the user frame")
	}
	childPage := pmm.Dmap(cf)
	if childPage[0] != 0xAA {
		t.Fatalf("child page[0] = %#x, want 0xAA (copied at fork time)", childPage[0])
	}

	childPage[0] = 0x55
	parentPage := pmm.Dmap(frame)
	if parentPage[0] != 0xAA {
		t.Fatal("write through child's copy must not affect parent's page")
	}
}

func buildTestELF(entry, vaddr uint64, body []byte) []byte {
	const (
		headerSize = 64
		phSize     = 56
	)
	image := make([]byte, headerSize+phSize+len(body))
	image[0], image[1], image[2], image[3] = 0x7f, 'E', 'L', 'F'
	image[4] = 2 // ELFCLASS64
	image[5] = 1 // little endian
	le := binary.LittleEndian
	le.PutUint16(image[16:18], 2)      // ET_EXEC
	le.PutUint16(image[18:20], 0x3e)   // EM_X86_64
	le.PutUint64(image[24:32], entry)  // e_entry
	le.PutUint64(image[32:40], headerSize) // e_phoff
	le.PutUint16(image[56:58], 1)      // e_phnum

	ph := image[headerSize : headerSize+phSize]
	le.PutUint32(ph[0:4], 1)                      // PT_LOAD
	le.PutUint32(ph[4:8], 7)                       // R+W+X
	le.PutUint64(ph[8:16], uint64(headerSize+phSize)) // p_offset
	le.PutUint64(ph[16:24], vaddr)                 // p_vaddr
	le.PutUint64(ph[32:40], uint64(len(body)))     // p_filesz
	le.PutUint64(ph[40:48], uint64(len(body)))     // p_memsz

	copy(image[headerSize+phSize:], body)
	return image
}

func TestExecveLoadsSegmentAndBuildsStack(t *testing.T) {
	pmm := newTestPMM(t, 512)
	table := NewTable(pmm)
	p, _ := table.NewProcess()

	body := []byte{0x90, 0x90, 0xc3} // nop; nop; ret
	vaddr := uint64(0x0000_0000_0040_0000)
	image := buildTestELF(vaddr, vaddr, body)

	entry, sp, err := p.Execve(pmm, image, []string{"/init/init", "a1"}, nil)
	if err != nil {
		t.Fatalf("Execve failed: %v", err)
	}
	if entry != defs.Va_t(vaddr) {
		t.Fatalf("entry = %#x, want %#x", entry, vaddr)
	}
	if sp == 0 || sp >= defs.UserStackTop {
		t.Fatalf("sp = %#x, expected below user stack top %#x", sp, defs.UserStackTop)
	}
	if p.BrkInit != defs.Va_t(vaddr)+defs.Va_t(len(body)) {
		t.Fatalf("BrkInit = %#x, want %#x", p.BrkInit, defs.Va_t(vaddr)+defs.Va_t(len(body)))
	}

	frame, _, ok := p.AS.Translate(defs.Va_t(vaddr))
	if !ok {
		t.Fatal("expected entry page mapped")
	}
	loaded := pmm.Dmap(frame)
	if loaded[0] != 0x90 || loaded[2] != 0xc3 {
		t.Fatal("loaded segment bytes do not match the ELF body")
	}
}

func TestExecveRejectsInvalidHeaderWithoutClearing(t *testing.T) {
	pmm := newTestPMM(t, 64)
	table := NewTable(pmm)
	p, _ := table.NewProcess()

	frame, _ := pmm.AllocateFrame()
	p.AS.Owned = append(p.AS.Owned, frame)
	p.AS.Map(0x9000, frame, vm.PTE_U|vm.PTE_W)

	_, _, err := p.Execve(pmm, []byte("not an elf"), nil, nil)
	if err == nil {
		t.Fatal("expected an error for a malformed image")
	}
	if _, _, ok := p.AS.Translate(0x9000); !ok {
		t.Fatal("failed execve must not clear the process's prior mappings (Open Question decision (b))")
	}
}
