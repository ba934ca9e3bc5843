package vm

import (
	"corvid/internal/defs"
	"corvid/internal/mem"
)

// CloneForFork deep-copies the lower 256 top-level entries (user
// space) of src, recursing down to leaf pages and copying each user
// leaf byte-for-byte into a freshly allocated frame. Non-user entries
// are copied by reference without ownership. Every newly allocated
// frame (tables and leaves) is recorded in the returned AS's Owned
// list so the child process can free them on exit (spec §4.2
// clone_for_fork).
func CloneForFork(src *AS) (*AS, bool) {
	src.mu.Lock()
	defer src.mu.Unlock()

	dst, ok := New(src.pmm)
	if !ok {
		return nil, false
	}
	dstRoot := pmapAt(dst.pmm, dst.Root)
	srcRoot := pmapAt(src.pmm, src.Root)

	for i := 0; i < 256; i++ {
		e := srcRoot[i]
		if e&PTE_P == 0 {
			continue
		}
		newEntry, ok := cloneEntry(src.pmm, dst, e, 3)
		if !ok {
			dst.Destroy()
			return nil, false
		}
		dstRoot[i] = newEntry
	}
	return dst, true
}

// cloneEntry clones one page-table entry at the given level
// (3 = PDPT, 2 = PD, 1 = PT, 0 = a leaf page itself). Entries without
// PTE_U are shared by reference and not added to dst's ownership
// list; user entries are deep-copied and the new frame is recorded in
// dst.Owned.
func cloneEntry(pmm *mem.PMM, dst *AS, e defs.Pa_t, level int) (defs.Pa_t, bool) {
	flags := e &^ PTE_ADDR
	srcFrame := e & PTE_ADDR

	if e&PTE_U == 0 {
		// Kernel/global entry: share the same physical table or page
		// by reference; dst does not own it.
		return e, true
	}

	newFrame, ok := pmm.AllocateFrame()
	if !ok {
		return 0, false
	}
	dst.Owned = append(dst.Owned, newFrame)

	if level == 0 {
		// Leaf user page: copy bytes verbatim.
		srcPg := pmm.Dmap(srcFrame)
		dstPg := pmm.Dmap(newFrame)
		*dstPg = *srcPg
		return (newFrame & PTE_ADDR) | flags, true
	}

	// Intermediate table: recurse into each present entry.
	srcTable := pmapAt(pmm, srcFrame)
	dstTable := pmapAt(pmm, newFrame)
	*dstTable = Pmap_t{}
	for i, child := range srcTable {
		if child&PTE_P == 0 {
			continue
		}
		childLevel := level - 1
		newChild, ok := cloneEntry(pmm, dst, child, childLevel)
		if !ok {
			return 0, false
		}
		dstTable[i] = newChild
	}
	return (newFrame & PTE_ADDR) | flags, true
}
