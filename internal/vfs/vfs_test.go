package vfs

import "testing"

// fakeFS is a minimal in-memory filesystem used to exercise Traverse
// without a real devfs/ramdisk.
type fakeFS struct {
	inodes  map[uint32]*Inode
	entries map[uint32][]DirectoryEntry
}

func newFakeFS() *fakeFS {
	return &fakeFS{inodes: make(map[uint32]*Inode), entries: make(map[uint32][]DirectoryEntry)}
}

func (f *fakeFS) Open(ino *Inode) Error  { return 0 }
func (f *fakeFS) Close(ino *Inode) Error { return 0 }
func (f *fakeFS) Read(ino *Inode, offset uint64, buf []byte) (int, Error)  { return 0, 0 }
func (f *fakeFS) Write(ino *Inode, offset uint64, buf []byte) (int, Error) { return 0, 0 }

func (f *fakeFS) Readdir(ino *Inode) ([]DirectoryEntry, Error) {
	e, ok := f.entries[ino.Ino]
	if !ok {
		return nil, ErrNotFound
	}
	return e, 0
}

func (f *fakeFS) LookupInode(dev, ino uint32) (*Inode, Error) {
	n, ok := f.inodes[ino]
	if !ok {
		return nil, ErrNotFound
	}
	return n, 0
}

func TestTraverseSingleLevel(t *testing.T) {
	v := New()
	fs := newFakeFS()
	fs.inodes[0] = &Inode{Dev: 2, Ino: 0, Kind: KindDirectory}
	fs.inodes[1] = &Inode{Dev: 2, Ino: 1, Kind: KindFile}
	fs.entries[0] = []DirectoryEntry{{Name: "a", Ino: 1, Dev: 2}}
	v.Mount(2, fs, "data")

	root, err := v.LookupInode(2, 0)
	if err != 0 {
		t.Fatalf("LookupInode root: %v", err)
	}
	got, err := v.Traverse(root, "a")
	if err != 0 {
		t.Fatalf("Traverse: %v", err)
	}
	if got.Ino != 1 {
		t.Fatalf("got ino %d, want 1", got.Ino)
	}
}

func TestTraverseIgnoresEmptySegments(t *testing.T) {
	v := New()
	fs := newFakeFS()
	fs.inodes[0] = &Inode{Dev: 2, Ino: 0, Kind: KindDirectory}
	fs.inodes[1] = &Inode{Dev: 2, Ino: 1, Kind: KindDirectory}
	fs.inodes[2] = &Inode{Dev: 2, Ino: 2, Kind: KindFile}
	fs.entries[0] = []DirectoryEntry{{Name: "b", Ino: 1, Dev: 2}}
	fs.entries[1] = []DirectoryEntry{{Name: "c", Ino: 2, Dev: 2}}
	v.Mount(2, fs, "data")

	root, _ := v.LookupInode(2, 0)
	got1, err := v.Traverse(root, "//b/c")
	if err != 0 {
		t.Fatalf("Traverse leading/duplicate slash: %v", err)
	}
	got2, err := v.Traverse(root, "b/c")
	if err != 0 {
		t.Fatalf("Traverse plain: %v", err)
	}
	if got1.Ino != got2.Ino {
		t.Fatalf("leading-slash traversal diverged: %d != %d", got1.Ino, got2.Ino)
	}
}

func TestTraverseAcrossMount(t *testing.T) {
	v := New()
	fs := newFakeFS()
	fs.inodes[0] = &Inode{Dev: 3, Ino: 0, Kind: KindDirectory}
	fs.inodes[5] = &Inode{Dev: 3, Ino: 5, Kind: KindFile}
	fs.entries[0] = []DirectoryEntry{{Name: "init", Ino: 5, Dev: 3}}
	v.Mount(3, fs, "init")

	got, err := v.Traverse(v.Root(), "init/init")
	if err != 0 {
		t.Fatalf("Traverse across mount: %v", err)
	}
	if got.Ino != 5 || got.Dev != 3 {
		t.Fatalf("got %+v, want dev=3 ino=5", got)
	}
}

func TestTraverseNotFound(t *testing.T) {
	v := New()
	fs := newFakeFS()
	fs.inodes[0] = &Inode{Dev: 2, Ino: 0, Kind: KindDirectory}
	fs.entries[0] = nil
	v.Mount(2, fs, "data")

	root, _ := v.LookupInode(2, 0)
	if _, err := v.Traverse(root, "missing"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
