// Package vfs is the device-id–keyed virtual filesystem: a
// Filesystem interface polymorphic over "open/close/read/write/
// readdir/lookup_inode", a derived Traverse, and a root pseudo-inode
// whose directory listing doubles as the mount table (spec §4.4).
//
// Grounded directly on original_source/kernel/src/vfs.rs's
// Filesystem trait and traverse_fs function — Traverse here is a
// close idiom translation of traverse_fs's path.split("/").fold, and
// the FileKind/Inode/DirectoryEntry names mirror vfs.rs's FileType/
// Inode/DirectoryEntry one-for-one.
package vfs

import (
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FileKind classifies an Inode, mirroring vfs.rs's FileType enum.
type FileKind int

const (
	KindFile FileKind = iota
	KindDirectory
	KindDevice
	KindMountpoint
)

// Inode is the VFS's in-memory standin for a filesystem's real inode;
// once constructed it is immutable, and two Inodes are the same file
// iff (Dev, Ino) match (spec §3 Inode).
type Inode struct {
	Dev   uint32
	Ino   uint32
	Kind  FileKind
	Size  uint64
	Major int // 0 if not a device
	Minor int

	// MountDev/MountIno are set only on a KindMountpoint inode: the
	// (device, inode) the mountpoint's directory listing routes to.
	MountDev uint32
	MountIno uint32
}

// DirectoryEntry is one name -> inode mapping inside a directory;
// directories are enumerated, never hashed (spec §3 Directory entry).
type DirectoryEntry struct {
	Name string
	Ino  uint32
	Dev  uint32
}

// Errors returned by a Filesystem implementation, mapped to errno
// only at the syscall boundary (spec §7 tier 3).
type Error int

const (
	ErrUnknownDevice Error = iota + 1
	ErrWrongType
	ErrNotFound
)

func (e Error) Error() string {
	switch e {
	case ErrUnknownDevice:
		return "vfs: unknown device"
	case ErrWrongType:
		return "vfs: wrong type"
	case ErrNotFound:
		return "vfs: not found"
	default:
		return "vfs: unknown error"
	}
}

// Filesystem is the capability every mounted filesystem implements;
// devfs and the ustar ramdisk both satisfy it (spec §4.4).
type Filesystem interface {
	Open(ino *Inode) Error
	Close(ino *Inode) Error
	Read(ino *Inode, offset uint64, buf []byte) (int, Error)
	Write(ino *Inode, offset uint64, buf []byte) (int, Error)
	Readdir(ino *Inode) ([]DirectoryEntry, Error)
	LookupInode(dev, ino uint32) (*Inode, Error)
}

const rootDev = 0

// VFS is the top-level registry: a device-id-keyed table of mounted
// filesystems plus the root pseudo-inode whose directory listing is
// the mount table (spec §4.4 "the mount table lives in the root
// pseudo-inode's directory listing").
type VFS struct {
	mu          sync.RWMutex
	filesystems map[uint32]Filesystem
	mounts      []DirectoryEntry
	group       singleflight.Group
}

// New returns an empty VFS with just the root pseudo-inode (device 0,
// inode 0).
func New() *VFS {
	return &VFS{filesystems: make(map[uint32]Filesystem)}
}

// Root returns the VFS root pseudo-inode.
func (v *VFS) Root() *Inode {
	return &Inode{Dev: rootDev, Ino: 0, Kind: KindDirectory}
}

// Mount registers fs under dev and adds name to the root directory's
// listing as a mountpoint entry, so Traverse crosses into it like any
// other path segment (spec §4.4 "mount names as ordinary entries
// whose lookup crosses into another filesystem").
func (v *VFS) Mount(dev uint32, fs Filesystem, name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filesystems[dev] = fs
	v.mounts = append(v.mounts, DirectoryEntry{Name: name, Ino: 0, Dev: dev})
}

func (v *VFS) fsFor(dev uint32) (Filesystem, Error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	fs, ok := v.filesystems[dev]
	if !ok {
		return nil, ErrUnknownDevice
	}
	return fs, 0
}

// Open dispatches to the owning filesystem for file- and device-kind
// inodes; other kinds are "wrong type" (spec §4.4).
func (v *VFS) Open(ino *Inode) Error {
	if ino.Dev == rootDev {
		if ino.Kind == KindDirectory {
			return 0
		}
		return ErrWrongType
	}
	if ino.Kind != KindDevice && ino.Kind != KindFile {
		return ErrWrongType
	}
	fs, err := v.fsFor(ino.Dev)
	if err != 0 {
		return err
	}
	return fs.Open(ino)
}

// Close mirrors Open's dispatch.
func (v *VFS) Close(ino *Inode) Error {
	if ino.Dev == rootDev {
		return 0
	}
	if ino.Kind != KindDevice && ino.Kind != KindFile {
		return ErrWrongType
	}
	fs, err := v.fsFor(ino.Dev)
	if err != 0 {
		return err
	}
	return fs.Close(ino)
}

// Read forwards to the owning filesystem for file/device inodes.
func (v *VFS) Read(ino *Inode, offset uint64, buf []byte) (int, Error) {
	if ino.Kind != KindDevice && ino.Kind != KindFile {
		return 0, ErrWrongType
	}
	fs, err := v.fsFor(ino.Dev)
	if err != 0 {
		return 0, err
	}
	return fs.Read(ino, offset, buf)
}

// Write mirrors Read's dispatch.
func (v *VFS) Write(ino *Inode, offset uint64, buf []byte) (int, Error) {
	if ino.Kind != KindDevice && ino.Kind != KindFile {
		return 0, ErrWrongType
	}
	fs, err := v.fsFor(ino.Dev)
	if err != 0 {
		return 0, err
	}
	return fs.Write(ino, offset, buf)
}

// Readdir returns ino's directory entries. The root inode answers
// from the VFS's own mount table; a mountpoint inode redirects into
// the filesystem it points at; any other directory forwards to its
// owning filesystem.
func (v *VFS) Readdir(ino *Inode) ([]DirectoryEntry, Error) {
	if ino.Dev == rootDev && ino.Ino == 0 {
		v.mu.RLock()
		defer v.mu.RUnlock()
		out := make([]DirectoryEntry, len(v.mounts))
		copy(out, v.mounts)
		return out, 0
	}
	if ino.Kind == KindMountpoint {
		fs, err := v.fsFor(ino.MountDev)
		if err != 0 {
			return nil, err
		}
		target, err := fs.LookupInode(ino.MountDev, ino.MountIno)
		if err != 0 {
			return nil, err
		}
		return fs.Readdir(target)
	}
	if ino.Kind != KindDirectory {
		return nil, ErrWrongType
	}
	fs, err := v.fsFor(ino.Dev)
	if err != 0 {
		return nil, err
	}
	return fs.Readdir(ino)
}

// LookupInode resolves (dev, ino) to an *Inode, routing by device id
// the way vfs.rs's VirtualFileSystem::inode does; dev 0 is always the
// VFS's own root.
func (v *VFS) LookupInode(dev, ino uint32) (*Inode, Error) {
	if dev == rootDev {
		return v.Root(), 0
	}
	fs, err := v.fsFor(dev)
	if err != 0 {
		return nil, err
	}
	return fs.LookupInode(dev, ino)
}

// Traverse resolves path relative to root by repeatedly calling
// Readdir then LookupInode, one path segment at a time — a direct
// translation of traverse_fs's path.split("/").fold (spec §4.4).
// Concurrent calls resolving the same (dev, ino, segment) coalesce
// onto a single Readdir+LookupInode round trip via singleflight.
func (v *VFS) Traverse(root *Inode, path string) (*Inode, Error) {
	cur := root
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		key := traverseKey(cur, seg)
		res, err, _ := v.group.Do(key, func() (interface{}, error) {
			entries, verr := v.Readdir(cur)
			if verr != 0 {
				return nil, verr
			}
			for _, e := range entries {
				if e.Name == seg {
					next, lerr := v.LookupInode(e.Dev, e.Ino)
					if lerr != 0 {
						return nil, lerr
					}
					return next, nil
				}
			}
			return nil, ErrNotFound
		})
		if err != nil {
			return nil, err.(Error)
		}
		cur = res.(*Inode)
	}
	return cur, 0
}

func traverseKey(cur *Inode, seg string) string {
	var b strings.Builder
	b.WriteString(seg)
	b.WriteByte('\x00')
	writeUint32(&b, cur.Dev)
	b.WriteByte('\x00')
	writeUint32(&b, cur.Ino)
	return b.String()
}

func writeUint32(b *strings.Builder, v uint32) {
	const hex = "0123456789abcdef"
	for shift := 28; shift >= 0; shift -= 4 {
		b.WriteByte(hex[(v>>uint(shift))&0xf])
	}
}
