// Package ramdisk parses a ustar archive at boot and serves files by
// index (spec §4.4.2). Grounded on
// original_source/kernel/src/filesystem/initrd.rs's Initrd: one flat
// inode map, inode 0 the root directory enumerating every file, files
// indexed sequentially from 1 in archive order.
package ramdisk

import (
	"strconv"
	"strings"

	"corvid/internal/vfs"
)

const (
	blockSize  = 512
	nameOffset = 0
	nameLen    = 100
	sizeOffset = 124
	sizeLen    = 12
)

type file struct {
	name string
	data []byte
}

// Ramdisk is the ustar-backed read-only Filesystem (spec §4.4.2).
type Ramdisk struct {
	dev     uint32
	files   []file
	entries []vfs.DirectoryEntry
}

// Parse decodes a ustar archive from image and returns a Filesystem
// ready to Mount under dev. Archive parsing stops at the first
// zero-filled header (the ustar terminator) or when fewer than one
// full header remains.
func Parse(dev uint32, image []byte) *Ramdisk {
	r := &Ramdisk{dev: dev}
	off := 0
	for off+blockSize <= len(image) {
		hdr := image[off : off+blockSize]
		if isZeroBlock(hdr) {
			break
		}
		name := cstring(hdr[nameOffset : nameOffset+nameLen])
		size := parseOctal(hdr[sizeOffset : sizeOffset+sizeLen])
		off += blockSize

		var data []byte
		if size > 0 {
			end := off + size
			if end > len(image) {
				end = len(image)
			}
			data = image[off:end]
			off += roundUp512(size)
		}
		if name == "" {
			continue
		}
		r.files = append(r.files, file{name: name, data: data})
	}
	for i, f := range r.files {
		ino := uint32(i + 1)
		r.entries = append(r.entries, vfs.DirectoryEntry{Name: f.name, Ino: ino, Dev: dev})
	}
	return r
}

func isZeroBlock(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func cstring(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func parseOctal(b []byte) int {
	s := strings.TrimRight(strings.TrimRight(string(b), "\x00"), " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0
	}
	return int(n)
}

func roundUp512(n int) int {
	return (n + blockSize - 1) &^ (blockSize - 1)
}

// Open is a no-op: the ramdisk needs no per-open state.
func (r *Ramdisk) Open(ino *vfs.Inode) vfs.Error { return 0 }

// Close is a no-op for the same reason as Open.
func (r *Ramdisk) Close(ino *vfs.Inode) vfs.Error { return 0 }

// Read returns min(len(buf), size-offset) bytes starting at offset
// (spec §4.4.2).
func (r *Ramdisk) Read(ino *vfs.Inode, offset uint64, buf []byte) (int, vfs.Error) {
	if ino.Dev != r.dev || ino.Kind != vfs.KindFile {
		return 0, vfs.ErrWrongType
	}
	f, verr := r.fileByIno(ino.Ino)
	if verr != 0 {
		return 0, verr
	}
	if offset >= uint64(len(f.data)) {
		return 0, 0
	}
	n := copy(buf, f.data[offset:])
	return n, 0
}

// Write always fails: the ramdisk is read-only (spec §4.4.2).
func (r *Ramdisk) Write(ino *vfs.Inode, offset uint64, buf []byte) (int, vfs.Error) {
	return 0, vfs.ErrWrongType
}

// Readdir returns every file's entry when called on the root
// directory inode (inode 0); any other inode is not a directory.
func (r *Ramdisk) Readdir(ino *vfs.Inode) ([]vfs.DirectoryEntry, vfs.Error) {
	if ino.Dev != r.dev || ino.Ino != 0 || ino.Kind != vfs.KindDirectory {
		return nil, vfs.ErrWrongType
	}
	out := make([]vfs.DirectoryEntry, len(r.entries))
	copy(out, r.entries)
	return out, 0
}

// LookupInode resolves an inode number to its Inode: 0 is the root
// directory, 1..len(files) are files in archive order.
func (r *Ramdisk) LookupInode(dev, ino uint32) (*vfs.Inode, vfs.Error) {
	if dev != r.dev {
		return nil, vfs.ErrWrongType
	}
	if ino == 0 {
		return &vfs.Inode{Dev: dev, Ino: 0, Kind: vfs.KindDirectory}, 0
	}
	f, verr := r.fileByIno(ino)
	if verr != 0 {
		return nil, verr
	}
	return &vfs.Inode{Dev: dev, Ino: ino, Kind: vfs.KindFile, Size: uint64(len(f.data))}, 0
}

func (r *Ramdisk) fileByIno(ino uint32) (file, vfs.Error) {
	idx := int(ino) - 1
	if idx < 0 || idx >= len(r.files) {
		return file{}, vfs.ErrNotFound
	}
	return r.files[idx], 0
}
