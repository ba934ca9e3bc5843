package ramdisk

import (
	"testing"

	"golang.org/x/tools/txtar"

	"corvid/internal/vfs"
)

// buildUstar packs files into a minimal ustar archive compatible with
// Parse: only the name and size header fields Parse reads are filled,
// unlike the full archive/tar headers cmd/mkramdisk writes.
func buildUstar(files []file) []byte {
	var out []byte
	for _, f := range files {
		hdr := make([]byte, blockSize)
		copy(hdr[nameOffset:nameOffset+nameLen], f.name)
		size := len(f.data)
		octal := []byte(padOctal(size))
		copy(hdr[sizeOffset:sizeOffset+sizeLen], octal)
		out = append(out, hdr...)
		out = append(out, f.data...)
		pad := roundUp512(size) - size
		out = append(out, make([]byte, pad)...)
	}
	out = append(out, make([]byte, blockSize)...) // terminator header
	return out
}

func padOctal(n int) string {
	s := ""
	if n == 0 {
		s = "0"
	}
	for n > 0 {
		s = string(rune('0'+n%8)) + s
		n /= 8
	}
	for len(s) < sizeLen-1 {
		s = "0" + s
	}
	return s
}

// fixtureFiles decodes a txtar fixture (one `-- name --` section per
// archive member) into ustar file entries, so tests describe ramdisk
// contents as readable text instead of committing binary .tar blobs.
func fixtureFiles(t *testing.T, txt string) []file {
	t.Helper()
	arc := txtar.Parse([]byte(txt))
	var out []file
	for _, f := range arc.Files {
		out = append(out, file{name: f.Name, data: f.Data})
	}
	return out
}

const sampleFixture = `
-- init/init --
#!ELF-ish-placeholder
-- hello.txt --
hello ramdisk
`

func TestParseListsAllFilesFromRoot(t *testing.T) {
	r := Parse(2, buildUstar(fixtureFiles(t, sampleFixture)))
	root, err := r.LookupInode(2, 0)
	if err != 0 {
		t.Fatalf("LookupInode root: %v", err)
	}
	entries, err := r.Readdir(root)
	if err != 0 {
		t.Fatalf("Readdir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
}

func TestReadReturnsFileContents(t *testing.T) {
	r := Parse(2, buildUstar(fixtureFiles(t, sampleFixture)))
	root, _ := r.LookupInode(2, 0)
	entries, _ := r.Readdir(root)
	var target vfs.DirectoryEntry
	for _, e := range entries {
		if e.Name == "hello.txt" {
			target = e
		}
	}
	ino, err := r.LookupInode(target.Dev, target.Ino)
	if err != 0 {
		t.Fatalf("LookupInode file: %v", err)
	}
	buf := make([]byte, 64)
	n, err := r.Read(ino, 0, buf)
	if err != 0 {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello ramdisk\n" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestWriteFailsWrongType(t *testing.T) {
	r := Parse(2, buildUstar(fixtureFiles(t, sampleFixture)))
	root, _ := r.LookupInode(2, 0)
	if _, err := r.Write(root, 0, []byte("x")); err != vfs.ErrWrongType {
		t.Fatalf("err = %v, want ErrWrongType", err)
	}
}

func TestReadPastEndOfFileReturnsZero(t *testing.T) {
	r := Parse(2, buildUstar(fixtureFiles(t, sampleFixture)))
	root, _ := r.LookupInode(2, 0)
	entries, _ := r.Readdir(root)
	ino, _ := r.LookupInode(entries[0].Dev, entries[0].Ino)
	buf := make([]byte, 4)
	n, err := r.Read(ino, 10_000, buf)
	if err != 0 || n != 0 {
		t.Fatalf("Read past EOF: n=%d err=%v", n, err)
	}
}
