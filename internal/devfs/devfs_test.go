package devfs

import (
	"bytes"
	"testing"

	"corvid/internal/keyboard"
	"corvid/internal/vfs"
)

type fakeWriter struct{ buf bytes.Buffer }

func (f *fakeWriter) Write(p []byte) (int, error) { return f.buf.Write(p) }

// fakeSched's YieldExecution drains the ring push queued by the test
// before returning control, simulating one scheduler round trip
// through the keyboard IRQ handler.
type fakeSched struct {
	d    *Devfs
	push []byte
}

func (s *fakeSched) YieldExecution() {
	if len(s.push) == 0 {
		return
	}
	sc := s.push[0]
	s.push = s.push[1:]
	s.d.PushScancode(sc)
}

func TestReadBlocksUntilNewline(t *testing.T) {
	out := &fakeWriter{}
	ring := &keyboard.Ring{}
	d := New(out, nil, ring, nil)
	sched := &fakeSched{d: d, push: []byte{0x1E, 0x1E, 0x1C}} // "aa\n"
	d.sched = sched

	buf := make([]byte, 16)
	n, err := d.Read(&vfs.Inode{Ino: inoConsole}, 0, buf)
	if err != 0 {
		t.Fatalf("Read err = %v", err)
	}
	if string(buf[:n]) != "aa\n" {
		t.Fatalf("Read = %q, want %q", buf[:n], "aa\n")
	}
}

func TestReadStopsAtEOFMarker(t *testing.T) {
	out := &fakeWriter{}
	ring := &keyboard.Ring{}
	d := New(out, nil, ring, nil)
	sched := &fakeSched{d: d, push: []byte{keyboard.ScancodeEOF}}
	d.sched = sched

	buf := make([]byte, 16)
	n, err := d.Read(&vfs.Inode{Ino: inoConsole}, 0, buf)
	if err != 0 {
		t.Fatalf("Read err = %v", err)
	}
	if n != 1 || buf[0] != 0 {
		t.Fatalf("Read = %v, want [0]", buf[:n])
	}
}

func TestWriteForwardsToConsole(t *testing.T) {
	out := &fakeWriter{}
	d := New(out, nil, &keyboard.Ring{}, nil)
	n, err := d.Write(&vfs.Inode{Ino: inoConsole}, 0, []byte("hi"))
	if err != 0 || n != 2 {
		t.Fatalf("Write = %d,%v", n, err)
	}
	if out.buf.String() != "hi" {
		t.Fatalf("console got %q, want %q", out.buf.String(), "hi")
	}
}

func TestReaddirListsConsoleOnly(t *testing.T) {
	d := New(&fakeWriter{}, nil, &keyboard.Ring{}, nil)
	entries, err := d.Readdir(&vfs.Inode{Ino: inoRoot, Kind: vfs.KindDirectory})
	if err != 0 {
		t.Fatalf("Readdir err = %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "console" {
		t.Fatalf("entries = %v, want just console", entries)
	}
}

func TestReaddirIncludesProfWhenWired(t *testing.T) {
	d := New(&fakeWriter{}, nil, &keyboard.Ring{}, func() []byte { return []byte("x") })
	entries, err := d.Readdir(&vfs.Inode{Ino: inoRoot, Kind: vfs.KindDirectory})
	if err != 0 {
		t.Fatalf("Readdir err = %v", err)
	}
	if len(entries) != 2 || entries[1].Name != "prof" {
		t.Fatalf("entries = %v, want console+prof", entries)
	}
}

func TestLookupInodeResolvesConsole(t *testing.T) {
	d := New(&fakeWriter{}, nil, &keyboard.Ring{}, nil)
	ino, err := d.LookupInode(7, inoConsole)
	if err != 0 {
		t.Fatalf("LookupInode err = %v", err)
	}
	if ino.Kind != vfs.KindDevice || ino.Major != consoleMajor || ino.Minor != consoleMinor {
		t.Fatalf("console inode = %+v", ino)
	}
}
