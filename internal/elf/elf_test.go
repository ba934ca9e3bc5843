package elf

import (
	"encoding/binary"
	"testing"
)

func buildImage(t *testing.T, entry uint64, phs []ProgramHeader) []byte {
	t.Helper()
	le := binary.LittleEndian
	buf := make([]byte, headerSize+len(phs)*programHeaderSize)
	buf[0], buf[1], buf[2], buf[3] = magic0, magic1, magic2, magic3
	buf[4] = classELF64
	buf[5] = dataLSB
	le.PutUint16(buf[16:18], typeExec)
	le.PutUint16(buf[18:20], machineX8664)
	le.PutUint64(buf[24:32], entry)
	le.PutUint64(buf[32:40], headerSize)
	le.PutUint16(buf[54:56], programHeaderSize)
	le.PutUint16(buf[56:58], uint16(len(phs)))

	for i, ph := range phs {
		off := headerSize + i*programHeaderSize
		rec := buf[off : off+programHeaderSize]
		le.PutUint32(rec[0:4], ph.Type)
		le.PutUint32(rec[4:8], ph.Flags)
		le.PutUint64(rec[8:16], ph.Offset)
		le.PutUint64(rec[16:24], ph.Vaddr)
		le.PutUint64(rec[24:32], ph.Paddr)
		le.PutUint64(rec[32:40], ph.Filesz)
		le.PutUint64(rec[40:48], ph.Memsz)
		le.PutUint64(rec[48:56], ph.Align)
	}
	return buf
}

func TestParseHeaderRoundTrip(t *testing.T) {
	img := buildImage(t, 0x401000, nil)
	h, err := ParseHeader(img)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Entry != 0x401000 {
		t.Fatalf("Entry = %#x, want 0x401000", h.Entry)
	}
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	img := buildImage(t, 0, nil)
	img[0] = 0
	if _, err := ParseHeader(img); err != ErrInvalidHeader {
		t.Fatalf("err = %v, want ErrInvalidHeader", err)
	}
}

func TestParseHeaderRejectsNonExecutable(t *testing.T) {
	img := buildImage(t, 0, nil)
	binary.LittleEndian.PutUint16(img[16:18], 1) // ET_REL
	if _, err := ParseHeader(img); err != ErrInvalidHeader {
		t.Fatalf("err = %v, want ErrInvalidHeader", err)
	}
}

func TestProgramHeadersDecode(t *testing.T) {
	want := []ProgramHeader{
		{Type: PT_LOAD, Flags: PF_R | PF_X, Vaddr: 0x400000, Filesz: 0x100, Memsz: 0x200},
	}
	img := buildImage(t, 0x400000, want)
	h, err := ParseHeader(img)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	got, err := ProgramHeaders(img, h)
	if err != nil {
		t.Fatalf("ProgramHeaders: %v", err)
	}
	if len(got) != 1 || got[0].Vaddr != want[0].Vaddr || got[0].Memsz != want[0].Memsz {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
