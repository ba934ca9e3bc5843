package kprof

import (
	"bytes"
	"testing"

	"github.com/google/pprof/profile"
)

func TestSnapshotIncludesSyscallAndSchedulerSamples(t *testing.T) {
	c := NewCounters()
	c.RecordSyscall("write", 1200)
	c.RecordSyscall("write", 800)
	c.RecordSwitch()
	c.RecordSwitch()

	p := c.Snapshot()
	if len(p.Sample) != 2 {
		t.Fatalf("got %d samples, want 2 (write, scheduler)", len(p.Sample))
	}

	var sawWrite, sawSched bool
	for _, s := range p.Sample {
		switch s.Location[0].Line[0].Function.Name {
		case "write":
			sawWrite = true
			if s.Value[0] != 2 || s.Value[1] != 2000 {
				t.Fatalf("write sample = %v, want [2 2000]", s.Value)
			}
		case "scheduler.switch":
			sawSched = true
			if s.Value[0] != 2 {
				t.Fatalf("scheduler sample = %v, want [2 ...]", s.Value)
			}
		}
	}
	if !sawWrite || !sawSched {
		t.Fatalf("missing expected samples: write=%v scheduler=%v", sawWrite, sawSched)
	}
}

func TestEncodeProducesParseableGzipProfile(t *testing.T) {
	c := NewCounters()
	c.RecordSyscall("read", 500)

	data := c.Encode()
	if len(data) == 0 {
		t.Fatal("Encode returned no bytes")
	}
	got, err := profile.Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("profile.Parse(Encode()) failed: %v", err)
	}
	if len(got.Sample) != 1 {
		t.Fatalf("parsed profile has %d samples, want 1", len(got.Sample))
	}
}

func TestSnapshotOmitsSchedulerSampleWhenNoSwitches(t *testing.T) {
	c := NewCounters()
	c.RecordSyscall("open", 10)
	p := c.Snapshot()
	for _, s := range p.Sample {
		if s.Location[0].Line[0].Function.Name == "scheduler.switch" {
			t.Fatal("expected no scheduler sample when RecordSwitch was never called")
		}
	}
}
