// Package kprof serves the D_PROF device (biscuit's defs.device.go,
// silently dropped by the distilled spec) as a devfs pseudo-file:
// reading it snapshots syscall-dispatch and scheduler-switch counters
// into a pprof profile.Profile and returns the gzip-encoded bytes,
// the same wire format `go tool pprof` reads directly.
//
// Grounded on biscuit's own use of runtime/pprof for its "prof" device
// (src/main.go's Perfmon-gated CPU profile), generalized from
// runtime/pprof's opaque CPU samples to a hand-built profile.Profile
// whose samples are this kernel's own syscall/scheduler counters.
package kprof

import (
	"bytes"
	"sync"

	"github.com/google/pprof/profile"
)

// Counters is the minimal set of countable events this core tracks;
// the syscall dispatcher records into them directly rather than
// through a channel, since it runs with interrupts disabled and cannot
// block on a profiler goroutine that does not exist in this
// single-address-space kernel. The scheduler does not call
// RecordSwitch, so the switch count stays zero in the kernel as built.
type Counters struct {
	mu sync.Mutex

	syscallCount    map[string]int64
	syscallNanos    map[string]int64
	schedulerSwitch int64
}

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{
		syscallCount: make(map[string]int64),
		syscallNanos: make(map[string]int64),
	}
}

// RecordSyscall adds one dispatch of name, having taken durationNanos.
func (c *Counters) RecordSyscall(name string, durationNanos int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syscallCount[name]++
	c.syscallNanos[name] += durationNanos
}

// RecordSwitch counts one scheduler context switch.
func (c *Counters) RecordSwitch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedulerSwitch++
}

// Snapshot builds a pprof profile.Profile out of the counters
// accumulated so far: one sample per syscall name (value = count,
// duration), plus a synthetic "scheduler" sample carrying the switch
// count. Safe to call repeatedly; it does not reset the counters.
func (c *Counters) Snapshot() *profile.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "count", Unit: "count"},
			{Type: "nanoseconds", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "dispatch", Unit: "count"},
		Period:     1,
	}

	funcID := uint64(1)
	locID := uint64(1)
	addSample := func(name string, count, nanos int64) {
		fn := &profile.Function{ID: funcID, Name: name, SystemName: name}
		loc := &profile.Location{ID: locID, Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{count, nanos},
			Label:    map[string][]string{"kind": {"syscall"}},
		})
		funcID++
		locID++
	}

	for name, count := range c.syscallCount {
		addSample(name, count, c.syscallNanos[name])
	}
	if c.schedulerSwitch > 0 {
		fn := &profile.Function{ID: funcID, Name: "scheduler.switch", SystemName: "scheduler.switch"}
		loc := &profile.Location{ID: locID, Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{c.schedulerSwitch, 0},
			Label:    map[string][]string{"kind": {"scheduler"}},
		})
	}
	return p
}

// Encode gzip-encodes a Snapshot via profile.Profile.Write, the exact
// bytes devfs's /dev/prof read returns and `go tool pprof` consumes.
func (c *Counters) Encode() []byte {
	var buf bytes.Buffer
	if err := c.Snapshot().Write(&buf); err != nil {
		return nil
	}
	return buf.Bytes()
}
