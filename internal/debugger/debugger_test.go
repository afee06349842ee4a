// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import "testing"

// fakeHW is a hwProgrammer that records calls instead of touching real
// debug registers, so the FSM in debugger.go can be exercised without
// a live ARM64/Linux/Windows target.
type fakeHW struct {
	singleStep      bool
	closed          bool
	watchCalls      []int
	breakCalls      []int
	clearWatchCalls []int
	clearBreakCalls []int
	disableCall     []string
	enableCall      []string
}

func (f *fakeHW) programWatch(i int, slot WatchpointSlot) error {
	f.watchCalls = append(f.watchCalls, i)
	return nil
}
func (f *fakeHW) programBreak(i int, slot BreakpointSlot) error {
	f.breakCalls = append(f.breakCalls, i)
	return nil
}
func (f *fakeHW) clearWatch(i int) error {
	f.clearWatchCalls = append(f.clearWatchCalls, i)
	return nil
}
func (f *fakeHW) clearBreak(i int) error {
	f.clearBreakCalls = append(f.clearBreakCalls, i)
	return nil
}
func (f *fakeHW) disableWatchOnCurrentThread(i int) error {
	f.disableCall = append(f.disableCall, "watch")
	return nil
}
func (f *fakeHW) enableWatchOnCurrentThread(i int) error {
	f.enableCall = append(f.enableCall, "watch")
	return nil
}
func (f *fakeHW) disableBreakOnCurrentThread(i int) error {
	f.disableCall = append(f.disableCall, "break")
	return nil
}
func (f *fakeHW) enableBreakOnCurrentThread(i int) error {
	f.enableCall = append(f.enableCall, "break")
	return nil
}
func (f *fakeHW) setSingleStep(enabled bool) error {
	f.singleStep = enabled
	return nil
}
func (f *fakeHW) close() error {
	f.closed = true
	return nil
}

func newTestDebugger(notify NotifyFunc) (*Debugger, *fakeHW) {
	hw := &fakeHW{}
	d := &Debugger{pid: 1, hw: hw, notify: notify}
	return d, hw
}

func TestSetWatchpointIdempotent(t *testing.T) {
	d, hw := newTestDebugger(nil)
	if s := d.SetWatchpoint(0x1000, 4, Write); s != KernSuccess {
		t.Fatalf("first SetWatchpoint = %v, want success", s)
	}
	if s := d.SetWatchpoint(0x1000, 4, Write); s != KernSuccess {
		t.Fatalf("duplicate SetWatchpoint = %v, want success (idempotent)", s)
	}
	if len(hw.watchCalls) != 1 {
		t.Errorf("programWatch called %d times, want 1 (idempotent call must not reprogram)", len(hw.watchCalls))
	}
}

func TestSetWatchpointBadSize(t *testing.T) {
	d, _ := newTestDebugger(nil)
	if s := d.SetWatchpoint(0x1000, 3, Write); s != KernInvalidArgument {
		t.Errorf("SetWatchpoint(size=3) = %v, want KernInvalidArgument", s)
	}
}

func TestSetWatchpointExhaustsSlots(t *testing.T) {
	d, _ := newTestDebugger(nil)
	for i := 0; i < maxWatchpoints; i++ {
		addr := uint64(0x1000 + i*8)
		if s := d.SetWatchpoint(addr, 4, Write); s != KernSuccess {
			t.Fatalf("SetWatchpoint(%d) = %v, want success", i, s)
		}
	}
	if s := d.SetWatchpoint(0x9000, 4, Write); s != KernResourceShortage {
		t.Errorf("SetWatchpoint past capacity = %v, want KernResourceShortage", s)
	}
}

func TestRemoveWatchpointUnknown(t *testing.T) {
	d, _ := newTestDebugger(nil)
	if s := d.RemoveWatchpoint(0xdead); s != KernInvalidArgument {
		t.Errorf("RemoveWatchpoint(unknown) = %v, want KernInvalidArgument", s)
	}
}

func TestSetBreakpointRequiresPositiveHitCount(t *testing.T) {
	d, _ := newTestDebugger(nil)
	if s := d.SetBreakpoint(0x2000, 0); s != KernInvalidArgument {
		t.Errorf("SetBreakpoint(targetCount=0) = %v, want KernInvalidArgument", s)
	}
}

func TestWatchpointFSMRoundTrip(t *testing.T) {
	var events []Event
	d, hw := newTestDebugger(func(ev Event) { events = append(events, ev) })

	if s := d.SetWatchpoint(0x3000, 4, Write); s != KernSuccess {
		t.Fatalf("SetWatchpoint: %v", s)
	}
	if d.InStep() {
		t.Fatal("InStep() = true before any hit")
	}

	if s := d.HandleHit(0x4000, 0x3001); s != KernSuccess {
		t.Fatalf("HandleHit (fresh watch hit): %v", s)
	}
	if !d.InStep() {
		t.Fatal("InStep() = false immediately after a watch hit; FSM should be mid-step")
	}
	if !hw.singleStep {
		t.Error("setSingleStep(true) was not recorded after a watch hit")
	}
	if len(events) != 1 || events[0].Kind != "watch" {
		t.Fatalf("events = %+v, want one watch event", events)
	}

	if s := d.HandleHit(0x4004, 0); s != KernSuccess {
		t.Fatalf("HandleHit (completing the single step): %v", s)
	}
	if d.InStep() {
		t.Error("InStep() = true after the completing single-step exception; want back to None")
	}
	if hw.singleStep {
		t.Error("setSingleStep(false) was not recorded after completing the step")
	}
	if len(events) != 2 || events[1].Kind != "resumed" {
		t.Fatalf("events = %+v, want a second 'resumed' event", events)
	}
}

func TestBreakpointFiresOnlyAtTargetCount(t *testing.T) {
	var events []Event
	d, _ := newTestDebugger(func(ev Event) { events = append(events, ev) })

	if s := d.SetBreakpoint(0x5000, 3); s != KernSuccess {
		t.Fatalf("SetBreakpoint: %v", s)
	}

	// First two hits: below target count, no notification, but the FSM
	// still single-steps past the instruction each time.
	for i := 0; i < 2; i++ {
		if s := d.HandleHit(0x5000, 0); s != KernSuccess {
			t.Fatalf("HandleHit #%d: %v", i, s)
		}
		if len(events) != 0 {
			t.Fatalf("events fired before target hit count reached: %+v", events)
		}
		if s := d.HandleHit(0x5000, 0); s != KernSuccess { // completes the step
			t.Fatalf("HandleHit (complete step) #%d: %v", i, s)
		}
	}

	if s := d.HandleHit(0x5000, 0); s != KernSuccess {
		t.Fatalf("HandleHit (target hit): %v", s)
	}
	if len(events) != 1 || events[0].Kind != "break" {
		t.Fatalf("events = %+v, want exactly one break event at the target hit count", events)
	}
}

func TestUsedSlotCount(t *testing.T) {
	d, _ := newTestDebugger(nil)
	d.SetWatchpoint(0x1000, 4, Write)
	d.SetBreakpoint(0x2000, 1)
	d.SetBreakpoint(0x2008, 1)

	watch, brk := d.UsedSlotCount()
	if watch != 1 || brk != 2 {
		t.Errorf("UsedSlotCount() = (%d, %d), want (1, 2)", watch, brk)
	}
}

func TestBasFor(t *testing.T) {
	cases := []struct {
		addr uint64
		size int
		want uint8
	}{
		{0x1000, 4, 0x0f},
		{0x1004, 4, 0xf0},
		{0x1000, 8, 0xff},
		{0x1002, 2, 0x0c},
	}
	for _, c := range cases {
		if got := basFor(c.addr, c.size); got != c.want {
			t.Errorf("basFor(%#x, %d) = %#x, want %#x", c.addr, c.size, got, c.want)
		}
	}
}

func TestLscFor(t *testing.T) {
	cases := []struct {
		typ  WatchType
		want uint8
	}{
		{Read, 0b01},
		{Write, 0b10},
		{ReadWrite, 0b11},
	}
	for _, c := range cases {
		if got := lscFor(c.typ); got != c.want {
			t.Errorf("lscFor(%v) = %#b, want %#b", c.typ, got, c.want)
		}
	}
}
