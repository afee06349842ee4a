// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package debugger multiplexes the fixed set of hardware watchpoint
// and breakpoint slots across all threads of a target process and
// runs the per-thread single-step state machine that resumes execution
// past a trigger without losing it. The state machine, slot
// bookkeeping, and concurrency rules here are GOOS/GOARCH-independent;
// the actual register programming is delegated to a small hwProgrammer
// implemented per platform (debugger_darwin_arm64.go is the reference
// configuration; debugger_linux_arm64.go and debugger_windows_amd64.go
// substitute their own debug-register mechanisms; debugger_unsupported.go
// covers everything else).
package debugger

import (
	"sync"

	"github.com/inferior/nativedbg/internal/plat"
)

// Status mirrors the handful of kernel return codes the exported
// surface passes through to the host unchanged.
type Status int

const (
	KernSuccess Status = iota
	KernInvalidArgument
	KernResourceShortage
	KernFailure
)

func (s Status) Error() string {
	switch s {
	case KernSuccess:
		return "success"
	case KernInvalidArgument:
		return "invalid argument"
	case KernResourceShortage:
		return "resource shortage"
	default:
		return "failure"
	}
}

// WatchType is the access type that arms a watchpoint.
type WatchType int

const (
	Read WatchType = iota
	Write
	ReadWrite
)

const (
	maxWatchpoints  = 4  // ARM64 DBGWCR hardware limit
	maxBreakpoints  = 16 // ARM64 DBGBCR hardware limit
	validWatchSizes = "{1,2,4,8}"
)

func validWatchSize(size int) bool {
	switch size {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

// WatchpointSlot is one hardware watchpoint register's state.
type WatchpointSlot struct {
	Used    bool
	Address uint64
	Size    int
	Type    WatchType
}

// BreakpointSlot is one hardware breakpoint register's state.
type BreakpointSlot struct {
	Used        bool
	Address     uint64
	HitCount    int
	TargetCount int
}

// stepMode is the Debugger's single-step FSM state: None, or
// mid-step for exactly one watch or break slot.
type stepMode struct {
	kind  stepKind
	index int
}

type stepKind int

const (
	stepNone stepKind = iota
	stepWatch
	stepBreak
)

// Event describes a notification delivered to the host: a watchpoint
// or breakpoint firing, or the "resumed" event after a completed
// single step.
type Event struct {
	Kind    string // "watch", "break", "resumed"
	Index   int
	Address uint64
	PC      uint64
}

// NotifyFunc is the host callback invoked on watch/break/resumed
// events. It must not block the exception server for long: it is
// called with the Debugger's mutex held, which the exception server
// thread keeps for the whole of HandleHit.
type NotifyFunc func(Event)

// hwProgrammer is implemented once per platform and does the actual
// debug-register programming; everything else in this package is
// bookkeeping and the FSM.
type hwProgrammer interface {
	// programWatch writes DBGWVR[i]/DBGWCR[i] (or the platform
	// equivalent) on every thread of the task.
	programWatch(i int, slot WatchpointSlot) error
	// programBreak writes DBGBVR[i]/DBGBCR[i] on every thread.
	programBreak(i int, slot BreakpointSlot) error
	// clearWatch/clearBreak disable slot i on every thread.
	clearWatch(i int) error
	clearBreak(i int) error
	// disable*/enable*OnCurrentThread toggle a single slot on the one
	// thread that just took the exception, used by the FSM's
	// disable-then-single-step-then-reenable dance.
	disableWatchOnCurrentThread(i int) error
	enableWatchOnCurrentThread(i int) error
	disableBreakOnCurrentThread(i int) error
	enableBreakOnCurrentThread(i int) error
	// setSingleStep arms or disarms single-step mode on the thread
	// that is about to be resumed (PSTATE.SS on ARM64, EFLAGS.TF on
	// x86, PTRACE_SINGLESTEP on Linux).
	setSingleStep(enabled bool) error
	// close tears down the exception port / tracer thread.
	close() error
}

// Debugger is the singleton per-process attachment: it owns the
// target task handle (via hw), the two slot arrays, and the
// single-step mode field.
type Debugger struct {
	mu sync.Mutex

	pid    int
	hw     hwProgrammer
	notify NotifyFunc

	watch [maxWatchpoints]WatchpointSlot
	brk   [maxBreakpoints]BreakpointSlot
	step  stepMode

	closed bool
}

var (
	registryMu sync.Mutex
	registry   = map[int]*Debugger{}
)

// New attaches to pid, or returns the existing attachment if one is
// already live: a second attach to the same pid is a no-op success
// and allocates no second exception port.
func New(pid int, notify NotifyFunc) (*Debugger, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if d, ok := registry[pid]; ok {
		return d, nil
	}

	hw, err := newHWProgrammer(pid)
	if err != nil {
		return nil, err
	}
	d := &Debugger{pid: pid, hw: hw, notify: notify}
	// A programmer that services an exception port needs the Debugger
	// to dispatch hits into; hand it over before any slot can be armed.
	if b, ok := hw.(interface{ bind(*Debugger) }); ok {
		b.bind(d)
	}
	registry[pid] = d
	return d, nil
}

// Get returns the existing attachment for pid, if any.
func Get(pid int) (*Debugger, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	d, ok := registry[pid]
	return d, ok
}

// Close tears down the attachment: the registry entry is removed and
// hw.close stops the exception server (the Linux and Windows
// programmers wait for their server goroutine to return; the Darwin
// one signals its goroutine and tears the port down without waiting).
// The mutex is released before hw.close so a server goroutine mid-way
// through HandleHit can finish and stand down.
func (d *Debugger) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	registryMu.Lock()
	delete(registry, d.pid)
	registryMu.Unlock()
	return d.hw.close()
}

// SetWatchpoint installs a watchpoint: idempotent on a duplicate
// address, lowest-free-index wins, size restricted to {1,2,4,8}.
func (d *Debugger) SetWatchpoint(addr uint64, size int, typ WatchType) Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return KernFailure
	}
	for i := range d.watch {
		if d.watch[i].Used && d.watch[i].Address == addr {
			return KernSuccess // idempotent: already installed
		}
	}
	if !validWatchSize(size) {
		plat.Log(plat.ERROR, "debugger: set_watchpoint addr=%#x: bad size %d, want one of %s", addr, size, validWatchSizes)
		return KernInvalidArgument
	}

	free := -1
	for i := range d.watch {
		if !d.watch[i].Used {
			free = i
			break
		}
	}
	if free < 0 {
		plat.Log(plat.WARN, "debugger: set_watchpoint addr=%#x: no free slot", addr)
		return KernResourceShortage
	}

	slot := WatchpointSlot{Used: true, Address: addr, Size: size, Type: typ}
	if err := d.hw.programWatch(free, slot); err != nil {
		plat.Log(plat.ERROR, "debugger: programWatch(%d): %v", free, err)
		return KernFailure
	}
	d.watch[free] = slot
	return KernSuccess
}

// RemoveWatchpoint clears the slot matching addr, if any.
func (d *Debugger) RemoveWatchpoint(addr uint64) Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return KernFailure
	}
	for i := range d.watch {
		if d.watch[i].Used && d.watch[i].Address == addr {
			if err := d.hw.clearWatch(i); err != nil {
				plat.Log(plat.ERROR, "debugger: clearWatch(%d): %v", i, err)
				return KernFailure
			}
			d.watch[i] = WatchpointSlot{}
			return KernSuccess
		}
	}
	return KernInvalidArgument
}

// SetBreakpoint installs a breakpoint with one-shot semantics
// configurable via targetCount: an N-skip breakpoint fires the host
// callback only once hitCount reaches targetCount.
func (d *Debugger) SetBreakpoint(addr uint64, targetCount int) Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return KernFailure
	}
	for i := range d.brk {
		if d.brk[i].Used && d.brk[i].Address == addr {
			return KernSuccess
		}
	}
	if targetCount < 1 {
		return KernInvalidArgument
	}

	free := -1
	for i := range d.brk {
		if !d.brk[i].Used {
			free = i
			break
		}
	}
	if free < 0 {
		plat.Log(plat.WARN, "debugger: set_breakpoint addr=%#x: no free slot", addr)
		return KernResourceShortage
	}

	slot := BreakpointSlot{Used: true, Address: addr, TargetCount: targetCount}
	if err := d.hw.programBreak(free, slot); err != nil {
		plat.Log(plat.ERROR, "debugger: programBreak(%d): %v", free, err)
		return KernFailure
	}
	d.brk[free] = slot
	return KernSuccess
}

// RemoveBreakpoint clears the slot matching addr, if any.
func (d *Debugger) RemoveBreakpoint(addr uint64) Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return KernFailure
	}
	for i := range d.brk {
		if d.brk[i].Used && d.brk[i].Address == addr {
			if err := d.hw.clearBreak(i); err != nil {
				plat.Log(plat.ERROR, "debugger: clearBreak(%d): %v", i, err)
				return KernFailure
			}
			d.brk[i] = BreakpointSlot{}
			return KernSuccess
		}
	}
	return KernInvalidArgument
}

// UsedSlotCount reports the number of slots currently in use.
func (d *Debugger) UsedSlotCount() (watch, brk int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.watch {
		if d.watch[i].Used {
			watch++
		}
	}
	for i := range d.brk {
		if d.brk[i].Used {
			brk++
		}
	}
	return watch, brk
}

// HandleHit dispatches one exception message. dataAddr is only
// meaningful for a watchpoint hit (the faulting data address); pc is
// the faulting instruction address.
func (d *Debugger) HandleHit(pc, dataAddr uint64) Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.step.kind {
	case stepNone:
		return d.handleFreshHit(pc, dataAddr)
	case stepWatch:
		return d.completeWatchStep(d.step.index)
	case stepBreak:
		return d.completeBreakStep(d.step.index)
	}
	return KernFailure
}

func (d *Debugger) handleFreshHit(pc, dataAddr uint64) Status {
	if i, ok := d.matchWatch(dataAddr); ok {
		return d.handleWatchHit(i, pc)
	}
	if i, ok := d.matchBreak(pc); ok {
		return d.handleBreakHit(i, pc)
	}
	plat.Log(plat.WARN, "debugger: exception matched no installed slot, pc=%#x data=%#x", pc, dataAddr)
	return KernFailure
}

func (d *Debugger) matchWatch(addr uint64) (int, bool) {
	for i := range d.watch {
		if d.watch[i].Used && withinWatch(d.watch[i], addr) {
			return i, true
		}
	}
	return 0, false
}

func withinWatch(s WatchpointSlot, addr uint64) bool {
	return addr >= s.Address && addr < s.Address+uint64(s.Size)
}

func (d *Debugger) matchBreak(pc uint64) (int, bool) {
	for i := range d.brk {
		if d.brk[i].Used && d.brk[i].Address == pc {
			return i, true
		}
	}
	return 0, false
}

// handleWatchHit is the "None -> watchpoint i fires" transition:
// notify, disable the slot on this thread, arm single-step,
// transition to Watchpoint(i).
func (d *Debugger) handleWatchHit(i int, pc uint64) Status {
	slot := d.watch[i]
	if d.notify != nil {
		d.notify(Event{Kind: "watch", Index: i, Address: slot.Address, PC: pc})
	}
	if err := d.hw.disableWatchOnCurrentThread(i); err != nil {
		plat.Log(plat.ERROR, "debugger: disableWatchOnCurrentThread(%d): %v", i, err)
		return KernFailure
	}
	if err := d.hw.setSingleStep(true); err != nil {
		plat.Log(plat.ERROR, "debugger: setSingleStep(true): %v", err)
		return KernFailure
	}
	d.step = stepMode{kind: stepWatch, index: i}
	return KernSuccess
}

// handleBreakHit is the "None -> breakpoint i fires" transition:
// hit_count++, notify only when hit_count==target_count, regardless
// disable the slot and single-step.
func (d *Debugger) handleBreakHit(i int, pc uint64) Status {
	d.brk[i].HitCount++
	if d.brk[i].HitCount == d.brk[i].TargetCount && d.notify != nil {
		d.notify(Event{Kind: "break", Index: i, Address: d.brk[i].Address, PC: pc})
	}
	if err := d.hw.disableBreakOnCurrentThread(i); err != nil {
		plat.Log(plat.ERROR, "debugger: disableBreakOnCurrentThread(%d): %v", i, err)
		return KernFailure
	}
	if err := d.hw.setSingleStep(true); err != nil {
		plat.Log(plat.ERROR, "debugger: setSingleStep(true): %v", err)
		return KernFailure
	}
	d.step = stepMode{kind: stepBreak, index: i}
	return KernSuccess
}

// completeWatchStep is the "Watchpoint(i) -> single-step exception"
// transition: re-enable slot i, clear SS, notify "resumed", return to
// None.
func (d *Debugger) completeWatchStep(i int) Status {
	if err := d.hw.enableWatchOnCurrentThread(i); err != nil {
		plat.Log(plat.ERROR, "debugger: enableWatchOnCurrentThread(%d): %v", i, err)
		return KernFailure
	}
	if err := d.hw.setSingleStep(false); err != nil {
		plat.Log(plat.ERROR, "debugger: setSingleStep(false): %v", err)
		return KernFailure
	}
	if d.notify != nil {
		d.notify(Event{Kind: "resumed", Index: i, Address: d.watch[i].Address})
	}
	d.step = stepMode{}
	return KernSuccess
}

// completeBreakStep is the "Breakpoint(i) -> single-step exception"
// transition: re-enable slot i, clear SS, return to None. Breakpoint
// completions carry no "resumed" notification; the host already got
// its callback on the hit itself when the target count was reached.
func (d *Debugger) completeBreakStep(i int) Status {
	if err := d.hw.enableBreakOnCurrentThread(i); err != nil {
		plat.Log(plat.ERROR, "debugger: enableBreakOnCurrentThread(%d): %v", i, err)
		return KernFailure
	}
	if err := d.hw.setSingleStep(false); err != nil {
		plat.Log(plat.ERROR, "debugger: setSingleStep(false): %v", err)
		return KernFailure
	}
	d.step = stepMode{}
	return KernSuccess
}

// InStep reports whether the FSM is mid single-step, for tests
// checking that no two hits are processed without an intervening step.
func (d *Debugger) InStep() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.step.kind != stepNone
}

// basFor computes the ARM64 DBGWCR BAS (byte address select) field: a
// 1-bit-per-byte mask over the 8-byte-aligned word containing addr,
// set for the size bytes actually watched. Shared by every hardware
// debug-register platform file (Darwin, Linux substitute regset).
func basFor(addr uint64, size int) uint8 {
	offset := addr % 8
	var bas uint8
	for i := 0; i < size; i++ {
		bas |= 1 << (offset + uint64(i))
	}
	return bas
}

// lscFor maps a WatchType to the ARM64 DBGWCR LSC (load/store
// control) field: 0b01 load, 0b10 store, 0b11 either.
func lscFor(t WatchType) uint8 {
	switch t {
	case Read:
		return 0b01
	case Write:
		return 0b10
	default:
		return 0b11
	}
}
