// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/inferior/nativedbg/internal/plat"
)

// winProgrammer substitutes DR0-DR3/DR7 for the ARM64 watch registers,
// EFLAGS.TF for PSTATE.SS, and a WaitForDebugEvent/ContinueDebugEvent
// pump for the Mach exception server. Windows has no hardware
// instruction-breakpoint registers distinct from the data registers,
// so breakpoint slots also consume a DRn here; callers past 4 total
// slots get KernResourceShortage exactly as the ARM64 configuration
// would for its own fixed capacity.
//
// x/sys/windows carries no wrappers for the debug-event APIs, so they
// are resolved from kernel32 directly.
var (
	modkernel32                   = windows.NewLazySystemDLL("kernel32.dll")
	procDebugActiveProcess        = modkernel32.NewProc("DebugActiveProcess")
	procDebugActiveProcessStop    = modkernel32.NewProc("DebugActiveProcessStop")
	procDebugSetProcessKillOnExit = modkernel32.NewProc("DebugSetProcessKillOnExit")
	procWaitForDebugEvent         = modkernel32.NewProc("WaitForDebugEvent")
	procContinueDebugEvent        = modkernel32.NewProc("ContinueDebugEvent")
)

const (
	exceptionDebugEvent   = 1
	exitProcessDebugEvent = 5

	excBreakpoint = 0x80000003
	excSingleStep = 0x80000004

	dbgContinue            = 0x00010002
	dbgExceptionNotHandled = 0x80010001
)

// exceptionRecord and debugEvent mirror EXCEPTION_RECORD and
// DEBUG_EVENT for 64-bit Windows; the event union is sized by its
// largest member, EXCEPTION_DEBUG_INFO.
type exceptionRecord struct {
	Code        uint32
	Flags       uint32
	Record      uintptr
	Address     uintptr
	NumParams   uint32
	_           uint32
	Information [15]uintptr
}

type debugEvent struct {
	Code        uint32
	ProcessID   uint32
	ThreadID    uint32
	_           uint32
	Exception   exceptionRecord
	FirstChance uint32
	_           uint32
}

type winProgrammer struct {
	pid     int
	threads []uint32

	d        *Debugger
	attached chan error
	bound    chan *Debugger
	done     chan struct{}
	srvd     chan struct{} // closed when the event pump returns

	// curThreadID is the thread whose debug event is in flight;
	// written by serve around HandleHit and read only by the methods
	// HandleHit calls back into, all on the serve goroutine.
	curThreadID uint32
}

func newHWProgrammer(pid int) (hwProgrammer, error) {
	threads, err := snapshotThreads(pid)
	if err != nil {
		return nil, err
	}
	w := &winProgrammer{
		pid:      pid,
		threads:  threads,
		attached: make(chan error),
		bound:    make(chan *Debugger, 1),
		done:     make(chan struct{}),
		srvd:     make(chan struct{}),
	}
	go w.serve()
	if err := <-w.attached; err != nil {
		return nil, err
	}
	return w, nil
}

func snapshotThreads(pid int) ([]uint32, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return nil, fmt.Errorf("debugger: CreateToolhelp32Snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var te windows.ThreadEntry32
	te.Size = uint32(unsafe.Sizeof(te))
	var out []uint32
	if err := windows.Thread32First(snap, &te); err != nil {
		return nil, err
	}
	for {
		if int(te.OwnerProcessID) == pid {
			out = append(out, te.ThreadID)
		}
		if err := windows.Thread32Next(snap, &te); err != nil {
			break
		}
	}
	return out, nil
}

// bind hands the pump its owning Debugger; events are not dispatched
// before this arrives.
func (w *winProgrammer) bind(d *Debugger) {
	w.bound <- d
}

// serve attaches as the target's debugger and pumps debug events:
// wait for an event, dispatch single-step/DRn exceptions through the
// FSM, continue the target. DebugActiveProcess and every
// WaitForDebugEvent must come from the same OS thread.
func (w *winProgrammer) serve() {
	defer close(w.srvd)
	runtime.LockOSThread()

	if r, _, e := procDebugActiveProcess.Call(uintptr(w.pid)); r == 0 {
		w.attached <- fmt.Errorf("debugger: DebugActiveProcess(%d): %v", w.pid, e)
		return
	}
	procDebugSetProcessKillOnExit.Call(0) // detaching must not kill the target
	w.attached <- nil

	select {
	case d := <-w.bound:
		w.d = d
	case <-w.done:
		procDebugActiveProcessStop.Call(uintptr(w.pid))
		return
	}

	for {
		select {
		case <-w.done:
			procDebugActiveProcessStop.Call(uintptr(w.pid))
			return
		default:
		}
		var ev debugEvent
		if r, _, _ := procWaitForDebugEvent.Call(uintptr(unsafe.Pointer(&ev)), 100); r == 0 {
			continue // timeout
		}
		cont := uintptr(dbgContinue)
		switch ev.Code {
		case exceptionDebugEvent:
			switch ev.Exception.Code {
			case excSingleStep:
				// A DRn trigger or the completing TF step; the FSM's
				// step mode tells them apart.
				pc, dataAddr := w.trapInfo(ev.ThreadID)
				w.curThreadID = ev.ThreadID
				if st := w.d.HandleHit(pc, dataAddr); st != KernSuccess {
					plat.Log(plat.WARN, "debugger: debug event at pc=%#x handled with status %v", pc, st)
				}
				w.curThreadID = 0
			case excBreakpoint:
				// The attach-time break DebugActiveProcess injects.
			default:
				cont = dbgExceptionNotHandled
			}
		case exitProcessDebugEvent:
			procContinueDebugEvent.Call(uintptr(ev.ProcessID), uintptr(ev.ThreadID), cont)
			plat.Log(plat.INFO, "debugger: target %d exited", w.pid)
			return
		}
		procContinueDebugEvent.Call(uintptr(ev.ProcessID), uintptr(ev.ThreadID), cont)
	}
}

// trapInfo reads the faulting thread's PC and, when a DRn data
// watchpoint fired, the watched address out of the matching debug
// register; DR6's low four bits name the slot. DR6 is sticky, so it
// is cleared for the next event.
func (w *winProgrammer) trapInfo(tid uint32) (pc, dataAddr uint64) {
	h, err := windows.OpenThread(windows.THREAD_GET_CONTEXT|windows.THREAD_SET_CONTEXT, false, tid)
	if err != nil {
		plat.Log(plat.WARN, "debugger: OpenThread(%d): %v", tid, err)
		return 0, 0
	}
	defer windows.CloseHandle(h)

	var ctx windows.Context
	ctx.ContextFlags = windows.CONTEXT_CONTROL | windows.CONTEXT_DEBUG_REGISTERS
	if err := windows.GetThreadContext(h, &ctx); err != nil {
		plat.Log(plat.WARN, "debugger: GetThreadContext(%d): %v", tid, err)
		return 0, 0
	}
	pc = ctx.Rip
	for i := 0; i < 4; i++ {
		if ctx.Dr6&(1<<uint(i)) != 0 {
			dataAddr = drValue(&ctx, i)
			break
		}
	}
	ctx.Dr6 = 0
	if err := windows.SetThreadContext(h, &ctx); err != nil {
		plat.Log(plat.WARN, "debugger: clear DR6 on thread %d: %v", tid, err)
	}
	return pc, dataAddr
}

func drValue(ctx *windows.Context, i int) uint64 {
	switch i {
	case 0:
		return ctx.Dr0
	case 1:
		return ctx.Dr1
	case 2:
		return ctx.Dr2
	case 3:
		return ctx.Dr3
	}
	return 0
}

// forEachThread runs f over every known thread of the target,
// suspending each for the duration of its context read/write.
// Per-thread failures are logged and the walk continues; the call
// fails only when no thread could be programmed at all.
func (w *winProgrammer) forEachThread(f func(windows.Handle) error) error {
	var firstErr error
	ok := 0
	for _, tid := range w.threads {
		h, err := windows.OpenThread(windows.THREAD_GET_CONTEXT|windows.THREAD_SET_CONTEXT|windows.THREAD_SUSPEND_RESUME, false, tid)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, err := windows.SuspendThread(h); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			windows.CloseHandle(h)
			continue
		}
		err = f(h)
		windows.ResumeThread(h)
		windows.CloseHandle(h)
		if err != nil {
			plat.Log(plat.WARN, "debugger: thread %d: %v", tid, err)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			ok++
		}
	}
	if ok == 0 && firstErr != nil {
		return firstErr
	}
	return nil
}

// programWatch/programBreak both write into DRn/DR7; Windows doesn't
// distinguish the two register files the way ARM64 does.
func (w *winProgrammer) programWatch(i int, slot WatchpointSlot) error {
	return w.forEachThread(func(h windows.Handle) error {
		return setDebugRegister(h, i, slot.Address, true, slot.Size, slot.Type)
	})
}

func (w *winProgrammer) programBreak(i int, slot BreakpointSlot) error {
	return w.forEachThread(func(h windows.Handle) error {
		return setDebugRegister(h, i, slot.Address, true, 1, -1) // -1: execute breakpoint, not a data watch
	})
}

func (w *winProgrammer) clearWatch(i int) error {
	return w.forEachThread(func(h windows.Handle) error {
		return setDebugRegister(h, i, 0, false, 0, 0)
	})
}

func (w *winProgrammer) clearBreak(i int) error {
	return w.clearWatch(i)
}

func (w *winProgrammer) disableWatchOnCurrentThread(i int) error { return w.toggleCurrent(i, false) }
func (w *winProgrammer) enableWatchOnCurrentThread(i int) error  { return w.toggleCurrent(i, true) }
func (w *winProgrammer) disableBreakOnCurrentThread(i int) error { return w.toggleCurrent(i, false) }
func (w *winProgrammer) enableBreakOnCurrentThread(i int) error  { return w.toggleCurrent(i, true) }

// toggleCurrent flips slot i's DR7 local-enable bit on the thread
// whose debug event is in flight, so the faulting instruction can be
// single-stepped without the trigger immediately re-firing.
func (w *winProgrammer) toggleCurrent(i int, enable bool) error {
	tid := w.curThreadID
	if tid == 0 {
		return fmt.Errorf("debugger: no debug event in flight")
	}
	h, err := windows.OpenThread(windows.THREAD_GET_CONTEXT|windows.THREAD_SET_CONTEXT, false, tid)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)

	var ctx windows.Context
	ctx.ContextFlags = windows.CONTEXT_DEBUG_REGISTERS
	if err := windows.GetThreadContext(h, &ctx); err != nil {
		return err
	}
	if enable {
		ctx.Dr7 |= 1 << uint(i*2)
	} else {
		ctx.Dr7 &^= 1 << uint(i*2)
	}
	return windows.SetThreadContext(h, &ctx)
}

// setSingleStep flips EFLAGS.TF on the thread whose debug event is in
// flight; the kernel raises a single-step exception after the next
// instruction it executes.
func (w *winProgrammer) setSingleStep(enabled bool) error {
	tid := w.curThreadID
	if tid == 0 {
		return fmt.Errorf("debugger: no debug event in flight")
	}
	h, err := windows.OpenThread(windows.THREAD_GET_CONTEXT|windows.THREAD_SET_CONTEXT, false, tid)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)

	const flagTrace = 0x100
	var ctx windows.Context
	ctx.ContextFlags = windows.CONTEXT_CONTROL
	if err := windows.GetThreadContext(h, &ctx); err != nil {
		return err
	}
	if enabled {
		ctx.EFlags |= flagTrace
	} else {
		ctx.EFlags &^= flagTrace
	}
	return windows.SetThreadContext(h, &ctx)
}

// close stops the event pump; the pump detaches via
// DebugActiveProcessStop on its way out.
func (w *winProgrammer) close() error {
	close(w.done)
	<-w.srvd
	return nil
}

// setDebugRegister programs DR0-DR3 and the matching DR7 length/RW
// and local-enable bits for slot index i.
func setDebugRegister(h windows.Handle, i int, addr uint64, enable bool, size int, typ WatchType) error {
	var ctx windows.Context
	ctx.ContextFlags = windows.CONTEXT_DEBUG_REGISTERS
	if err := windows.GetThreadContext(h, &ctx); err != nil {
		return err
	}

	switch i {
	case 0:
		ctx.Dr0 = addr
	case 1:
		ctx.Dr1 = addr
	case 2:
		ctx.Dr2 = addr
	case 3:
		ctx.Dr3 = addr
	default:
		return fmt.Errorf("debugger: windows DR substitute has only 4 slots, got index %d", i)
	}

	rw := uint64(0b01) // write
	switch typ {
	case Read:
		rw = 0b11 // x86 has no read-only watch; approximate with read/write
	case ReadWrite:
		rw = 0b11
	case -1:
		rw = 0b00 // execute
	}
	length := lengthBits(size)
	shift := uint(16 + i*4)
	mask := uint64(0b1111) << shift
	ctx.Dr7 &^= mask
	ctx.Dr7 |= (rw | length<<2) << shift
	if enable {
		ctx.Dr7 |= 1 << uint(i*2)
	} else {
		ctx.Dr7 &^= 1 << uint(i*2)
	}

	return windows.SetThreadContext(h, &ctx)
}

func lengthBits(size int) uint64 {
	switch size {
	case 1:
		return 0b00
	case 2:
		return 0b01
	case 8:
		return 0b10
	case 4:
		return 0b11
	default:
		return 0b00
	}
}
