// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import (
	"fmt"
	"runtime"
	"syscall"
	"time"
	"unsafe"

	"github.com/inferior/nativedbg/internal/plat"
)

// Linux substitutes Mach's exception port with ptrace: hardware
// watch/break registers are programmed via
// PTRACE_SETREGSET(NT_ARM_HW_WATCH/NT_ARM_HW_BREAK), the post-trigger
// single step uses PTRACE_SINGLESTEP instead of toggling PSTATE.SS
// directly, and the serve loop below stands in for the exception
// server: wait for a SIGTRAP stop, dispatch it through the FSM,
// resume with PTRACE_CONT or PTRACE_SINGLESTEP as the FSM left armed.
//
// The dedicated-thread channel pattern is the same one
// golang.org/x/debug's ptrace server uses: every ptrace call, and the
// waitpid consuming its stops, must come from the thread that
// attached.
const (
	ptraceGetRegSet  = 0x4204
	ptraceSetRegSet  = 0x4205
	ptraceGetSigInfo = 0x4202

	ntPrStatus   = 1
	ntArmHWBreak = 0x402
	ntArmHWWatch = 0x403
)

// armHWReg mirrors Linux's struct user_hwdebug_state for one
// register: a control word (enable + LSC/BAS/PAC packed the same way
// as ARM64's DBGWCR/DBGBCR) and the watch/break address.
type armHWReg struct {
	addr uint64
	ctrl uint32
	_    uint32 // padding to match kernel struct layout
}

type armHWDebugState struct {
	info uint32
	_    uint32
	regs [maxBreakpoints]armHWReg // sized for the larger of the two slot counts
}

// userPtRegs mirrors the arm64 struct user_pt_regs returned by
// PTRACE_GETREGSET(NT_PRSTATUS).
type userPtRegs struct {
	regs   [31]uint64
	sp     uint64
	pc     uint64
	pstate uint64
}

// ptraceSiginfo is the prefix of siginfo_t: for a TRAP_HWBKPT stop,
// si_addr carries the faulting data address.
type ptraceSiginfo struct {
	signo int32
	errno int32
	code  int32
	_     int32
	addr  uint64
	_     [104]byte // rest of the 128-byte siginfo_t
}

type linuxTracer struct {
	pid int
	fc  chan func() error
	ec  chan error

	d     *Debugger
	done  chan struct{}
	srvd  chan struct{} // closed when the serve loop returns
	bound bool

	// Tracee state, touched only inside do closures so the unbuffered
	// fc/ec pair is the only synchronization it needs.
	running     bool // resumed and not currently in a ptrace stop
	pendingTrap bool // a SIGTRAP stop was consumed while pausing for register access

	// step arms PTRACE_SINGLESTEP for the next resume. Written via
	// setSingleStep during HandleHit and read by the resume that
	// follows it, both on the serve goroutine.
	step bool
}

func newHWProgrammer(pid int) (hwProgrammer, error) {
	t := &linuxTracer{
		pid:  pid,
		fc:   make(chan func() error),
		ec:   make(chan error),
		done: make(chan struct{}),
		srvd: make(chan struct{}),
	}
	go t.run()
	if err := t.do(func() error { return syscall.PtraceAttach(pid) }); err != nil {
		close(t.fc)
		return nil, fmt.Errorf("debugger: ptrace attach %d: %w", pid, err)
	}
	if err := t.do(func() error {
		var status syscall.WaitStatus
		_, err := syscall.Wait4(pid, &status, 0, nil)
		return err
	}); err != nil {
		close(t.fc)
		return nil, fmt.Errorf("debugger: waitpid %d: %w", pid, err)
	}
	return t, nil
}

func (t *linuxTracer) run() {
	runtime.LockOSThread()
	for f := range t.fc {
		t.ec <- f()
	}
}

func (t *linuxTracer) do(f func() error) error {
	t.fc <- f
	return <-t.ec
}

// bind hands the tracer its owning Debugger and starts the trap loop,
// which first lets the attach-stopped tracee run again.
func (t *linuxTracer) bind(d *Debugger) {
	t.d = d
	t.bound = true
	go t.serve()
}

// serve is the Linux stand-in for the exception server thread.
func (t *linuxTracer) serve() {
	defer close(t.srvd)
	if err := t.resume(); err != nil {
		plat.Log(plat.ERROR, "debugger: initial ptrace resume: %v", err)
		return
	}
	for {
		select {
		case <-t.done:
			return
		default:
		}
		trapped, exited, err := t.waitTrap()
		if err != nil {
			plat.Log(plat.ERROR, "debugger: wait for trap: %v", err)
			return
		}
		if exited {
			plat.Log(plat.INFO, "debugger: tracee %d exited", t.pid)
			return
		}
		if !trapped {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		pc, dataAddr := t.trapInfo()
		if st := t.d.HandleHit(pc, dataAddr); st != KernSuccess {
			plat.Log(plat.WARN, "debugger: trap at pc=%#x handled with status %v", pc, st)
		}
		if err := t.resume(); err != nil {
			plat.Log(plat.ERROR, "debugger: ptrace resume: %v", err)
			return
		}
	}
}

// resume continues the stopped tracee, single-stepping when the FSM
// armed a step for the next instruction.
func (t *linuxTracer) resume() error {
	step := t.step
	return t.do(func() error {
		var err error
		if step {
			err = syscall.PtraceSingleStep(t.pid)
		} else {
			err = syscall.PtraceCont(t.pid, 0)
		}
		if err == nil {
			t.running = true
		}
		return err
	})
}

// waitTrap polls for the next tracee stop without blocking the tracer
// thread, so slot programming from host threads can interleave with
// the trap loop. Non-SIGTRAP stops are continued with no signal, the
// way golang.org/x/debug's waitForTrap does.
func (t *linuxTracer) waitTrap() (trapped, exited bool, err error) {
	err = t.do(func() error {
		if t.pendingTrap {
			t.pendingTrap = false
			trapped = true
			return nil
		}
		var status syscall.WaitStatus
		n, werr := syscall.Wait4(t.pid, &status, syscall.WNOHANG, nil)
		if werr != nil {
			return werr
		}
		if n == 0 {
			return nil
		}
		if status.Exited() || status.Signaled() {
			t.running = false
			exited = true
			return nil
		}
		if status.Stopped() && status.StopSignal() == syscall.SIGTRAP {
			t.running = false
			trapped = true
			return nil
		}
		return syscall.PtraceCont(t.pid, 0)
	})
	return trapped, exited, err
}

// trapInfo reads the stopped tracee's program counter and, for a
// hardware watchpoint trap, the faulting data address from siginfo.
func (t *linuxTracer) trapInfo() (pc, dataAddr uint64) {
	err := t.do(func() error {
		var regs userPtRegs
		if err := regSet(ptraceGetRegSet, t.pid, ntPrStatus, unsafe.Pointer(&regs), unsafe.Sizeof(regs)); err != nil {
			return err
		}
		pc = regs.pc

		var si ptraceSiginfo
		_, _, errno := syscall.RawSyscall6(syscall.SYS_PTRACE, ptraceGetSigInfo, uintptr(t.pid), 0, uintptr(unsafe.Pointer(&si)), 0, 0)
		if errno != 0 {
			return errno
		}
		dataAddr = si.addr
		return nil
	})
	if err != nil {
		plat.Log(plat.WARN, "debugger: read trap state: %v", err)
	}
	return pc, dataAddr
}

// withStopped runs f on the tracer thread with the tracee in a ptrace
// stop: a running tracee is paused with SIGSTOP for the duration and
// resumed after. If the pause races with an arriving SIGTRAP, the
// trap is remembered for the serve loop instead of being lost, and
// the tracee is left stopped for it to dispatch.
func (t *linuxTracer) withStopped(f func() error) error {
	return t.do(func() error {
		if !t.running {
			return f()
		}
		if err := syscall.Kill(t.pid, syscall.SIGSTOP); err != nil {
			return err
		}
		var status syscall.WaitStatus
		if _, err := syscall.Wait4(t.pid, &status, 0, nil); err != nil {
			return err
		}
		if status.Exited() || status.Signaled() {
			t.running = false
			return fmt.Errorf("tracee %d exited", t.pid)
		}
		if status.StopSignal() == syscall.SIGTRAP {
			t.pendingTrap = true
			t.running = false
			return f()
		}
		err := f()
		if cerr := syscall.PtraceCont(t.pid, 0); cerr != nil && err == nil {
			err = cerr
		}
		return err
	})
}

func (t *linuxTracer) programWatch(i int, slot WatchpointSlot) error {
	bas := basFor(slot.Address, slot.Size)
	ctrl := uint32(1) | uint32(bas)<<5 | uint32(lscFor(slot.Type))<<3
	return t.setReg(ntArmHWWatch, i, armHWReg{addr: slot.Address, ctrl: ctrl})
}

func (t *linuxTracer) programBreak(i int, slot BreakpointSlot) error {
	ctrl := uint32(1) | uint32(0b1111)<<5 // BAS=all four bytes for a 4-byte instruction
	return t.setReg(ntArmHWBreak, i, armHWReg{addr: slot.Address, ctrl: ctrl})
}

func (t *linuxTracer) clearWatch(i int) error {
	return t.setReg(ntArmHWWatch, i, armHWReg{})
}

func (t *linuxTracer) clearBreak(i int) error {
	return t.setReg(ntArmHWBreak, i, armHWReg{})
}

func (t *linuxTracer) disableWatchOnCurrentThread(i int) error {
	return t.toggleReg(ntArmHWWatch, i, false)
}

func (t *linuxTracer) enableWatchOnCurrentThread(i int) error {
	return t.toggleReg(ntArmHWWatch, i, true)
}

func (t *linuxTracer) disableBreakOnCurrentThread(i int) error {
	return t.toggleReg(ntArmHWBreak, i, false)
}

func (t *linuxTracer) enableBreakOnCurrentThread(i int) error {
	return t.toggleReg(ntArmHWBreak, i, true)
}

func (t *linuxTracer) toggleReg(kind int, i int, enable bool) error {
	return t.withStopped(func() error {
		var state armHWDebugState
		if err := regSet(ptraceGetRegSet, t.pid, kind, unsafe.Pointer(&state), unsafe.Sizeof(state)); err != nil {
			return err
		}
		if enable {
			state.regs[i].ctrl |= 1
		} else {
			state.regs[i].ctrl &^= 1
		}
		return regSet(ptraceSetRegSet, t.pid, kind, unsafe.Pointer(&state), unsafe.Sizeof(state))
	})
}

func (t *linuxTracer) setReg(kind int, i int, reg armHWReg) error {
	return t.withStopped(func() error {
		var state armHWDebugState
		if err := regSet(ptraceGetRegSet, t.pid, kind, unsafe.Pointer(&state), unsafe.Sizeof(state)); err != nil {
			return err
		}
		state.regs[i] = reg
		return regSet(ptraceSetRegSet, t.pid, kind, unsafe.Pointer(&state), unsafe.Sizeof(state))
	})
}

// regSet issues one PTRACE_GETREGSET/PTRACE_SETREGSET. Must run on
// the tracer thread with the tracee stopped.
func regSet(req, pid, kind int, state unsafe.Pointer, size uintptr) error {
	iov := syscall.Iovec{Base: (*byte)(state), Len: uint64(size)}
	_, _, errno := syscall.RawSyscall6(syscall.SYS_PTRACE, uintptr(req), uintptr(pid), uintptr(kind), uintptr(unsafe.Pointer(&iov)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// setSingleStep arms or disarms stepping for the serve loop's next
// resume: PTRACE_SINGLESTEP is a resume request, not a register
// write, so the flag is consumed by resume rather than acted on here.
func (t *linuxTracer) setSingleStep(enabled bool) error {
	t.step = enabled
	return nil
}

func (t *linuxTracer) close() error {
	close(t.done)
	if t.bound {
		<-t.srvd
	}
	err := t.do(func() error {
		if t.running {
			if err := syscall.Kill(t.pid, syscall.SIGSTOP); err == nil {
				var status syscall.WaitStatus
				syscall.Wait4(t.pid, &status, 0, nil)
			}
		}
		return syscall.PtraceDetach(t.pid)
	})
	close(t.fc)
	if err == syscall.ESRCH {
		return nil // tracee already gone
	}
	return err
}
