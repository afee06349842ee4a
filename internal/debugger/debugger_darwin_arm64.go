// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

/*
#include <string.h>
#include <mach/mach.h>
#include <mach/task.h>
#include <mach/thread_act.h>
#include <mach/thread_status.h>
#include <mach/arm/thread_status.h>
#include <mach/arm/exception.h>

// State counts are sizeof-derived macros; surface them as enum
// constants so the Go side can use them.
enum {
	ndThreadState64Count = ARM_THREAD_STATE64_COUNT,
	ndDebugState64Count  = ARM_DEBUG_STATE64_COUNT,
};

// Wire layout of a mach_exception_raise request and reply for
// behavior EXCEPTION_DEFAULT | MACH_EXCEPTION_CODES (msgh_id 2405) —
// the same pair the MIG-generated exc_server trampoline marshals, laid
// out by hand so the receive loop can live in Go.
typedef struct {
	mach_msg_header_t          Head;
	mach_msg_body_t            msgh_body;
	mach_msg_port_descriptor_t thread;
	mach_msg_port_descriptor_t task;
	NDR_record_t               NDR;
	exception_type_t           exception;
	mach_msg_type_number_t     codeCnt;
	int64_t                    code[2];
	mach_msg_trailer_t         trailer;
} nd_exc_req_t;

typedef struct {
	mach_msg_header_t Head;
	NDR_record_t      NDR;
	kern_return_t     RetCode;
} nd_exc_rep_t;

static kern_return_t nd_task_for_pid(int pid, mach_port_t *task) {
	return task_for_pid(mach_task_self(), pid, task);
}

static void nd_port_release(mach_port_t port) {
	mach_port_deallocate(mach_task_self(), port);
}

// nd_exc_port_setup allocates a receive right in this task's
// namespace, inserts a send right, and registers the port for the
// target's EXC_BREAKPOINT exceptions with 64-bit codes and
// ARM_THREAD_STATE64 flavor.
static kern_return_t nd_exc_port_setup(mach_port_t task, mach_port_t *port) {
	mach_port_t self = mach_task_self();
	kern_return_t kr = mach_port_allocate(self, MACH_PORT_RIGHT_RECEIVE, port);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	kr = mach_port_insert_right(self, *port, *port, MACH_MSG_TYPE_MAKE_SEND);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	return task_set_exception_ports(task, EXC_MASK_BREAKPOINT, *port,
		(exception_behavior_t)(EXCEPTION_DEFAULT | MACH_EXCEPTION_CODES),
		ARM_THREAD_STATE64);
}

static kern_return_t nd_exc_recv(mach_port_t port, nd_exc_req_t *req, int timeout_ms) {
	return mach_msg(&req->Head, MACH_RCV_MSG | MACH_RCV_TIMEOUT, 0,
		sizeof(*req), port, timeout_ms, MACH_PORT_NULL);
}

static kern_return_t nd_exc_reply(nd_exc_req_t *req, kern_return_t ret) {
	nd_exc_rep_t rep;
	memset(&rep, 0, sizeof(rep));
	rep.Head.msgh_bits = MACH_MSGH_BITS(MACH_MSGH_BITS_REMOTE(req->Head.msgh_bits), 0);
	rep.Head.msgh_remote_port = req->Head.msgh_remote_port;
	rep.Head.msgh_local_port = MACH_PORT_NULL;
	rep.Head.msgh_size = sizeof(rep);
	rep.Head.msgh_id = req->Head.msgh_id + 100;
	rep.NDR = NDR_record;
	rep.RetCode = ret;
	return mach_msg(&rep.Head, MACH_SEND_MSG, rep.Head.msgh_size, 0,
		MACH_PORT_NULL, MACH_MSG_TIMEOUT_NONE, MACH_PORT_NULL);
}

static void nd_exc_teardown(mach_port_t task, mach_port_t port) {
	task_set_exception_ports(task, EXC_MASK_BREAKPOINT, MACH_PORT_NULL,
		EXCEPTION_DEFAULT, THREAD_STATE_NONE);
	mach_port_mod_refs(mach_task_self(), port, MACH_PORT_RIGHT_RECEIVE, -1);
}

static void nd_free_thread_list(thread_act_array_t list, mach_msg_type_number_t count) {
	vm_deallocate(mach_task_self(), (vm_address_t)list,
		count * sizeof(thread_act_t));
}

static kern_return_t nd_task_threads(mach_port_t task, thread_act_array_t *list, mach_msg_type_number_t *count) {
	return task_threads(task, list, count);
}

static kern_return_t nd_thread_get_state(mach_port_t th, int flavor, void *state, unsigned int *count) {
	return thread_get_state(th, flavor, (thread_state_t)state, count);
}

static kern_return_t nd_thread_set_state(mach_port_t th, int flavor, void *state, unsigned int count) {
	return thread_set_state(th, flavor, (thread_state_t)state, count);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/inferior/nativedbg/internal/plat"
)

// machProgrammer drives the ARM64 hardware debug registers of a Mach
// task: DBGWVR/DBGWCR for the four watchpoint slots, DBGBVR/DBGBCR for
// the sixteen breakpoint slots, programmed per thread through
// thread_get_state/thread_set_state with ARM_DEBUG_STATE64. Exceptions
// arrive on a dedicated port serviced by the serve goroutine.
type machProgrammer struct {
	pid  int
	task C.mach_port_t
	port C.mach_port_t
	d    *Debugger

	// curThread is the thread whose exception is in flight. It is
	// written by serve immediately before HandleHit and read only by
	// the *OnCurrentThread/setSingleStep methods HandleHit calls back
	// into, all on the serve goroutine.
	curThread C.mach_port_t

	done chan struct{}
}

func newHWProgrammer(pid int) (hwProgrammer, error) {
	m := &machProgrammer{pid: pid, done: make(chan struct{})}
	if kr := C.nd_task_for_pid(C.int(pid), &m.task); kr != C.KERN_SUCCESS {
		return nil, fmt.Errorf("debugger: task_for_pid(%d): kern_return %d (needs debug entitlement or root)", pid, int(kr))
	}
	if kr := C.nd_exc_port_setup(m.task, &m.port); kr != C.KERN_SUCCESS {
		C.nd_port_release(m.task)
		return nil, fmt.Errorf("debugger: exception port setup for pid %d: kern_return %d", pid, int(kr))
	}
	return m, nil
}

// bind hands the programmer its owning Debugger and starts the
// exception server goroutine. Called once, before any slot can be
// programmed, so serve never observes a nil Debugger.
func (m *machProgrammer) bind(d *Debugger) {
	m.d = d
	go m.serve()
}

// serve is the exception server: a receive loop on the exception port,
// dispatching each mach_exception_raise message through
// handleException and replying so the kernel resumes the thread. The
// receive uses a short timeout purely so teardown can interrupt the
// loop; no message is ever dropped by it.
func (m *machProgrammer) serve() {
	for {
		select {
		case <-m.done:
			return
		default:
		}
		var req C.nd_exc_req_t
		kr := C.nd_exc_recv(m.port, &req, 100)
		if kr == C.MACH_RCV_TIMED_OUT {
			continue
		}
		if kr != C.MACH_MSG_SUCCESS {
			plat.Log(plat.ERROR, "debugger: mach_msg receive: kern_return %#x", int(kr))
			return
		}
		ret := m.handleException(&req)
		if kr := C.nd_exc_reply(&req, ret); kr != C.MACH_MSG_SUCCESS {
			plat.Log(plat.ERROR, "debugger: mach_msg reply: kern_return %#x", int(kr))
		}
	}
}

// handleException unpacks one exception message. code[0] discriminates
// a data-abort debug exception (watchpoint, with the faulting data
// address in code[1]) from an instruction breakpoint or a completed
// single step; the FSM's step mode decides which of those two the
// latter is. For an EXC_BREAKPOINT message the reply is KERN_SUCCESS
// so the kernel resumes the thread — a failed transition is logged,
// not fatal to the target; any other exception type is answered with
// KERN_FAILURE.
func (m *machProgrammer) handleException(req *C.nd_exc_req_t) C.kern_return_t {
	thread := C.mach_port_t(req.thread.name)
	task := C.mach_port_t(req.task.name)
	defer C.nd_port_release(thread)
	defer C.nd_port_release(task)

	if req.exception != C.EXC_BREAKPOINT {
		plat.Log(plat.WARN, "debugger: unexpected exception type %d", int(req.exception))
		return C.KERN_FAILURE
	}

	var dataAddr uint64
	if req.code[0] == C.EXC_ARM_DA_DEBUG {
		dataAddr = uint64(req.code[1])
	}
	pc, err := threadPC(thread)
	if err != nil {
		plat.Log(plat.ERROR, "debugger: %v", err)
	}

	m.curThread = thread
	st := m.d.HandleHit(pc, dataAddr)
	m.curThread = 0
	if st != KernSuccess {
		plat.Log(plat.WARN, "debugger: exception at pc=%#x handled with status %v", pc, st)
	}
	return C.KERN_SUCCESS
}

func threadPC(thread C.mach_port_t) (uint64, error) {
	var ts C.arm_thread_state64_t
	cnt := C.uint(C.ndThreadState64Count)
	kr := C.nd_thread_get_state(thread, C.ARM_THREAD_STATE64, unsafe.Pointer(&ts), &cnt)
	if kr != C.KERN_SUCCESS {
		return 0, fmt.Errorf("thread_get_state(ARM_THREAD_STATE64): kern_return %d", int(kr))
	}
	return uint64(ts.__pc), nil
}

func getDebugState(thread C.mach_port_t) (C.arm_debug_state64_t, error) {
	var st C.arm_debug_state64_t
	cnt := C.uint(C.ndDebugState64Count)
	kr := C.nd_thread_get_state(thread, C.ARM_DEBUG_STATE64, unsafe.Pointer(&st), &cnt)
	if kr != C.KERN_SUCCESS {
		return st, fmt.Errorf("thread_get_state(ARM_DEBUG_STATE64): kern_return %d", int(kr))
	}
	return st, nil
}

func setDebugState(thread C.mach_port_t, st *C.arm_debug_state64_t) error {
	kr := C.nd_thread_set_state(thread, C.ARM_DEBUG_STATE64, unsafe.Pointer(st), C.uint(C.ndDebugState64Count))
	if kr != C.KERN_SUCCESS {
		return fmt.Errorf("thread_set_state(ARM_DEBUG_STATE64): kern_return %d", int(kr))
	}
	return nil
}

// eachThread runs f over every thread of the task. Per-thread failures
// are logged and the walk continues; the call fails only when no
// thread could be programmed at all.
func (m *machProgrammer) eachThread(f func(C.mach_port_t) error) error {
	var list C.thread_act_array_t
	var count C.mach_msg_type_number_t
	if kr := C.nd_task_threads(m.task, &list, &count); kr != C.KERN_SUCCESS {
		return fmt.Errorf("task_threads: kern_return %d", int(kr))
	}
	defer C.nd_free_thread_list(list, count)

	threads := unsafe.Slice((*C.mach_port_t)(unsafe.Pointer(list)), int(count))
	ok := 0
	var firstErr error
	for _, th := range threads {
		if err := f(th); err != nil {
			plat.Log(plat.WARN, "debugger: thread %#x: %v", uint32(th), err)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			ok++
		}
		C.nd_port_release(th)
	}
	if ok == 0 && firstErr != nil {
		return firstErr
	}
	return nil
}

// watchCtrl builds a DBGWCR value: E=1, PAC=0b10 (match EL0
// unprivileged accesses only), LSC from the access type, BAS selecting
// the watched bytes within the 8-byte-aligned word containing the
// address.
func watchCtrl(slot WatchpointSlot) uint64 {
	return 1 | uint64(0b10)<<1 | uint64(lscFor(slot.Type))<<3 | uint64(basFor(slot.Address, slot.Size))<<5
}

// breakCtrl builds a DBGBCR value: E=1, PAC=0b10, BAS covering the
// whole 4-byte instruction.
func breakCtrl() uint64 {
	return 1 | uint64(0b10)<<1 | uint64(0b1111)<<5
}

func (m *machProgrammer) programWatch(i int, slot WatchpointSlot) error {
	ctrl := watchCtrl(slot)
	return m.eachThread(func(th C.mach_port_t) error {
		st, err := getDebugState(th)
		if err != nil {
			return err
		}
		st.__wvr[i] = C.__uint64_t(slot.Address &^ 7)
		st.__wcr[i] = C.__uint64_t(ctrl)
		return setDebugState(th, &st)
	})
}

func (m *machProgrammer) programBreak(i int, slot BreakpointSlot) error {
	ctrl := breakCtrl()
	return m.eachThread(func(th C.mach_port_t) error {
		st, err := getDebugState(th)
		if err != nil {
			return err
		}
		st.__bvr[i] = C.__uint64_t(slot.Address &^ 3)
		st.__bcr[i] = C.__uint64_t(ctrl)
		return setDebugState(th, &st)
	})
}

func (m *machProgrammer) clearWatch(i int) error {
	return m.eachThread(func(th C.mach_port_t) error {
		st, err := getDebugState(th)
		if err != nil {
			return err
		}
		st.__wvr[i] = 0
		st.__wcr[i] = 0
		return setDebugState(th, &st)
	})
}

func (m *machProgrammer) clearBreak(i int) error {
	return m.eachThread(func(th C.mach_port_t) error {
		st, err := getDebugState(th)
		if err != nil {
			return err
		}
		st.__bvr[i] = 0
		st.__bcr[i] = 0
		return setDebugState(th, &st)
	})
}

// toggleCurrent flips the enable bit of one watch or break control
// register on the thread whose exception is in flight. A fired
// hardware trigger is level-sensitive against the faulting access:
// re-entering the instruction with the trigger still armed would fault
// forever, so the slot is disabled on this thread for exactly one
// single-stepped instruction and re-armed after.
func (m *machProgrammer) toggleCurrent(watch bool, i int, enable bool) error {
	th := m.curThread
	if th == 0 {
		return fmt.Errorf("debugger: no exception thread in flight")
	}
	st, err := getDebugState(th)
	if err != nil {
		return err
	}
	if watch {
		if enable {
			st.__wcr[i] |= 1
		} else {
			st.__wcr[i] &^= 1
		}
	} else {
		if enable {
			st.__bcr[i] |= 1
		} else {
			st.__bcr[i] &^= 1
		}
	}
	return setDebugState(th, &st)
}

func (m *machProgrammer) disableWatchOnCurrentThread(i int) error {
	return m.toggleCurrent(true, i, false)
}

func (m *machProgrammer) enableWatchOnCurrentThread(i int) error {
	return m.toggleCurrent(true, i, true)
}

func (m *machProgrammer) disableBreakOnCurrentThread(i int) error {
	return m.toggleCurrent(false, i, false)
}

func (m *machProgrammer) enableBreakOnCurrentThread(i int) error {
	return m.toggleCurrent(false, i, true)
}

// setSingleStep arms or disarms one-instruction stepping on the
// exception thread: MDSCR_EL1.SS in the debug state plus PSTATE.SS in
// the thread's saved CPSR. Both bits are required — MDSCR enables the
// step exception, PSTATE.SS makes the very next instruction take it.
func (m *machProgrammer) setSingleStep(enabled bool) error {
	th := m.curThread
	if th == 0 {
		return fmt.Errorf("debugger: no exception thread in flight")
	}

	dst, err := getDebugState(th)
	if err != nil {
		return err
	}
	if enabled {
		dst.__mdscr_el1 |= 1
	} else {
		dst.__mdscr_el1 &^= 1
	}
	if err := setDebugState(th, &dst); err != nil {
		return err
	}

	var ts C.arm_thread_state64_t
	cnt := C.uint(C.ndThreadState64Count)
	if kr := C.nd_thread_get_state(th, C.ARM_THREAD_STATE64, unsafe.Pointer(&ts), &cnt); kr != C.KERN_SUCCESS {
		return fmt.Errorf("thread_get_state(ARM_THREAD_STATE64): kern_return %d", int(kr))
	}
	const pstateSS = 1 << 21
	if enabled {
		ts.__cpsr |= pstateSS
	} else {
		ts.__cpsr &^= pstateSS
	}
	if kr := C.nd_thread_set_state(th, C.ARM_THREAD_STATE64, unsafe.Pointer(&ts), C.uint(C.ndThreadState64Count)); kr != C.KERN_SUCCESS {
		return fmt.Errorf("thread_set_state(ARM_THREAD_STATE64): kern_return %d", int(kr))
	}
	return nil
}

// close stops the serve goroutine, restores the target's default
// exception handling, and drops the port rights.
func (m *machProgrammer) close() error {
	close(m.done)
	C.nd_exc_teardown(m.task, m.port)
	C.nd_port_release(m.task)
	return nil
}
