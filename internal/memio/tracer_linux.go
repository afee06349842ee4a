// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memio

import (
	"fmt"
	"runtime"
	"sync"
	"syscall"

	"github.com/inferior/nativedbg/internal/plat"
)

// tracer owns every ptrace call for one attachment, since Linux
// requires the thread that PTRACE_ATTACHes to be the same thread that
// waitpids and pokes. Same closure-over-a-channel shape as
// golang.org/x/debug's ptrace server; used here by cross-process
// writes and the ptrace read fallback (internal/debugger's Linux file
// runs its own tracer of the same shape).
type tracer struct {
	fc chan func() error
	ec chan error
}

func newTracer() *tracer {
	t := &tracer{
		fc: make(chan func() error),
		ec: make(chan error),
	}
	go t.run()
	return t
}

func (t *tracer) run() {
	runtime.LockOSThread()
	for f := range t.fc {
		t.ec <- f()
	}
}

func (t *tracer) do(f func() error) error {
	t.fc <- f
	return <-t.ec
}

var (
	tracersMu sync.Mutex
	tracers   = map[int]*tracer{}
)

// withTracer runs f on the dedicated tracer goroutine for pid,
// creating one if this is the first ptrace operation against pid.
func withTracer(pid int, f func() error) error {
	tracersMu.Lock()
	tr, ok := tracers[pid]
	if !ok {
		tr = newTracer()
		tracers[pid] = tr
	}
	tracersMu.Unlock()
	return tr.do(f)
}

// ptraceAttach attaches to pid and waits for the resulting SIGSTOP on
// the tracer goroutine. Callers pair it with ptraceDetach on every
// exit path.
func ptraceAttach(pid int) error {
	return withTracer(pid, func() error {
		if err := syscall.PtraceAttach(pid); err != nil {
			return fmt.Errorf("ptrace attach %d: %w", pid, err)
		}
		var status syscall.WaitStatus
		if _, err := syscall.Wait4(pid, &status, 0, nil); err != nil {
			return fmt.Errorf("waitpid %d: %w", pid, err)
		}
		return nil
	})
}

func ptraceDetach(pid int) {
	err := withTracer(pid, func() error {
		return syscall.PtraceDetach(pid)
	})
	if err != nil {
		plat.Log(plat.ERROR, "memio: PTRACE_DETACH(%d): %v", pid, err)
	}
}

func ptracePeek(pid int, addr uintptr, out []byte) (int, error) {
	var n int
	err := withTracer(pid, func() error {
		var err1 error
		n, err1 = syscall.PtracePeekData(pid, addr, out)
		return err1
	})
	return n, err
}

func ptracePoke(pid int, addr uintptr, data []byte) (int, error) {
	var n int
	err := withTracer(pid, func() error {
		var err1 error
		n, err1 = syscall.PtracePokeData(pid, addr, data)
		return err1
	})
	return n, err
}
