// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"log"
	"os"
	"sync"

	"github.com/inferior/nativedbg/internal/plat"
)

// Mode selects where plat.Log forwards to.
type Mode int32

const (
	Normal Mode = iota
	Embedded
)

// serverState is the one process-wide mutable singleton the exported
// layer owns besides the handle table: a lazily initialized,
// mutex-protected value rather than a bare global struct.
type serverState struct {
	mu   sync.Mutex
	once sync.Once
	mode Mode
	pid  int
}

var state serverState

// setLastAttachedPid records the pid passed to the most recent
// debugger_new call. The watch/breakpoint symbols take no pid
// argument: at most one target is under hardware-debug control from a
// single agent instance at a time.
func setLastAttachedPid(pid int) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.pid = pid
}

func lastAttachedPid() int {
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.pid
}

// hostLogger forwards every plat.Log call to the host-supplied
// native_log symbol instead of stdout, so an embedded agent never
// writes to the host's standard streams. The host symbol itself is a
// cgo import resolved at link time (see log_cgo.go); this type just
// adapts plat.Logger to it.
type hostLogger struct{}

func (hostLogger) Log(level plat.Level, msg string) {
	forwardToHost(int32(level), msg)
}

// nativeInit implements native_init(mode): switches the process-wide
// logger between a stderr-writing stdLogger (NORMAL, matching
// cmd/viewcore's own log.SetFlags/log.SetPrefix use) and the
// host-forwarding hostLogger (EMBEDDED). Returns 1 on success, -1 on
// failure.
func nativeInit(mode int32) int32 {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.mode = Mode(mode)

	switch state.mode {
	case Embedded:
		plat.SetLogger(hostLogger{})
	case Normal:
		plat.SetLogger(plat.NewStdLogger(log.New(os.Stderr, "nativedbg: ", log.LstdFlags)))
	default:
		return -1
	}

	var initErr error
	state.once.Do(func() {
		initErr = resolveAndroidProcessVM()
	})
	if initErr != nil {
		plat.Log(plat.ERROR, "native_init: %v", initErr)
		return -1
	}
	return 1
}
