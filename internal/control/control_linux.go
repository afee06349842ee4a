// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package control

import (
	"syscall"

	"github.com/inferior/nativedbg/internal/plat"
)

// Suspend sends SIGSTOP to pid. A subsequent read of the target's
// memory observes a frozen image until Resume is called.
func Suspend(pid int) bool {
	if err := syscall.Kill(pid, syscall.SIGSTOP); err != nil {
		plat.Log(plat.ERROR, "control: SIGSTOP(%d): %v", pid, err)
		return false
	}
	return true
}

// Resume sends SIGCONT to pid.
func Resume(pid int) bool {
	if err := syscall.Kill(pid, syscall.SIGCONT); err != nil {
		plat.Log(plat.ERROR, "control: SIGCONT(%d): %v", pid, err)
		return false
	}
	return true
}
