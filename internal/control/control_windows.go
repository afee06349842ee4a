// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package control

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/inferior/nativedbg/internal/plat"
)

// Suspend snapshots pid's threads via Toolhelp and calls
// SuspendThread on each individually, since Windows has no
// process-wide suspend primitive. Returns true iff at least one
// thread was successfully affected; per-thread failures are logged
// but do not abort the walk.
func Suspend(pid int) bool {
	return walkThreads(pid, func(h windows.Handle) error {
		_, err := windows.SuspendThread(h)
		return err
	})
}

// Resume calls ResumeThread on every thread of pid.
func Resume(pid int) bool {
	return walkThreads(pid, func(h windows.Handle) error {
		_, err := windows.ResumeThread(h)
		return err
	})
}

func walkThreads(pid int, op func(windows.Handle) error) bool {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		plat.Log(plat.ERROR, "control: CreateToolhelp32Snapshot: %v", err)
		return false
	}
	defer windows.CloseHandle(snap)

	var te windows.ThreadEntry32
	te.Size = uint32(unsafe.Sizeof(te))
	if err := windows.Thread32First(snap, &te); err != nil {
		return false
	}

	affected := false
	for {
		if int(te.OwnerProcessID) == pid {
			h, err := windows.OpenThread(windows.THREAD_SUSPEND_RESUME, false, te.ThreadID)
			if err != nil {
				plat.Log(plat.ERROR, "control: OpenThread(%d): %v", te.ThreadID, err)
			} else {
				if err := op(h); err != nil {
					plat.Log(plat.ERROR, "control: thread %d op failed: %v", te.ThreadID, err)
				} else {
					affected = true
				}
				windows.CloseHandle(h)
			}
		}
		if err := windows.Thread32Next(snap, &te); err != nil {
			break
		}
	}
	return affected
}
