// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package testenv

import (
	"os"
	"os/exec"
	"time"
)

// Tracee is a small cooperating child process spawned for the
// ptrace/mach/Windows integration tests: it busy-loops
// touching a known address so a test can attach, read, write, suspend,
// resume, and set watch/break points against a real, separate pid.
type Tracee struct {
	Cmd *exec.Cmd
}

// SpawnTracee re-execs the calling test binary in a special tracee
// mode selected by an environment variable, in the spirit of
// golang.org/x/debug/program/server.Run's exec-and-attach. Unlike that
// server it sets no ptrace options and no Pdeathsig: a tracee that a
// test does not Kill runs until its own loop ends. The child's own main (see the _test.go files that
// call this) must check NATIVEDBG_TRACEE_MODE and run the busy loop
// instead of the regular test body.
func SpawnTracee(extraEnv ...string) (*Tracee, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(self, "-test.run=TestTraceeMain")
	cmd.Env = append(os.Environ(), "NATIVEDBG_TRACEE_MODE=1")
	cmd.Env = append(cmd.Env, extraEnv...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	// Give the child a moment to reach its busy loop before the test
	// attaches. The sleep is the only synchronization: nothing waits
	// for the child to reach the loop, and no caller retries the attach.
	time.Sleep(20 * time.Millisecond)
	return &Tracee{Cmd: cmd}, nil
}

// Pid returns the tracee's process id.
func (t *Tracee) Pid() int {
	return t.Cmd.Process.Pid
}

// Kill terminates the tracee unconditionally, for test cleanup.
func (t *Tracee) Kill() error {
	if t.Cmd.Process == nil {
		return nil
	}
	return t.Cmd.Process.Kill()
}
