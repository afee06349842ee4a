// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package control

import (
	"os"
	"testing"
	"time"

	"github.com/inferior/nativedbg/internal/testenv"
)

// TestTraceeMain is re-exec'd by testenv.SpawnTracee; it never runs as
// part of a normal "go test" invocation.
func TestTraceeMain(t *testing.T) {
	if os.Getenv("NATIVEDBG_TRACEE_MODE") != "1" {
		t.Skip("not running as a spawned tracee")
	}
	time.Sleep(10 * time.Second)
}

func TestSuspendResume(t *testing.T) {
	tracee, err := testenv.SpawnTracee()
	if err != nil {
		t.Fatalf("SpawnTracee: %v", err)
	}
	defer tracee.Kill()

	if !Suspend(tracee.Pid()) {
		t.Fatal("Suspend returned false")
	}
	if !Resume(tracee.Pid()) {
		t.Fatal("Resume returned false")
	}
}

func TestSuspendResumeUnknownPid(t *testing.T) {
	const impossiblePid = 1<<31 - 1
	if Suspend(impossiblePid) {
		t.Error("Suspend(impossible pid) = true, want false")
	}
	if Resume(impossiblePid) {
		t.Error("Resume(impossible pid) = true, want false")
	}
}
