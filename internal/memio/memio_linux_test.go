// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memio

import (
	"os"
	"testing"
	"time"
	"unsafe"

	"github.com/inferior/nativedbg/internal/testenv"
)

// traceeCounter is the address the tests read/write in the spawned
// tracee: the tracee is this same test binary re-exec'd, so in a
// non-PIE build this package-level variable sits at the same address
// there, and ptrace peek/poke and process_vm_readv/writev observe the
// word its busy loop increments.
var traceeCounter uint64

// TestTraceeMain is re-exec'd by testenv.SpawnTracee with
// NATIVEDBG_TRACEE_MODE=1 set; it never runs as part of a normal "go
// test" invocation.
func TestTraceeMain(t *testing.T) {
	if os.Getenv("NATIVEDBG_TRACEE_MODE") != "1" {
		t.Skip("not running as a spawned tracee")
	}
	if os.Getenv("NATIVEDBG_TRACEE_CRASH") == "1" {
		testenv.Crash()
	}
	for i := 0; i < 10000; i++ {
		traceeCounter++
		time.Sleep(time.Millisecond)
	}
}

func traceeCounterAddr() uint64 {
	return uint64(uintptr(unsafe.Pointer(&traceeCounter)))
}

func TestReadWriteSelf(t *testing.T) {
	traceeCounter = 0x1122334455667788
	addr := traceeCounterAddr()

	buf := make([]byte, 8)
	n, err := Read(os.Getpid(), addr, buf)
	if err != nil {
		t.Fatalf("Read(self): %v", err)
	}
	if n != 8 {
		t.Fatalf("Read(self) returned %d bytes, want 8", n)
	}

	want := []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("Read(self) = %x, want %x", buf, want)
		}
	}

	patch := []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11}
	n, err = Write(os.Getpid(), addr, patch)
	if err != nil {
		t.Fatalf("Write(self): %v", err)
	}
	if n != len(patch) {
		t.Fatalf("Write(self) wrote %d bytes, want %d", n, len(patch))
	}
	if traceeCounter != 0x1100ffeeddccbbaa {
		t.Fatalf("traceeCounter = %#x after self write, want 0x1100ffeeddccbbaa", traceeCounter)
	}
}

func TestReadForeign(t *testing.T) {
	tracee, err := testenv.SpawnTracee()
	if err != nil {
		t.Fatalf("SpawnTracee: %v", err)
	}
	defer tracee.Kill()

	buf := make([]byte, 8)
	_, err = Read(tracee.Pid(), traceeCounterAddr(), buf)
	if err != nil {
		t.Skipf("Read(foreign): %v (likely ptrace_scope or container restriction)", err)
	}
}

func TestReadVanishedTarget(t *testing.T) {
	tracee, err := testenv.SpawnTracee("NATIVEDBG_TRACEE_CRASH=1")
	if err != nil {
		t.Fatalf("SpawnTracee: %v", err)
	}
	tracee.Cmd.Wait() // the crash makes this return promptly, error expected

	buf := make([]byte, 8)
	if n, err := Read(tracee.Pid(), traceeCounterAddr(), buf); err == nil && n > 0 {
		t.Fatalf("Read of a crashed target returned %d bytes, want an error", n)
	}
}

func TestZeroLengthReadWrite(t *testing.T) {
	if n, err := Read(os.Getpid(), traceeCounterAddr(), nil); n != 0 || err != nil {
		t.Errorf("Read(len 0) = (%d, %v), want (0, nil)", n, err)
	}
	if n, err := Write(os.Getpid(), traceeCounterAddr(), nil); n != 0 || err != nil {
		t.Errorf("Write(len 0) = (%d, %v), want (0, nil)", n, err)
	}
}
