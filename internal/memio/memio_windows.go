// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memio

import (
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/inferior/nativedbg/internal/plat"
)

// Read opens the target with PROCESS_VM_READ and calls
// ReadProcessMemory, returning the actual byte count read; short
// reads are permitted.
func Read(pid int, addr uint64, out []byte) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	h, err := windows.OpenProcess(windows.PROCESS_VM_READ|windows.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		plat.Log(plat.ERROR, "memio: OpenProcess(%d) for read: %v", pid, err)
		return 0, err
	}
	defer windows.CloseHandle(h)

	var n uintptr
	err = windows.ReadProcessMemory(h, uintptr(addr), &out[0], uintptr(len(out)), &n)
	if err != nil {
		plat.Log(plat.WARN, "memio: ReadProcessMemory(pid=%d, addr=%#x): %v", pid, addr, err)
	}
	return int(n), err
}

// Write opens the target with VM_WRITE|VM_OPERATION|QUERY_INFORMATION,
// flips the covering span to PAGE_EXECUTE_READWRITE, writes, then
// restores the original protection. Restoration is attempted on
// failure paths too and logged, but never treated as fatal.
func Write(pid int, addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	h, err := windows.OpenProcess(windows.PROCESS_VM_WRITE|windows.PROCESS_VM_OPERATION|windows.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		plat.Log(plat.ERROR, "memio: OpenProcess(%d) for write: %v", pid, err)
		return 0, err
	}
	defer windows.CloseHandle(h)

	var oldProtect uint32
	err = windows.VirtualProtectEx(h, uintptr(addr), uintptr(len(buf)), windows.PAGE_EXECUTE_READWRITE, &oldProtect)
	if err != nil {
		return 0, fmt.Errorf("memio: VirtualProtectEx(pid=%d, addr=%#x): %w", pid, addr, err)
	}

	var n uintptr
	writeErr := windows.WriteProcessMemory(h, uintptr(addr), &buf[0], uintptr(len(buf)), &n)

	var restoreProtect uint32
	if restoreErr := windows.VirtualProtectEx(h, uintptr(addr), uintptr(len(buf)), oldProtect, &restoreProtect); restoreErr != nil {
		plat.Log(plat.ERROR, "memio: VirtualProtectEx restore(pid=%d, addr=%#x): %v", pid, addr, restoreErr)
	}

	if writeErr != nil {
		plat.Log(plat.ERROR, "memio: WriteProcessMemory(pid=%d, addr=%#x): %v", pid, addr, writeErr)
	}
	return int(n), writeErr
}
