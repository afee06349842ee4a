// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package procfs

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/inferior/nativedbg/internal/memio"
	"github.com/inferior/nativedbg/internal/plat"
)

// ListProcesses walks a Toolhelp32 PROCESSENTRY32 snapshot, converting
// each wide process name to UTF-8. Invalid UTF-16 is not detected: it
// converts with U+FFFD replacement characters. Only an empty name is
// reported as "Unknown"; no record is dropped.
func ListProcesses() []ProcessRecord {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		plat.Log(plat.ERROR, "procfs: CreateToolhelp32Snapshot: %v", err)
		return nil
	}
	defer windows.CloseHandle(snap)

	var out []ProcessRecord
	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snap, &entry); err != nil {
		return nil
	}
	for {
		name := windows.UTF16ToString(entry.ExeFile[:])
		if name == "" {
			name = "Unknown"
		}
		out = append(out, ProcessRecord{Pid: int(entry.ProcessID), Name: name})
		if err := windows.Process32Next(snap, &entry); err != nil {
			break
		}
	}
	return out
}

// ListModules snapshots SNAPMODULE|SNAPMODULE32 and derives Is64Bit
// from the PE's IMAGE_NT_HEADERS.FileHeader.Machine field, read out of
// the target via ReadProcessMemory rather than trusted from the
// snapshot entry (32-bit processes under WOW64 lie about their own
// bitness in the toolhelp entry).
func ListModules(pid int) []ModuleRecord {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, uint32(pid))
	if err != nil {
		plat.Log(plat.ERROR, "procfs: CreateToolhelp32Snapshot(%d): %v", pid, err)
		return nil
	}
	defer windows.CloseHandle(snap)

	var out []ModuleRecord
	var me windows.ModuleEntry32
	me.Size = uint32(unsafe.Sizeof(me))
	if err := windows.Module32First(snap, &me); err != nil {
		return nil
	}
	for {
		base := uint64(uintptr(unsafe.Pointer(me.ModBaseAddr)))
		out = append(out, ModuleRecord{
			Base:       base,
			Size:       uint64(me.ModBaseSize),
			Is64Bit:    peIs64Bit(pid, base),
			PathOrName: windows.UTF16ToString(me.ExePath[:]),
		})
		if err := windows.Module32Next(snap, &me); err != nil {
			break
		}
	}
	return out
}

// peIs64Bit reads the PE header's e_lfanew DOS stub offset, then the
// IMAGE_NT_HEADERS machine field, entirely out of the target process.
func peIs64Bit(pid int, base uint64) bool {
	dos := make([]byte, 0x40)
	if n, err := memio.Read(pid, base, dos); err != nil || n < len(dos) {
		return true
	}
	lfanew := uint32(dos[0x3c]) | uint32(dos[0x3d])<<8 | uint32(dos[0x3e])<<16 | uint32(dos[0x3f])<<24

	hdr := make([]byte, 6)
	if n, err := memio.Read(pid, base+uint64(lfanew), hdr); err != nil || n < len(hdr) {
		return true
	}
	// hdr[0:4] == "PE\0\0", hdr[4:6] == FileHeader.Machine.
	machine := uint16(hdr[4]) | uint16(hdr[5])<<8
	const imageFileMachineAMD64 = 0x8664
	const imageFileMachineARM64 = 0xAA64
	return machine == imageFileMachineAMD64 || machine == imageFileMachineARM64
}
