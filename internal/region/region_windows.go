// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package region

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/inferior/nativedbg/internal/plat"
)

// Walk drives VirtualQueryEx from address 0 until it stops returning
// regions. MEM_MAPPED regions resolve their backing file via
// GetMappedFileName on a best-effort basis; failures there just leave
// Backing empty rather than aborting the walk.
func Walk(pid int) ([]Region, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, uint32(pid))
	if err != nil {
		plat.Log(plat.ERROR, "region: OpenProcess(%d): %v", pid, err)
		return nil, err
	}
	defer windows.CloseHandle(h)

	var out []Region
	var addr uintptr
	for {
		var info windows.MemoryBasicInformation
		err := windows.VirtualQueryEx(h, addr, &info, unsafe.Sizeof(info))
		if err != nil {
			break
		}
		if info.RegionSize == 0 {
			break
		}
		r := Region{
			Min:   uint64(info.BaseAddress),
			Max:   uint64(info.BaseAddress) + uint64(info.RegionSize),
			State: stateFor(info.State),
		}
		if info.State == windows.MEM_COMMIT {
			r.Perm = permFor(info.Protect)
		}
		if info.Type == windows.MEM_MAPPED || info.Type == windows.MEM_IMAGE {
			if name, ok := mappedFileName(h, uintptr(info.BaseAddress)); ok {
				r.Backing = name
			}
		}
		out = append(out, r)
		next := uintptr(info.BaseAddress) + uintptr(info.RegionSize)
		if next <= addr {
			break // guard against a non-advancing walk
		}
		addr = next
	}
	SortRegions(out)
	return out, nil
}

// stateFor normalizes Windows's MEM_COMMIT/MEM_RESERVE/MEM_FREE into
// the explicit committed/reserved/free vocabulary, so committed
// regions can never be confused with free ones in the rendered map.
func stateFor(winState uint32) State {
	switch winState {
	case windows.MEM_COMMIT:
		return Committed
	case windows.MEM_RESERVE:
		return Reserved
	default:
		return Free
	}
}

func permFor(protect uint32) Perm {
	var p Perm
	switch protect &^ (windows.PAGE_GUARD | windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE) {
	case windows.PAGE_READONLY:
		p = Read
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		p = Read | Write
	case windows.PAGE_EXECUTE:
		p = Exec
	case windows.PAGE_EXECUTE_READ:
		p = Read | Exec
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		p = Read | Write | Exec
	}
	return p
}

func mappedFileName(h windows.Handle, addr uintptr) (string, bool) {
	var buf [windows.MAX_PATH]uint16
	n, err := windows.GetMappedFileName(h, unsafe.Pointer(addr), &buf[0], uint32(len(buf)))
	if err != nil || n == 0 {
		return "", false
	}
	return windows.UTF16ToString(buf[:n]), true
}
