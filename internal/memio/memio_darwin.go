// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memio

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>

// Thin wrappers so the Go side never has to spell the mach_task_self()
// macro or SDK-version-dependent Mach port typedefs.

static kern_return_t nd_task_for_pid(int pid, mach_port_t *task) {
	return task_for_pid(mach_task_self(), pid, task);
}

static void nd_port_release(mach_port_t port) {
	mach_port_deallocate(mach_task_self(), port);
}

static kern_return_t nd_vm_read(mach_port_t task, uint64_t addr, void *buf, uint64_t size, uint64_t *out) {
	mach_vm_size_t got = 0;
	kern_return_t kr = mach_vm_read_overwrite(task, addr, size, (mach_vm_address_t)buf, &got);
	*out = got;
	return kr;
}

static kern_return_t nd_vm_protect(mach_port_t task, uint64_t addr, uint64_t size, int prot) {
	return mach_vm_protect(task, addr, size, 0, prot);
}

static kern_return_t nd_vm_write(mach_port_t task, uint64_t addr, const void *buf, uint64_t size) {
	return mach_vm_write(task, addr, (vm_offset_t)buf, (mach_msg_type_number_t)size);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/inferior/nativedbg/internal/plat"
)

// taskFor obtains a send right to pid's task port. The right is
// per-call; callers release it with nd_port_release rather than
// caching it across operations.
func taskFor(pid int) (C.mach_port_t, error) {
	var task C.mach_port_t
	if kr := C.nd_task_for_pid(C.int(pid), &task); kr != C.KERN_SUCCESS {
		return 0, fmt.Errorf("memio: task_for_pid(%d): kern_return %d (needs debug entitlement or root)", pid, int(kr))
	}
	return task, nil
}

// Read copies up to len(out) bytes from pid's address space starting
// at addr into out via mach_vm_read_overwrite, returning the actual
// count read. The copy is chunked at page boundaries so a hole in the
// middle of the range yields a short read (logged at WARN) rather than
// a wholesale failure.
func Read(pid int, addr uint64, out []byte) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	task, err := taskFor(pid)
	if err != nil {
		plat.Log(plat.ERROR, "memio: %v", err)
		return 0, err
	}
	defer C.nd_port_release(task)

	pageSize := uint64(plat.PageSize())
	total := 0
	for total < len(out) {
		cur := addr + uint64(total)
		chunk := len(out) - total
		if next := alignDown(cur, pageSize) + pageSize; uint64(chunk) > next-cur {
			chunk = int(next - cur)
		}
		var got C.uint64_t
		kr := C.nd_vm_read(task, C.uint64_t(cur), unsafe.Pointer(&out[total]), C.uint64_t(chunk), &got)
		total += int(got)
		if kr != C.KERN_SUCCESS {
			if total > 0 {
				plat.Log(plat.WARN, "memio: short read at pid=%d addr=%#x: got %d want %d", pid, addr, total, len(out))
				return total, nil
			}
			return 0, fmt.Errorf("memio: mach_vm_read_overwrite(pid=%d, addr=%#x): kern_return %d", pid, cur, int(kr))
		}
	}
	return total, nil
}

// Write writes len(buf) bytes to pid's address space at addr:
// mach_vm_protect adds write permission over the page-aligned covering
// span (VM_PROT_COPY forces copy-on-write for shared and read-only
// mappings), then mach_vm_write copies the payload in. Zero-length
// writes are no-ops that return 0.
func Write(pid int, addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	task, err := taskFor(pid)
	if err != nil {
		plat.Log(plat.ERROR, "memio: %v", err)
		return 0, err
	}
	defer C.nd_port_release(task)

	pageSize := uint64(plat.PageSize())
	start := alignDown(addr, pageSize)
	end := alignUp(addr+uint64(len(buf)), pageSize)
	prot := C.int(C.VM_PROT_READ | C.VM_PROT_WRITE | C.VM_PROT_COPY)
	if kr := C.nd_vm_protect(task, C.uint64_t(start), C.uint64_t(end-start), prot); kr != C.KERN_SUCCESS {
		plat.Log(plat.ERROR, "memio: mach_vm_protect(pid=%d, [%#x,%#x)): kern_return %d", pid, start, end, int(kr))
		return 0, fmt.Errorf("memio: mach_vm_protect(pid=%d, addr=%#x): kern_return %d", pid, addr, int(kr))
	}
	if kr := C.nd_vm_write(task, C.uint64_t(addr), unsafe.Pointer(&buf[0]), C.uint64_t(len(buf))); kr != C.KERN_SUCCESS {
		plat.Log(plat.ERROR, "memio: mach_vm_write(pid=%d, addr=%#x): kern_return %d", pid, addr, int(kr))
		return 0, fmt.Errorf("memio: mach_vm_write(pid=%d, addr=%#x): kern_return %d", pid, addr, int(kr))
	}
	return len(buf), nil
}
