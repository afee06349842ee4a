// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package region

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>
#include <libproc.h>

static kern_return_t nd_task_for_pid(int pid, mach_port_t *task) {
	return task_for_pid(mach_task_self(), pid, task);
}

static void nd_port_release(mach_port_t port) {
	mach_port_deallocate(mach_task_self(), port);
}

// nd_next_region advances *addr to the next mapped region at or after
// it and reports its extent, protection, and sharing. The object name
// port the kernel hands back is released immediately; nothing here
// needs it.
static kern_return_t nd_next_region(mach_port_t task, uint64_t *addr, uint64_t *size, int *prot, int *shared) {
	vm_region_basic_info_data_64_t info;
	mach_msg_type_number_t count = VM_REGION_BASIC_INFO_COUNT_64;
	mach_port_t objname = MACH_PORT_NULL;
	mach_vm_address_t a = *addr;
	mach_vm_size_t s = 0;
	kern_return_t kr = mach_vm_region(task, &a, &s, VM_REGION_BASIC_INFO_64,
		(vm_region_info_t)&info, &count, &objname);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	if (objname != MACH_PORT_NULL) {
		mach_port_deallocate(mach_task_self(), objname);
	}
	*addr = a;
	*size = s;
	*prot = info.protection;
	*shared = info.shared;
	return KERN_SUCCESS;
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/inferior/nativedbg/internal/plat"
)

// Walk enumerates the target's memory regions with mach_vm_region,
// starting from address 0 and advancing region by region until the
// kernel reports KERN_INVALID_ADDRESS past the last mapping. Darwin
// regions are always Committed; the reserved/free distinction only
// exists on Windows. Backing paths come from proc_regionfilename,
// best-effort.
func Walk(pid int) ([]Region, error) {
	var task C.mach_port_t
	if kr := C.nd_task_for_pid(C.int(pid), &task); kr != C.KERN_SUCCESS {
		plat.Log(plat.ERROR, "region: task_for_pid(%d): kern_return %d", pid, int(kr))
		return nil, fmt.Errorf("region: task_for_pid(%d): kern_return %d (needs debug entitlement or root)", pid, int(kr))
	}
	defer C.nd_port_release(task)

	var out []Region
	addr := C.uint64_t(0)
	for {
		var size C.uint64_t
		var prot, shared C.int
		if kr := C.nd_next_region(task, &addr, &size, &prot, &shared); kr != C.KERN_SUCCESS {
			break
		}
		r := Region{Min: uint64(addr), Max: uint64(addr) + uint64(size), State: Committed}
		if prot&C.VM_PROT_READ != 0 {
			r.Perm |= Read
		}
		if prot&C.VM_PROT_WRITE != 0 {
			r.Perm |= Write
		}
		if prot&C.VM_PROT_EXECUTE != 0 {
			r.Perm |= Exec
		}
		if shared == 0 {
			r.Perm |= Private
		}
		r.Backing = regionFile(pid, uint64(addr))
		out = append(out, r)
		addr += size
	}
	return out, nil
}

// regionFile resolves the file backing the region containing addr, if
// any. Failures just mean an anonymous region.
func regionFile(pid int, addr uint64) string {
	buf := make([]byte, C.PROC_PIDPATHINFO_MAXSIZE)
	n := C.proc_regionfilename(C.int(pid), C.uint64_t(addr), unsafe.Pointer(&buf[0]), C.uint32_t(len(buf)))
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}
