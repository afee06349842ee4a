// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build android

package main

/*
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>
#include <sys/uio.h>

typedef ssize_t (*nd_pvm_fn)(pid_t, const struct iovec *, unsigned long,
                             const struct iovec *, unsigned long, unsigned long);

// nd_call_pvm invokes a dlsym-resolved process_vm_readv or
// process_vm_writev: the calling convention is identical, only the
// copy direction differs, so one trampoline serves both.
static ssize_t nd_call_pvm(void *fn, int pid, void *local, size_t len, uint64_t remote) {
	struct iovec l = { local, len };
	struct iovec r = { (void *)(uintptr_t)remote, len };
	return ((nd_pvm_fn)fn)(pid, &l, 1, &r, 1, 0);
}
*/
import "C"
import (
	"fmt"
	"unsafe"

	"github.com/inferior/nativedbg/internal/memio"
)

// resolveAndroidProcessVM dlopens libc and resolves
// process_vm_readv/process_vm_writev, since older NDK headers don't
// declare them even though the syscalls exist on-device. Resolved
// once at native_init; the resulting function pointers back memio's
// process_vm fast path for the lifetime of the process.
func resolveAndroidProcessVM() error {
	name := C.CString("libc.so")
	defer C.free(unsafe.Pointer(name))
	libc := C.dlopen(name, C.RTLD_NOW)
	if libc == nil {
		return fmt.Errorf("abi: android dlopen(libc.so) failed")
	}

	readvSym := C.CString("process_vm_readv")
	defer C.free(unsafe.Pointer(readvSym))
	writevSym := C.CString("process_vm_writev")
	defer C.free(unsafe.Pointer(writevSym))

	readv := C.dlsym(libc, readvSym)
	writev := C.dlsym(libc, writevSym)
	if readv == nil || writev == nil {
		return fmt.Errorf("abi: android process_vm_readv/writev not resolved")
	}

	memio.SetProcessVM(
		func(pid int, addr uint64, buf []byte) (int, error) {
			return callProcessVM(readv, pid, addr, buf)
		},
		func(pid int, addr uint64, buf []byte) (int, error) {
			return callProcessVM(writev, pid, addr, buf)
		},
	)
	return nil
}

// callProcessVM drives the cgo trampoline: buf is the local iovec
// (destination for readv, source for writev), addr the remote one.
func callProcessVM(fn unsafe.Pointer, pid int, addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := C.nd_call_pvm(fn, C.int(pid), unsafe.Pointer(&buf[0]), C.size_t(len(buf)), C.uint64_t(addr))
	if n < 0 {
		return 0, err
	}
	return int(n), nil
}
