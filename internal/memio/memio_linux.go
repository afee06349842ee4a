// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memio

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/inferior/nativedbg/internal/plat"
)

// wordSize is the PTRACE_PEEKDATA/POKEDATA granularity on every Linux
// architecture the agent targets.
const wordSize = 8

// Overrides for the process_vm fast path, installed once at startup
// and nil everywhere else. Older Android bionic hides the
// process_vm_readv/writev wrappers, so native_init dlopens libc,
// resolves the two symbols, and routes the fast path through them via
// SetProcessVM instead of the direct x/sys syscall wrappers.
var (
	processVMReadvFn  func(pid int, addr uint64, buf []byte) (int, error)
	processVMWritevFn func(pid int, addr uint64, buf []byte) (int, error)
)

// SetProcessVM installs dlsym-resolved process_vm_readv/writev
// implementations. Must be called before any Read/Write traffic.
func SetProcessVM(readv, writev func(pid int, addr uint64, buf []byte) (int, error)) {
	processVMReadvFn = readv
	processVMWritevFn = writev
}

func pvmRead(pid int, addr uint64, out []byte) (int, error) {
	if processVMReadvFn != nil {
		return processVMReadvFn(pid, addr, out)
	}
	local := []unix.Iovec{{Base: &out[0], Len: uint64(len(out))}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(out)}}
	return unix.ProcessVMReadv(pid, local, remote, 0)
}

func pvmWrite(pid int, addr uint64, buf []byte) (int, error) {
	if processVMWritevFn != nil {
		return processVMWritevFn(pid, addr, buf)
	}
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	return unix.ProcessVMWritev(pid, local, remote, 0)
}

// Read copies up to len(out) bytes from pid's address space starting
// at addr into out, returning the actual count read. Short reads are
// permitted (logged at WARN) rather than treated as failure.
// process_vm_readv serves both self- and cross-process reads since
// Linux 3.2. When it fails, Read falls back to the ptrace peek loop;
// ENOSYS (old kernels, or a sandboxed/seccomp'd environment) does so
// silently, any other error is logged at WARN first.
func Read(pid int, addr uint64, out []byte) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	n, err := pvmRead(pid, addr, out)
	if err == nil {
		if n < len(out) {
			plat.Log(plat.WARN, "memio: short read at pid=%d addr=%#x: got %d want %d", pid, addr, n, len(out))
		}
		return n, nil
	}
	if err != unix.ENOSYS {
		plat.Log(plat.WARN, "memio: process_vm_readv(pid=%d, addr=%#x): %v", pid, addr, err)
	}
	return ptraceReadFallback(pid, addr, out)
}

func ptraceReadFallback(pid int, addr uint64, out []byte) (int, error) {
	if err := ptraceAttach(pid); err != nil {
		return 0, err
	}
	defer ptraceDetach(pid)

	n, err := ptracePeek(pid, uintptr(addr), out)
	if err != nil {
		plat.Log(plat.WARN, "memio: ptrace peek pid=%d addr=%#x: %v", pid, addr, err)
		return n, err
	}
	return n, nil
}

// Write writes len(buf) bytes to pid's address space at addr,
// returning the actual count written. Zero-length writes are no-ops
// that return 0.
func Write(pid int, addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if plat.IsSelf(pid) {
		return writeSelf(addr, buf)
	}
	return writeForeign(pid, addr, buf)
}

// writeSelf implements the self-process write policy: mprotect the
// page-aligned span R+W+X, then process_vm_writev into it. Original
// protection is deliberately not restored — injected code must remain
// executable afterward; this is an intentional W^X violation required
// by the injected-trampoline use case and must not be "fixed."
func writeSelf(addr uint64, buf []byte) (int, error) {
	pageSize := uint64(unix.Getpagesize())
	start := alignDown(addr, pageSize)
	end := alignUp(addr+uint64(len(buf)), pageSize)

	prot := unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	if err := unixMprotect(start, end-start, prot); err != nil {
		return 0, fmt.Errorf("memio: mprotect self [%#x,%#x): %w", start, end, err)
	}

	n, err := pvmWrite(plat.Pid(), addr, buf)
	if err == unix.ENOSYS {
		// Old kernel or seccomp filter. The span is already mprotected
		// writable and this is our own address space, so a plain copy
		// is equivalent.
		plat.Log(plat.WARN, "memio: process_vm_writev unavailable, copying directly at %#x", addr)
		return copy(unsafeSlice(uintptr(addr), len(buf)), buf), nil
	}
	if err != nil {
		plat.Log(plat.ERROR, "memio: process_vm_writev self addr=%#x: %v", addr, err)
		return n, err
	}
	return n, nil
}

// writeForeign implements the cross-process Linux write path:
// PTRACE_ATTACH, waitpid, a loop of PTRACE_POKEDATA writes at word
// granularity, with a PEEKDATA/merge/POKEDATA read-modify-write for
// any sub-word remainder. PTRACE_DETACH runs on every exit path.
func writeForeign(pid int, addr uint64, buf []byte) (int, error) {
	if err := ptraceAttach(pid); err != nil {
		return 0, err
	}
	defer ptraceDetach(pid)

	written := 0
	cur := addr
	remaining := buf
	for len(remaining) > 0 {
		if len(remaining) >= wordSize && cur%wordSize == 0 {
			n, err := ptracePoke(pid, uintptr(cur), remaining[:wordSize])
			if err != nil {
				return written, fmt.Errorf("memio: ptrace poke pid=%d addr=%#x: %w", pid, cur, err)
			}
			written += n
			cur += uint64(n)
			remaining = remaining[n:]
			continue
		}

		// Sub-word remainder, or unaligned base: read-modify-write the
		// containing word so we never clobber neighboring bytes.
		wordStart := alignDown(cur, wordSize)
		offset := int(cur - wordStart)
		chunk := wordSize - offset
		if chunk > len(remaining) {
			chunk = len(remaining)
		}

		word := make([]byte, wordSize)
		if _, err := ptracePeek(pid, uintptr(wordStart), word); err != nil {
			return written, fmt.Errorf("memio: ptrace peek (tail rmw) pid=%d addr=%#x: %w", pid, wordStart, err)
		}
		copy(word[offset:offset+chunk], remaining[:chunk])
		if _, err := ptracePoke(pid, uintptr(wordStart), word); err != nil {
			return written, fmt.Errorf("memio: ptrace poke (tail rmw) pid=%d addr=%#x: %w", pid, wordStart, err)
		}
		written += chunk
		cur += uint64(chunk)
		remaining = remaining[chunk:]
	}
	return written, nil
}

func unixMprotect(addr, length uint64, prot int) error {
	b := unsafeSlice(uintptr(addr), int(length))
	return unix.Mprotect(b, prot)
}
