// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package procfs

/*
#include <mach/mach.h>
#include <mach/task_info.h>

// nd_dyld_info_addr resolves the target's dyld_all_image_infos
// address via task_info(TASK_DYLD_INFO). The task send right is
// per-call, released before returning.
static kern_return_t nd_dyld_info_addr(int pid, uint64_t *addr) {
	mach_port_t task;
	kern_return_t kr = task_for_pid(mach_task_self(), pid, &task);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	struct task_dyld_info di;
	mach_msg_type_number_t count = TASK_DYLD_INFO_COUNT;
	kr = task_info(task, TASK_DYLD_INFO, (task_info_t)&di, &count);
	mach_port_deallocate(mach_task_self(), task);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	*addr = di.all_image_info_addr;
	return KERN_SUCCESS;
}
*/
import "C"

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/inferior/nativedbg/internal/memio"
	"github.com/inferior/nativedbg/internal/plat"
)

// ListProcesses enumerates via sysctl(CTL_KERN, KERN_PROC,
// KERN_PROC_ALL); each name comes from kinfo_proc.kp_proc.p_comm.
func ListProcesses() []ProcessRecord {
	procs, err := unix.SysctlKinfoProcSlice("kern.proc.all")
	if err != nil {
		plat.Log(plat.ERROR, "procfs: sysctl(kern.proc.all): %v", err)
		return nil
	}
	out := make([]ProcessRecord, 0, len(procs))
	for i := range procs {
		p := &procs[i]
		out = append(out, ProcessRecord{Pid: int(p.Proc.P_pid), Name: commString(p.Proc.P_comm[:])})
	}
	return out
}

func commString(comm []byte) string {
	if i := bytes.IndexByte(comm, 0); i >= 0 {
		comm = comm[:i]
	}
	return string(comm)
}

// Mach-O constants for walking a loaded 64-bit image's segment load
// commands out of the target.
const (
	machHeader64Size = 32
	machMagic64      = 0xfeedfacf
	lcSegment64      = 0x19
	dyldImageEntry   = 24 // sizeof(struct dyld_image_info) on LP64
	maxImages        = 4096
)

// ListModules enumerates the target's loaded images from its
// dyld_all_image_infos structure: task_info hands back the structure's
// address, and everything from there on is plain target-memory reads
// (the info array, each image's load address and path, and the Mach-O
// header at the load address).
func ListModules(pid int) []ModuleRecord {
	var infoAddr C.uint64_t
	if kr := C.nd_dyld_info_addr(C.int(pid), &infoAddr); kr != C.KERN_SUCCESS {
		plat.Log(plat.ERROR, "procfs: task_info(TASK_DYLD_INFO, pid=%d): kern_return %d", pid, int(kr))
		return nil
	}

	// struct dyld_all_image_infos (LP64 prefix): version uint32,
	// infoArrayCount uint32, infoArray uint64.
	hdr := make([]byte, 16)
	if n, err := memio.Read(pid, uint64(infoAddr), hdr); err != nil || n < len(hdr) {
		plat.Log(plat.ERROR, "procfs: read dyld_all_image_infos(pid=%d): %v", pid, err)
		return nil
	}
	count := binary.LittleEndian.Uint32(hdr[4:8])
	arrayAddr := binary.LittleEndian.Uint64(hdr[8:16])
	if count == 0 || arrayAddr == 0 {
		return nil
	}
	if count > maxImages {
		plat.Log(plat.WARN, "procfs: pid=%d reports %d images, walking first %d", pid, count, maxImages)
		count = maxImages
	}

	entries := make([]byte, dyldImageEntry*int(count))
	n, err := memio.Read(pid, arrayAddr, entries)
	if err != nil || n < dyldImageEntry {
		plat.Log(plat.ERROR, "procfs: read dyld image array(pid=%d): %v", pid, err)
		return nil
	}
	entries = entries[:n-n%dyldImageEntry]

	var out []ModuleRecord
	for off := 0; off+dyldImageEntry <= len(entries); off += dyldImageEntry {
		load := binary.LittleEndian.Uint64(entries[off:])
		pathPtr := binary.LittleEndian.Uint64(entries[off+8:])
		if load == 0 {
			continue
		}
		is64, size := imageSize(pid, load)
		out = append(out, ModuleRecord{
			Base:       load,
			Size:       size,
			Is64Bit:    is64,
			PathOrName: readTargetCString(pid, pathPtr),
		})
	}
	return out
}

// readTargetCString reads a NUL-terminated string out of the target,
// tolerating short reads near the end of a mapping.
func readTargetCString(pid int, addr uint64) string {
	if addr == 0 {
		return ""
	}
	buf := make([]byte, 512)
	n, _ := memio.Read(pid, addr, buf)
	if n <= 0 {
		return ""
	}
	if i := bytes.IndexByte(buf[:n], 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf[:n])
}

// imageSize reads the Mach-O header at base and sums the vmsize of
// every LC_SEGMENT_64 load command except __PAGEZERO, giving the
// image's mapped footprint.
func imageSize(pid int, base uint64) (is64 bool, size uint64) {
	hdr := make([]byte, machHeader64Size)
	if n, err := memio.Read(pid, base, hdr); err != nil || n < machHeader64Size {
		return false, 0
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != machMagic64 {
		return false, 0
	}
	ncmds := binary.LittleEndian.Uint32(hdr[16:20])
	sizeofcmds := binary.LittleEndian.Uint32(hdr[20:24])

	cmds := make([]byte, sizeofcmds)
	if n, err := memio.Read(pid, base+machHeader64Size, cmds); err != nil || n < len(cmds) {
		cmds = cmds[:n]
	}

	off := 0
	for i := 0; i < int(ncmds) && off+8 <= len(cmds); i++ {
		cmd := binary.LittleEndian.Uint32(cmds[off:])
		cmdsize := int(binary.LittleEndian.Uint32(cmds[off+4:]))
		if cmdsize < 8 || off+cmdsize > len(cmds) {
			break
		}
		// struct segment_command_64: segname at offset 8, vmsize at 32.
		if cmd == lcSegment64 && cmdsize >= 40 {
			segname := cmds[off+8 : off+24]
			if !bytes.HasPrefix(segname, []byte("__PAGEZERO\x00")) {
				size += binary.LittleEndian.Uint64(cmds[off+32:])
			}
		}
		off += cmdsize
	}
	return true, size
}
