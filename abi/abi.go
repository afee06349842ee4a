// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command abi is the C-callable surface consumed by the embedding
// host. It is pure forwarding plus return-code normalization: every
// exported symbol here dispatches to the internal packages and
// flattens Go errors into the sentinel integers/kernel status codes
// the host expects. It owns no state of its own besides serverState
// and the handle table.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef struct {
	int64_t pid;
	char*   name;
} process_record_t;

typedef struct {
	uint64_t base;
	uint64_t size;
	int      is_64bit;
	char*    path_or_name;
} module_record_t;
*/
import "C"

import (
	"encoding/json"
	"unsafe"

	"github.com/inferior/nativedbg/internal/control"
	"github.com/inferior/nativedbg/internal/debugger"
	"github.com/inferior/nativedbg/internal/fileio"
	"github.com/inferior/nativedbg/internal/memio"
	"github.com/inferior/nativedbg/internal/plat"
	"github.com/inferior/nativedbg/internal/procfs"
	"github.com/inferior/nativedbg/internal/region"
)

func main() {} // required by -buildmode=c-shared; the real entry points are the exports below.

//export native_init
func native_init(mode C.int) C.int {
	return C.int(nativeInit(int32(mode)))
}

//export get_pid_native
func get_pid_native() C.int {
	return C.int(plat.Pid())
}

//export read_memory_native
func read_memory_native(pid C.int, addr C.uint64_t, size C.uint64_t, buf *C.uint8_t) C.int64_t {
	if size == 0 {
		return 0
	}
	out := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(size))
	n, err := memio.Read(int(pid), uint64(addr), out)
	if err != nil && n == 0 {
		return -1
	}
	return C.int64_t(n)
}

//export write_memory_native
func write_memory_native(pid C.int, addr C.uint64_t, size C.uint64_t, buf *C.uint8_t) C.int64_t {
	if size == 0 {
		return 0
	}
	in := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(size))
	n, err := memio.Write(int(pid), uint64(addr), in)
	if err != nil && n == 0 {
		return -1
	}
	return C.int64_t(n)
}

//export enumerate_regions_to_buffer
func enumerate_regions_to_buffer(pid C.int, buf *C.char, bufsize C.size_t) {
	regions, err := region.Walk(int(pid))
	if err != nil {
		plat.Log(plat.ERROR, "abi: enumerate_regions_to_buffer(%d): %v", int(pid), err)
		writeCString(buf, bufsize, "")
		return
	}
	writeCStringBounded(buf, bufsize, regions)
}

// writeCStringBounded renders regions one at a time and stops cleanly
// at the last complete line that still fits in the caller's buffer,
// logging at WARN when the enumeration is cut short.
func writeCStringBounded(buf *C.char, bufsize C.size_t, regions []region.Region) {
	limit := int(bufsize)
	if limit <= 0 {
		return
	}
	var fit []region.Region
	used := 0
	for _, r := range regions {
		line := region.Format([]region.Region{r})
		if used+len(line)+1 > limit {
			plat.Log(plat.WARN, "abi: enumerate_regions_to_buffer: buffer full after %d of %d regions", len(fit), len(regions))
			break
		}
		used += len(line)
		fit = append(fit, r)
	}
	writeCString(buf, bufsize, region.Format(fit))
}

func writeCString(buf *C.char, bufsize C.size_t, s string) {
	limit := int(bufsize)
	if limit <= 0 {
		return
	}
	if len(s) > limit-1 {
		s = s[:limit-1]
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(buf)), limit)
	n := copy(dst, s)
	dst[n] = 0
}

//export enumprocess_native
func enumprocess_native(count *C.int) *C.process_record_t {
	procs := procfs.ListProcesses()
	*count = C.int(len(procs))
	if len(procs) == 0 {
		return nil
	}
	arr := C.malloc(C.size_t(len(procs)) * C.size_t(unsafe.Sizeof(C.process_record_t{})))
	handles.track(arr)
	out := unsafe.Slice((*C.process_record_t)(arr), len(procs))
	for i, p := range procs {
		out[i].pid = C.int64_t(p.Pid)
		out[i].name = C.CString(p.Name)
	}
	return (*C.process_record_t)(arr)
}

//export free_process_list_native
func free_process_list_native(arr *C.process_record_t, count C.int) {
	if arr == nil {
		return
	}
	if !handles.release(unsafe.Pointer(arr)) {
		logUnknownHandle(unsafe.Pointer(arr))
		return
	}
	recs := unsafe.Slice(arr, int(count))
	for i := range recs {
		C.free(unsafe.Pointer(recs[i].name))
	}
	C.free(unsafe.Pointer(arr))
}

//export enummodule_native
func enummodule_native(pid C.int, count *C.int) *C.module_record_t {
	mods := procfs.ListModules(int(pid))
	*count = C.int(len(mods))
	if len(mods) == 0 {
		return nil
	}
	arr := C.malloc(C.size_t(len(mods)) * C.size_t(unsafe.Sizeof(C.module_record_t{})))
	handles.track(arr)
	out := unsafe.Slice((*C.module_record_t)(arr), len(mods))
	for i, m := range mods {
		out[i].base = C.uint64_t(m.Base)
		out[i].size = C.uint64_t(m.Size)
		if m.Is64Bit {
			out[i].is_64bit = 1
		}
		out[i].path_or_name = C.CString(m.PathOrName)
	}
	return (*C.module_record_t)(arr)
}

//export free_module_list_native
func free_module_list_native(arr *C.module_record_t, count C.int) {
	if arr == nil {
		return
	}
	if !handles.release(unsafe.Pointer(arr)) {
		logUnknownHandle(unsafe.Pointer(arr))
		return
	}
	recs := unsafe.Slice(arr, int(count))
	for i := range recs {
		C.free(unsafe.Pointer(recs[i].path_or_name))
	}
	C.free(unsafe.Pointer(arr))
}

//export suspend_process
func suspend_process(pid C.int) C.int {
	return boolToC(control.Suspend(int(pid)))
}

//export resume_process
func resume_process(pid C.int) C.int {
	return boolToC(control.Resume(int(pid)))
}

//export explore_directory
func explore_directory(path *C.char, maxDepth C.int) *C.char {
	listing, err := fileio.Explore(C.GoString(path), int(maxDepth))
	if err != nil {
		plat.Log(plat.ERROR, "abi: explore_directory(%s): %v", C.GoString(path), err)
		return nil
	}
	return newTrackedCString(listing)
}

//export free_string_native
func free_string_native(s *C.char) {
	if s == nil {
		return
	}
	if !handles.release(unsafe.Pointer(s)) {
		logUnknownHandle(unsafe.Pointer(s))
		return
	}
	C.free(unsafe.Pointer(s))
}

//export read_file
func read_file(path *C.char, size *C.int64_t, errOut *C.int) *C.uint8_t {
	data, err := fileio.ReadFile(C.GoString(path))
	if err != nil {
		*size = 0
		*errOut = -1
		return nil
	}
	*errOut = 0
	*size = C.int64_t(len(data))
	if len(data) == 0 {
		return nil
	}
	buf := C.malloc(C.size_t(len(data)))
	handles.track(buf)
	copy(unsafe.Slice((*byte)(buf), len(data)), data)
	return (*C.uint8_t)(buf)
}

//export free_bytes_native
func free_bytes_native(p *C.uint8_t) {
	if p == nil {
		return
	}
	if !handles.release(unsafe.Pointer(p)) {
		logUnknownHandle(unsafe.Pointer(p))
		return
	}
	C.free(unsafe.Pointer(p))
}

//export get_application_info_native
func get_application_info_native(pid C.int) *C.char {
	info, err := fileio.ApplicationInfo(int(pid))
	if err != nil {
		plat.Log(plat.ERROR, "abi: get_application_info_native(%d): %v", int(pid), err)
		empty, _ := json.Marshal(map[string]string{"BinaryPath": ""})
		return newTrackedCString(string(empty))
	}
	return newTrackedCString(info)
}

// newTrackedCString is C.CString plus handle-table registration, used
// by every symbol that hands the host a heap C string so its paired
// free_*_native can verify ownership before calling C.free.
func newTrackedCString(s string) *C.char {
	cs := C.CString(s)
	handles.track(unsafe.Pointer(cs))
	return cs
}

//export debugger_new
func debugger_new(pid C.int) C.int {
	_, err := debugger.New(int(pid), hostNotify)
	if err != nil {
		plat.Log(plat.ERROR, "abi: debugger_new(%d): %v", int(pid), err)
		return boolToC(false)
	}
	setLastAttachedPid(int(pid))
	return boolToC(true)
}

//export set_watchpoint_native
func set_watchpoint_native(addr C.uint64_t, size C.int, watchType C.int) C.int {
	d, ok := debugger.Get(lastAttachedPid())
	if !ok {
		return C.int(debugger.KernFailure)
	}
	return C.int(d.SetWatchpoint(uint64(addr), int(size), debugger.WatchType(watchType)))
}

//export remove_watchpoint_native
func remove_watchpoint_native(addr C.uint64_t) C.int {
	d, ok := debugger.Get(lastAttachedPid())
	if !ok {
		return C.int(debugger.KernFailure)
	}
	return C.int(d.RemoveWatchpoint(uint64(addr)))
}

//export set_breakpoint_native
func set_breakpoint_native(addr C.uint64_t, hitCount C.int) C.int {
	d, ok := debugger.Get(lastAttachedPid())
	if !ok {
		return C.int(debugger.KernFailure)
	}
	return C.int(d.SetBreakpoint(uint64(addr), int(hitCount)))
}

//export remove_breakpoint_native
func remove_breakpoint_native(addr C.uint64_t) C.int {
	d, ok := debugger.Get(lastAttachedPid())
	if !ok {
		return C.int(debugger.KernFailure)
	}
	return C.int(d.RemoveBreakpoint(uint64(addr)))
}

// native_log itself is not a Go-side export: the agent imports that
// symbol from the host, it does not provide it. The matching extern
// declaration and call site live in log_cgo.go's forwardToHost.

func boolToC(b bool) C.int {
	if b {
		return 1
	}
	return 0
}

func logUnknownHandle(ptr unsafe.Pointer) {
	plat.Log(plat.ERROR, "abi: release called on unknown or already-released pointer %p", ptr)
}
