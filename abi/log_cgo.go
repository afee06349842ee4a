// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

/*
#include <stdlib.h>

// native_log is supplied by the host binary this library is linked
// into; it is only declared here so cgo can emit the call.
extern void native_log(int level, const char* message);
*/
import "C"
import "unsafe"

// forwardToHost calls the host's native_log with a level and a
// NUL-terminated copy of msg, used by hostLogger when the agent is
// running in EMBEDDED mode.
func forwardToHost(level int32, msg string) {
	cMsg := C.CString(msg)
	defer C.free(unsafe.Pointer(cMsg))
	C.native_log(C.int(level), cMsg)
}
