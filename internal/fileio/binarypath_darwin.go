// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fileio

/*
#include <libproc.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// binaryPath resolves the process image path via proc_pidpath.
func binaryPath(pid int) (string, error) {
	buf := make([]byte, C.PROC_PIDPATHINFO_MAXSIZE)
	n := C.proc_pidpath(C.int(pid), unsafe.Pointer(&buf[0]), C.uint32_t(len(buf)))
	if n <= 0 {
		return "", fmt.Errorf("fileio: proc_pidpath(%d) failed", pid)
	}
	return string(buf[:n]), nil
}
