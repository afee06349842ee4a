// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fileio

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// binaryPath resolves the module file name via GetModuleFileNameEx.
func binaryPath(pid int) (string, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, uint32(pid))
	if err != nil {
		return "", fmt.Errorf("fileio: OpenProcess(%d): %w", pid, err)
	}
	defer windows.CloseHandle(h)

	var buf [windows.MAX_PATH]uint16
	n, err := windows.GetModuleFileNameEx(h, 0, &buf[0], uint32(len(buf)))
	if err != nil || n == 0 {
		return "", fmt.Errorf("fileio: GetModuleFileNameEx(%d): %w", pid, err)
	}
	return windows.UTF16ToString(buf[:n]), nil
}
