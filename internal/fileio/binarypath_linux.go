// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fileio

import (
	"fmt"
	"os"
)

// binaryPath resolves /proc/<pid>/exe.
func binaryPath(pid int) (string, error) {
	path, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return "", fmt.Errorf("fileio: readlink /proc/%d/exe: %w", pid, err)
	}
	return path, nil
}
