// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !((linux && arm64) || (darwin && arm64) || (windows && amd64))

package debugger

import "fmt"

// newHWProgrammer covers every GOOS/GOARCH pair without a hardware
// debug-register implementation. Rather than failing to compile, it
// returns an error, so debugger.New fails (debugger_new reports 0 and
// the watch/break symbols report KernFailure for want of an
// attachment) while the rest of the agent still builds and works on
// platforms with no hardware watch/break support.
func newHWProgrammer(pid int) (hwProgrammer, error) {
	return nil, fmt.Errorf("debugger: no hardware watchpoint/breakpoint support on this GOOS/GOARCH")
}
