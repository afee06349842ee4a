// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package target describes which of the agent's core operations are
// available on the platform it was built for. The operations
// themselves live in the GOOS-tagged files of memio, region, procfs,
// control, and debugger; this package only answers "what works here,"
// so front ends can gray out operations instead of discovering
// failures one call at a time.
package target

import "runtime"

// Capabilities reports, per operation group, whether the current
// GOOS/GOARCH build implements it.
type Capabilities struct {
	ReadMemory    bool
	WriteMemory   bool
	Regions       bool
	Modules       bool
	SuspendResume bool
	// HardwareDebug covers watchpoints, breakpoints, and the
	// single-step machinery, which need debug-register access beyond
	// plain memory I/O.
	HardwareDebug bool
}

// Current returns the capability set of this build.
func Current() Capabilities {
	c := Capabilities{}
	switch runtime.GOOS {
	case "linux", "android", "darwin", "windows":
		c.ReadMemory = true
		c.WriteMemory = true
		c.Regions = true
		c.Modules = true
		c.SuspendResume = true
	}
	switch {
	case runtime.GOOS == "darwin" && runtime.GOARCH == "arm64":
		c.HardwareDebug = true
	case (runtime.GOOS == "linux" || runtime.GOOS == "android") && runtime.GOARCH == "arm64":
		c.HardwareDebug = true
	case runtime.GOOS == "windows" && runtime.GOARCH == "amd64":
		c.HardwareDebug = true
	}
	return c
}
