// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugger

import (
	"fmt"

	"github.com/inferior/nativedbg/arch"
	"github.com/inferior/nativedbg/internal/memio"
	"github.com/inferior/nativedbg/internal/plat"
)

// softBreakpoint is the software breakpoint patch path: for a
// platform that exposes no usable hardware slot, install a trap
// instruction directly and restore the original bytes on removal.
// The ARM64 Mach configuration never needs this; it exists for
// callers on unsupported GOOS/GOARCH pairs that choose to fall back
// here instead of failing outright.
type softBreakpoint struct {
	pc   uint64
	orig [arch.MaxBreakpointSize]byte
}

// installSoftBreakpoint reads and saves the original instruction at
// pc, then writes a's breakpoint encoding in its place via memio.Write
// — the only place in the agent a software breakpoint is patched in,
// keeping the hardware FSM in debugger.go untouched by this fallback.
func installSoftBreakpoint(pid int, a *arch.Architecture, pc uint64) (*softBreakpoint, error) {
	bp := &softBreakpoint{pc: pc}
	n, err := memio.Read(pid, pc, bp.orig[:a.BreakpointSize])
	if err != nil || n != a.BreakpointSize {
		return nil, fmt.Errorf("debugger: softbp: read original instruction at %#x: %w", pc, err)
	}
	if _, err := memio.Write(pid, pc, a.BreakpointInstr[:a.BreakpointSize]); err != nil {
		return nil, fmt.Errorf("debugger: softbp: patch trap at %#x: %w", pc, err)
	}
	plat.Log(plat.DEBUG, "debugger: installed software breakpoint at %#x", pc)
	return bp, nil
}

// removeSoftBreakpoint restores the saved original bytes.
func removeSoftBreakpoint(pid int, a *arch.Architecture, bp *softBreakpoint) error {
	if _, err := memio.Write(pid, bp.pc, bp.orig[:a.BreakpointSize]); err != nil {
		return fmt.Errorf("debugger: softbp: restore original instruction at %#x: %w", bp.pc, err)
	}
	return nil
}
