// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package testenv

// Crash terminates the current process with a fault. Tests spawn a
// tracee that calls this mid-run to check the agent surfaces a
// vanished target as an error instead of wedging.
//
// Make it noinline so registers are spilled before entering, keeping
// the caller's frame visible to anything inspecting the corpse.
//
//go:noinline
func Crash() {
	_ = *(*int)(nil)
}
