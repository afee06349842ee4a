// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memio reads and writes the memory of a target process,
// self or foreign. Platform files provide Read and Write; this file
// holds only the pieces shared across all three platforms.
package memio

import "errors"

// ErrUnsupported names the error for an operation with no
// implementation on the current GOOS. Read and Write are implemented
// for linux (and android), darwin, and windows, and none of those
// implementations returns it.
var ErrUnsupported = errors.New("memio: unsupported on this platform")

// alignDown rounds addr down to the nearest multiple of pageSize.
func alignDown(addr uint64, pageSize uint64) uint64 {
	return addr &^ (pageSize - 1)
}

// alignUp rounds addr up to the nearest multiple of pageSize.
func alignUp(addr uint64, pageSize uint64) uint64 {
	return alignDown(addr+pageSize-1, pageSize)
}
