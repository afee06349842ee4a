// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memio

import "unsafe"

// unsafeSlice views the addr bytes of length as a []byte without a
// copy, for passing an address range to unix.Mprotect which operates
// on a slice backed by the mapped memory itself.
func unsafeSlice(addr uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
}
