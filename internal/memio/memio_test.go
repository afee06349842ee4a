// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memio

import (
	"bytes"
	"os"
	"testing"
	"unsafe"
)

// scratch lives in the data segment so its pages are ordinary writable
// process memory on every platform.
var scratch [4096]byte

func scratchAddr(off int) uint64 {
	return uint64(uintptr(unsafe.Pointer(&scratch[off])))
}

func TestSelfRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		off  int
		n    int
	}{
		{"single byte", 0, 1},
		{"word aligned", 8, 8},
		{"unaligned with tail", 3, 17},
		{"larger span", 100, 1024},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			for i := range scratch {
				scratch[i] = 0xaa
			}
			pattern := make([]byte, c.n)
			for i := range pattern {
				pattern[i] = byte(0x55 + i)
			}
			addr := scratchAddr(c.off)

			if n, err := Write(os.Getpid(), addr, pattern); err != nil || n != c.n {
				t.Fatalf("Write(self, %#x, %d bytes) = (%d, %v)", addr, c.n, n, err)
			}
			got := make([]byte, c.n)
			if n, err := Read(os.Getpid(), addr, got); err != nil || n != c.n {
				t.Fatalf("Read(self, %#x, %d bytes) = (%d, %v)", addr, c.n, n, err)
			}
			if !bytes.Equal(got, pattern) {
				t.Fatalf("round trip mismatch at offset %d len %d", c.off, c.n)
			}
			if !bytes.Equal(scratch[c.off:c.off+c.n], pattern) {
				t.Fatal("write did not land in the backing bytes")
			}
			// Neighbors must be untouched.
			if c.off > 0 && scratch[c.off-1] != 0xaa {
				t.Fatal("byte before the written span was clobbered")
			}
			if end := c.off + c.n; end < len(scratch) && scratch[end] != 0xaa {
				t.Fatal("byte after the written span was clobbered")
			}
		})
	}
}
