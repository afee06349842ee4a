// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fileio provides the agent's file-system convenience
// accessors: reading an arbitrary file, resolving a pid's binary
// path as JSON, and rendering a depth-bounded directory listing.
package fileio

import "os"

// ReadFile reads the whole named file, returning the OS error
// verbatim on failure.
func ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
