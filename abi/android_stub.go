// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !android

package main

// resolveAndroidProcessVM is a no-op on every non-Android GOOS: Linux
// desktop, macOS/iOS, and Windows all reach process_vm_readv/writev
// (or their platform equivalents) without a dlopen dance.
func resolveAndroidProcessVM() error {
	return nil
}
