// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fileio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Explore renders a depth-bounded directory listing: newline-terminated
// lines, directory entries recursing with two-space indent per depth,
// "." and ".." excluded. maxDepth <= 0 lists only the top level.
//
// Go's os.FileInfo.ModTime already reports wall-clock time regardless
// of host OS, so the Windows FILETIME-to-Unix-seconds conversion needs
// no separate code path here: ModTime().Unix() is that conversion,
// performed once by the runtime instead of by hand per platform.
func Explore(path string, maxDepth int) (string, error) {
	var b strings.Builder
	if err := explore(&b, path, 0, maxDepth); err != nil {
		return "", err
	}
	return b.String(), nil
}

func explore(b *strings.Builder, dir string, depth, maxDepth int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("fileio: ReadDir(%s): %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	indent := strings.Repeat("  ", depth)
	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		full := filepath.Join(dir, name)
		if e.IsDir() {
			fmt.Fprintf(b, "%sdir:%s\n", indent, name)
			if depth < maxDepth {
				if err := explore(b, full, depth+1, maxDepth); err != nil {
					// Best-effort: an unreadable subdirectory doesn't
					// abort the whole listing.
					continue
				}
			}
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		fmt.Fprintf(b, "%sfile:%s,%d,%d\n", indent, name, info.Size(), info.ModTime().Unix())
	}
	return nil
}
