// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package procfs

import (
	"os"
	"testing"

	"github.com/inferior/nativedbg/internal/region"
)

func TestListProcessesContainsSelf(t *testing.T) {
	self := os.Getpid()
	for _, p := range ListProcesses() {
		if p.Pid == self {
			if p.Name == "" {
				t.Error("ListProcesses: self entry has empty Name")
			}
			return
		}
	}
	t.Errorf("ListProcesses did not include the calling process (pid %d)", self)
}

func TestListModulesSelfHasExecutable(t *testing.T) {
	mods := ListModules(os.Getpid())
	if len(mods) == 0 {
		t.Fatal("ListModules(self) returned no modules")
	}
	for _, m := range mods {
		if m.PathOrName == "" {
			t.Error("ListModules returned a record with empty PathOrName")
		}
		if m.Size == 0 {
			t.Errorf("ListModules: module %s has zero size", m.PathOrName)
		}
	}
}

func TestModulesCoveredByReadableRegions(t *testing.T) {
	pid := os.Getpid()
	regions, err := region.Walk(pid)
	if err != nil {
		t.Fatalf("region.Walk(self): %v", err)
	}
	m := region.NewMap(regions)
	for _, mod := range ListModules(pid) {
		if !m.Readable(mod.Base) {
			t.Errorf("module %s at %#x is not inside a readable region", mod.PathOrName, mod.Base)
		}
	}
}

func TestListModulesUnknownPid(t *testing.T) {
	const impossiblePid = 1<<31 - 1
	if mods := ListModules(impossiblePid); mods != nil {
		t.Errorf("ListModules(impossible pid) = %v, want nil", mods)
	}
}
