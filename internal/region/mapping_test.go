// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package region

import "testing"

func TestMapFind(t *testing.T) {
	regions := []Region{
		{Min: 0x1000, Max: 0x4000, Perm: Read | Exec},
		{Min: 0x100000000000, Max: 0x100000001000, Perm: Read | Write},
	}
	m := NewMap(regions)

	if r := m.Find(0x1500); r == nil || r.Min != 0x1000 {
		t.Errorf("Find(0x1500) = %v, want region starting at 0x1000", r)
	}
	if r := m.Find(0x4000); r != nil {
		t.Errorf("Find(0x4000) = %v, want nil (exclusive upper bound)", r)
	}
	if r := m.Find(0x8000); r != nil {
		t.Errorf("Find(0x8000) = %v, want nil (unmapped gap)", r)
	}
	if r := m.Find(0x100000000500); r == nil || r.Min != 0x100000000000 {
		t.Errorf("Find(high addr) = %v, want region starting at 0x100000000000", r)
	}
}

func TestMapReadable(t *testing.T) {
	regions := []Region{
		{Min: 0x1000, Max: 0x2000, Perm: Read},
		{Min: 0x2000, Max: 0x3000, Perm: Write},
	}
	m := NewMap(regions)

	if !m.Readable(0x1500) {
		t.Error("Readable(0x1500) = false, want true")
	}
	if m.Readable(0x2500) {
		t.Error("Readable(0x2500) = true, want false (write-only region)")
	}
	if m.Readable(0x9000) {
		t.Error("Readable(0x9000) = true, want false (unmapped)")
	}
}

func TestMapRegionsPreservesOrder(t *testing.T) {
	regions := []Region{
		{Min: 0x1000, Max: 0x2000},
		{Min: 0x2000, Max: 0x3000},
	}
	m := NewMap(regions)
	got := m.Regions()
	if len(got) != 2 || got[0].Min != 0x1000 || got[1].Min != 0x2000 {
		t.Errorf("Regions() = %+v, want original order preserved", got)
	}
}
