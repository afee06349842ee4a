// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package region

// Map is a fast address -> Region lookup structure, the same sparse
// radix tree as golang.org/x/debug's core.pageTable{0..4}: assume 4K
// pages and split the 64-bit address space into five levels so that
// lookups touch only the levels actually populated by real mappings.
type Map struct {
	regions []Region
	table   pageTable4
}

type pageTable0 [1 << 10]*Region
type pageTable1 [1 << 10]*pageTable0
type pageTable2 [1 << 10]*pageTable1
type pageTable3 [1 << 10]*pageTable2
type pageTable4 [1 << 12]*pageTable3

const pageShift = 12
const pageSize = 1 << pageShift

// NewMap builds a lookup Map from an ascending, non-overlapping list
// of regions (as produced by a live region walk).
func NewMap(regions []Region) *Map {
	m := &Map{regions: regions}
	for i := range regions {
		m.insert(&regions[i])
	}
	return m
}

func (m *Map) insert(r *Region) {
	min := r.Min &^ (pageSize - 1)
	max := (r.Max + pageSize - 1) &^ (pageSize - 1)
	for a := min; a < max; a += pageSize {
		i3 := a >> 52
		t3 := m.table[i3]
		if t3 == nil {
			t3 = new(pageTable3)
			m.table[i3] = t3
		}
		i2 := a >> 42 % (1 << 10)
		t2 := t3[i2]
		if t2 == nil {
			t2 = new(pageTable2)
			t3[i2] = t2
		}
		i1 := a >> 32 % (1 << 10)
		t1 := t2[i1]
		if t1 == nil {
			t1 = new(pageTable1)
			t2[i1] = t1
		}
		i0 := a >> 22 % (1 << 10)
		t0 := t1[i0]
		if t0 == nil {
			t0 = new(pageTable0)
			t1[i0] = t0
		}
		t0[a>>12%(1<<10)] = r
	}
}

// Find returns the Region containing address a, or nil if a falls in
// an unmapped gap.
func (m *Map) Find(a uint64) *Region {
	t3 := m.table[a>>52]
	if t3 == nil {
		return nil
	}
	t2 := t3[a>>42%(1<<10)]
	if t2 == nil {
		return nil
	}
	t1 := t2[a>>32%(1<<10)]
	if t1 == nil {
		return nil
	}
	t0 := t1[a>>22%(1<<10)]
	if t0 == nil {
		return nil
	}
	r := t0[a>>12%(1<<10)]
	if r == nil || a < r.Min || a >= r.Max {
		return nil
	}
	return r
}

// Readable reports whether address a falls in a region with at least
// read permission.
func (m *Map) Readable(a uint64) bool {
	r := m.Find(a)
	return r != nil && r.Perm&Read != 0
}

// Regions returns the regions backing this Map, in the order supplied
// to NewMap.
func (m *Map) Regions() []Region {
	return m.regions
}
