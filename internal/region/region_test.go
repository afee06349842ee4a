// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package region

import "testing"

func TestPermString(t *testing.T) {
	cases := []struct {
		p    Perm
		want string
	}{
		{0, "----"},
		{Read, "r---"},
		{Read | Write, "rw--"},
		{Read | Write | Exec, "rwx-"},
		{Read | Write | Exec | Private, "rwxp"},
	}
	for _, c := range cases {
		if got := c.p.String(); got != c.want {
			t.Errorf("Perm(%d).String() = %q, want %q", c.p, got, c.want)
		}
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	regions := []Region{
		{Min: 0x1000, Max: 0x2000, Perm: Read | Exec | Private, State: Committed, Backing: "/bin/true"},
		{Min: 0x2000, Max: 0x3000, Perm: Read | Write | Private, State: Committed},
		{Min: 0x3000, Max: 0x4000, Perm: 0, State: Reserved},
	}
	text := Format(regions)
	got, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != len(regions) {
		t.Fatalf("Parse returned %d regions, want %d", len(got), len(regions))
	}
	for i, r := range regions {
		g := got[i]
		if g.Min != r.Min || g.Max != r.Max || g.Perm != r.Perm || g.State != r.State || g.Backing != r.Backing {
			t.Errorf("round trip [%d]: got %+v, want %+v", i, g, r)
		}
	}
}

func TestSortRegions(t *testing.T) {
	rs := []Region{
		{Min: 0x3000, Max: 0x4000},
		{Min: 0x1000, Max: 0x2000},
		{Min: 0x2000, Max: 0x3000},
	}
	SortRegions(rs)
	for i := 1; i < len(rs); i++ {
		if rs[i-1].Min >= rs[i].Min {
			t.Errorf("SortRegions did not order ascending: %+v", rs)
		}
	}
}

func TestRegionSize(t *testing.T) {
	r := Region{Min: 0x1000, Max: 0x1400}
	if r.Size() != 0x400 {
		t.Errorf("Size() = %#x, want %#x", r.Size(), 0x400)
	}
}
