// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package region builds and renders the normalized memory map described
// in the agent's wire format: one line per contiguous region, addresses
// in ascending order, permission bits plus a commit state.
//
// The lookup structure is the same sparse radix page table used by
// golang.org/x/debug's core.Mapping, generalized from "mappings sourced
// from a core file's PT_LOAD notes" to "mappings sourced from a live
// process's region walk."
package region

import (
	"bufio"
	"fmt"
	"sort"
	"strings"
)

// Perm is a permission bitmask, matching core.Perm's Read|Write|Exec shape.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
	Private // 'p' in /proc/pid/maps; '-' (shared) otherwise
)

func (p Perm) String() string {
	r, w, x := "-", "-", "-"
	if p&Read != 0 {
		r = "r"
	}
	if p&Write != 0 {
		w = "w"
	}
	if p&Exec != 0 {
		x = "x"
	}
	s := "-"
	if p&Private != 0 {
		s = "p"
	}
	return r + w + x + s
}

// State is the commit state of a region. Linux and macOS regions are
// always Committed; Windows distinguishes reserved (address-space
// claimed, no backing pages) from committed and free.
type State int

const (
	Committed State = iota
	Reserved
	Free
)

func (s State) String() string {
	switch s {
	case Committed:
		return "committed"
	case Reserved:
		return "reserved"
	case Free:
		return "free"
	default:
		return "committed"
	}
}

// Region is one contiguous span of a process's address space.
type Region struct {
	Min, Max uint64
	Perm     Perm
	State    State
	Backing  string
}

func (r Region) Size() uint64 { return r.Max - r.Min }

// addrHexWidth is the zero-pad width of rendered addresses:
// 2*sizeof(void*), i.e. 16 hex digits for a 64-bit address space.
const addrHexWidth = 16

// Format renders regions in the agent's wire layout, one line per
// region, already assumed to be in ascending address order.
func Format(regions []Region) string {
	var b strings.Builder
	for _, r := range regions {
		fmt.Fprintf(&b, "%0*x-%0*x %s %s _ _ %s\n",
			addrHexWidth, r.Min, addrHexWidth, r.Max, r.Perm, r.State, backingOrPlaceholder(r.Backing))
	}
	return b.String()
}

func backingOrPlaceholder(backing string) string {
	if backing == "" {
		return "_"
	}
	return backing
}

// Parse is the inverse of Format, used by tests to recover regions
// from rendered text.
func Parse(text string) ([]Region, error) {
	var out []Region
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		var minS, maxS, permS, stateS, backing string
		var skip1, skip2 string
		_, err := fmt.Sscanf(line, "%s %s %s %s %s %s", &minS, &permS, &stateS, &skip1, &skip2, &backing)
		if err != nil && err.Error() != "EOF" {
			return nil, fmt.Errorf("region: parse %q: %w", line, err)
		}
		parts := strings.SplitN(minS, "-", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("region: bad range %q", minS)
		}
		maxS = parts[1]
		minS = parts[0]
		var min, max uint64
		if _, err := fmt.Sscanf(minS, "%x", &min); err != nil {
			return nil, err
		}
		if _, err := fmt.Sscanf(maxS, "%x", &max); err != nil {
			return nil, err
		}
		r := Region{Min: min, Max: max, Perm: parsePerm(permS), State: parseState(stateS)}
		if backing != "_" {
			r.Backing = backing
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parsePerm(s string) Perm {
	var p Perm
	if len(s) >= 1 && s[0] == 'r' {
		p |= Read
	}
	if len(s) >= 2 && s[1] == 'w' {
		p |= Write
	}
	if len(s) >= 3 && s[2] == 'x' {
		p |= Exec
	}
	if len(s) >= 4 && s[3] == 'p' {
		p |= Private
	}
	return p
}

func parseState(s string) State {
	switch s {
	case "reserved":
		return Reserved
	case "free":
		return Free
	default:
		return Committed
	}
}

// SortRegions orders regions by ascending start address, the order
// the rendered map promises its consumers.
func SortRegions(rs []Region) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Min < rs[j].Min })
}
