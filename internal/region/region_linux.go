// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package region

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/inferior/nativedbg/internal/plat"
)

// Walk reads /proc/<pid>/maps and returns the region list, one entry
// per line in ascending address order.
func Walk(pid int) ([]Region, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Region
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		r, ok, err := parseMapsLine(sc.Text())
		if err != nil {
			plat.Log(plat.WARN, "region: skipping unparsable /proc/%d/maps line: %v", pid, err)
			continue
		}
		if !ok {
			continue
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	SortRegions(out)
	return out, nil
}

// parseMapsLine parses one /proc/pid/maps line, e.g.:
//
//	00400000-00452000 r-xp 00000000 08:02 173521 /usr/bin/cat
func parseMapsLine(line string) (Region, bool, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Region{}, false, fmt.Errorf("too few fields: %q", line)
	}
	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return Region{}, false, fmt.Errorf("bad address range: %q", fields[0])
	}
	min, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return Region{}, false, err
	}
	max, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return Region{}, false, err
	}
	permStr := fields[1]
	var perm Perm
	if strings.Contains(permStr, "r") {
		perm |= Read
	}
	if strings.Contains(permStr, "w") {
		perm |= Write
	}
	if strings.Contains(permStr, "x") {
		perm |= Exec
	}
	if strings.Contains(permStr, "p") {
		perm |= Private
	}
	r := Region{Min: min, Max: max, Perm: perm, State: Committed}
	if len(fields) >= 6 {
		r.Backing = fields[5]
	}
	return r, true, nil
}
