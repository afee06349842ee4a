// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package procfs

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/inferior/nativedbg/internal/memio"
	"github.com/inferior/nativedbg/internal/plat"
	"github.com/inferior/nativedbg/internal/region"
)

// elf64EhdrSize is sizeof(Elf64_Ehdr); the module admission test
// reads exactly this many bytes from both the on-disk file and the
// live mapping at base and requires them to be byte-identical.
const elf64EhdrSize = 64

// ListProcesses walks /proc/<pid> and reads /proc/<pid>/comm (trimmed
// at the first newline) for each process's name.
func ListProcesses() []ProcessRecord {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		plat.Log(plat.ERROR, "procfs: ReadDir(/proc): %v", err)
		return nil
	}
	var out []ProcessRecord
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		name, err := readComm(pid)
		if err != nil {
			continue
		}
		out = append(out, ProcessRecord{Pid: pid, Name: name})
	}
	return out
}

func readComm(pid int) (string, error) {
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "comm"))
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

// ListModules parses /proc/<pid>/maps and admits only mapping entries
// whose on-disk ELF header byte-matches the header found at the
// mapping's base address in the live process. This both filters
// anonymous/JIT mappings and deduplicates the segment-split mappings
// the kernel reports for a single ELF image.
func ListModules(pid int) []ModuleRecord {
	regions, err := region.Walk(pid)
	if err != nil {
		plat.Log(plat.ERROR, "procfs: ListModules(%d): %v", pid, err)
		return nil
	}

	seen := make(map[string]bool)
	var out []ModuleRecord
	for _, r := range regions {
		if r.Backing == "" || !strings.HasPrefix(r.Backing, "/") {
			continue
		}
		if r.Perm&region.Read == 0 {
			continue
		}
		if seen[r.Backing] {
			continue
		}
		admitted, is64, size := admitModule(pid, r)
		if !admitted {
			continue
		}
		seen[r.Backing] = true
		out = append(out, ModuleRecord{
			Base:       r.Min,
			Size:       size,
			Is64Bit:    is64,
			PathOrName: r.Backing,
		})
	}
	return out
}

// admitModule admits a mapping as a module only when the live ELF
// header at base byte-equals the on-disk header.
func admitModule(pid int, r region.Region) (admitted bool, is64 bool, size uint64) {
	live := make([]byte, elf64EhdrSize)
	n, err := memio.Read(pid, r.Min, live)
	if err != nil || n < elf64EhdrSize {
		return false, false, 0
	}

	f, err := os.Open(r.Backing)
	if err != nil {
		return false, false, 0
	}
	defer f.Close()

	onDisk := make([]byte, elf64EhdrSize)
	if _, err := f.ReadAt(onDisk, 0); err != nil {
		return false, false, 0
	}

	if !bytes.Equal(live, onDisk) {
		return false, false, 0
	}

	// e_ident[EI_CLASS] at offset 4: 1 = ELFCLASS32, 2 = ELFCLASS64.
	is64 = onDisk[4] == 2

	size = moduleSize(pid, r)
	return true, is64, size
}

// moduleSize sums every mapping backed by the same file,
// which is the closest live-process analogue of an ELF module's total
// mapped footprint.
func moduleSize(pid int, start region.Region) uint64 {
	regions, err := region.Walk(pid)
	if err != nil {
		return start.Size()
	}
	var total uint64
	for _, r := range regions {
		if r.Backing == start.Backing {
			total += r.Size()
		}
	}
	if total == 0 {
		return start.Size()
	}
	return total
}
