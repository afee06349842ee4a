// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/inferior/nativedbg/internal/control"
	"github.com/inferior/nativedbg/internal/debugger"
	"github.com/inferior/nativedbg/internal/memio"
	"github.com/inferior/nativedbg/internal/procfs"
	"github.com/inferior/nativedbg/internal/region"
	"github.com/inferior/nativedbg/internal/target"
)

func newCapsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "show which operations this build supports",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := target.Current()
			rows := []struct {
				name string
				ok   bool
			}{
				{"read-memory", c.ReadMemory},
				{"write-memory", c.WriteMemory},
				{"regions", c.Regions},
				{"modules", c.Modules},
				{"suspend-resume", c.SuspendResume},
				{"hardware-debug", c.HardwareDebug},
			}
			for _, r := range rows {
				state := "no"
				if r.ok {
					state = "yes"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-15s %s\n", r.name, state)
			}
			return nil
		},
	}
}

func newPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "list running processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range procfs.ListProcesses() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", p.Pid, p.Name)
			}
			return nil
		},
	}
}

func newModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules <pid>",
		Short: "list modules loaded into a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("nativedbg-shell: bad pid %q: %w", args[0], err)
			}
			for _, m := range procfs.ListModules(pid) {
				bits := 32
				if m.Is64Bit {
					bits = 64
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%#016x %#x %d-bit %s\n", m.Base, m.Size, bits, m.PathOrName)
			}
			return nil
		},
	}
}

func newRegionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regions <pid>",
		Short: "print the memory region map of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("nativedbg-shell: bad pid %q: %w", args[0], err)
			}
			regions, err := region.Walk(pid)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), region.Format(regions))
			return nil
		},
	}
}

func newReadCmd() *cobra.Command {
	var size uint64
	cmd := &cobra.Command{
		Use:   "read <pid> <hex-addr>",
		Short: "read memory from a process and print it as hex",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, addr, err := parsePidAddr(args)
			if err != nil {
				return err
			}
			buf := make([]byte, size)
			n, err := memio.Read(pid, addr, buf)
			if err != nil && n == 0 {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(buf[:n]))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&size, "size", 64, "number of bytes to read")
	return cmd
}

func newWriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <pid> <hex-addr> <hex-bytes>",
		Short: "write hex-encoded bytes into a process's address space",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, addr, err := parsePidAddr(args[:2])
			if err != nil {
				return err
			}
			buf, err := hex.DecodeString(args[2])
			if err != nil {
				return fmt.Errorf("nativedbg-shell: bad hex payload: %w", err)
			}
			n, err := memio.Write(pid, addr, buf)
			if err != nil && n == 0 {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes\n", n)
			return nil
		},
	}
}

func newSuspendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suspend <pid>",
		Short: "suspend every thread of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			if !control.Suspend(pid) {
				return fmt.Errorf("nativedbg-shell: suspend %d failed", pid)
			}
			return nil
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <pid>",
		Short: "resume every thread of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			if !control.Resume(pid) {
				return fmt.Errorf("nativedbg-shell: resume %d failed", pid)
			}
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	var size int
	var typ string
	cmd := &cobra.Command{
		Use:   "watch <pid> <hex-addr>",
		Short: "attach (if needed) and arm a hardware watchpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, addr, err := parsePidAddr(args)
			if err != nil {
				return err
			}
			d, err := debugger.New(pid, logEvent(cmd))
			if err != nil {
				return err
			}
			wt, err := parseWatchType(typ)
			if err != nil {
				return err
			}
			status := d.SetWatchpoint(addr, size, wt)
			if status != debugger.KernSuccess {
				return status
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 4, "watch size in bytes: 1, 2, 4, or 8")
	cmd.Flags().StringVar(&typ, "type", "write", "watch type: read, write, or readwrite")
	return cmd
}

func newBreakCmd() *cobra.Command {
	var hitCount int
	cmd := &cobra.Command{
		Use:   "break <pid> <hex-addr>",
		Short: "attach (if needed) and arm a hardware breakpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, addr, err := parsePidAddr(args)
			if err != nil {
				return err
			}
			d, err := debugger.New(pid, logEvent(cmd))
			if err != nil {
				return err
			}
			status := d.SetBreakpoint(addr, hitCount)
			if status != debugger.KernSuccess {
				return status
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&hitCount, "hit-count", 1, "number of hits before the breakpoint fires")
	return cmd
}

func logEvent(cmd *cobra.Command) debugger.NotifyFunc {
	return func(ev debugger.Event) {
		fmt.Fprintf(cmd.OutOrStdout(), "event: kind=%s index=%d address=%#x pc=%#x\n", ev.Kind, ev.Index, ev.Address, ev.PC)
	}
}

func parseWatchType(s string) (debugger.WatchType, error) {
	switch s {
	case "read":
		return debugger.Read, nil
	case "write":
		return debugger.Write, nil
	case "readwrite":
		return debugger.ReadWrite, nil
	default:
		return 0, fmt.Errorf("nativedbg-shell: bad watch type %q, want read, write, or readwrite", s)
	}
}

func parsePidAddr(args []string) (pid int, addr uint64, err error) {
	pid, err = strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("nativedbg-shell: bad pid %q: %w", args[0], err)
	}
	addr, err = strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("nativedbg-shell: bad address %q: %w", args[1], err)
	}
	return pid, addr, nil
}
