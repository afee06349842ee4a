// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nativedbg-shell is a manual-test harness for the agent
// packages under internal/, built the way cmd/viewcore drives
// golang.org/x/debug's internal/core and internal/gocore by hand: one
// subcommand per operation, plus an interactive "shell" subcommand for
// driving several operations against the same pid without re-invoking
// the binary each time.
//
// Run "nativedbg-shell help" for the full command list.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nativedbg-shell",
		Short: "manual-test harness for the nativedbg process/debug agent",
	}
	root.AddCommand(
		newCapsCmd(),
		newPsCmd(),
		newModulesCmd(),
		newRegionsCmd(),
		newReadCmd(),
		newWriteCmd(),
		newSuspendCmd(),
		newResumeCmd(),
		newWatchCmd(),
		newBreakCmd(),
		newShellCmd(),
	)
	return root
}
