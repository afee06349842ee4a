// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

// newShellCmd opens an interactive REPL over the same command tree,
// so a sequence of ps/regions/watch/break calls can be driven against
// one pid without re-invoking the binary each time. Every line is
// split and re-dispatched through newRootCmd the way a one-shot
// invocation would be.
func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "open an interactive REPL over the command tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.OutOrStdout())
		},
	}
}

func runShell(out io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "nativedbg> ",
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("nativedbg-shell: shell: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		args, err := splitArgs(line)
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		root := newRootCmd()
		root.SetOut(out)
		root.SetArgs(args)
		if err := root.Execute(); err != nil {
			fmt.Fprintln(out, err)
		}
	}
}

// splitArgs is a minimal whitespace/quote tokenizer, enough for pid,
// hex address, and hex payload arguments; it does not aim to cover
// full shell quoting.
func splitArgs(line string) ([]string, error) {
	var args []string
	var cur strings.Builder
	inQuote := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("nativedbg-shell: unterminated quote in %q", line)
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args, nil
}
