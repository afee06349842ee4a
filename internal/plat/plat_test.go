// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plat

import (
	"io"
	"log"
	"os"
	"strings"
	"testing"
)

func discardLogger() Logger {
	return NewStdLogger(log.New(io.Discard, "", 0))
}

type captureLogger struct {
	level Level
	msg   string
}

func (c *captureLogger) Log(level Level, msg string) {
	c.level = level
	c.msg = msg
}

func TestLogRoutesThroughInstalledLogger(t *testing.T) {
	cap := &captureLogger{}
	SetLogger(cap)
	defer SetLogger(discardLogger())

	Log(WARN, "pid=%d missing", 42)
	if cap.level != WARN {
		t.Errorf("level = %v, want WARN", cap.level)
	}
	if !strings.Contains(cap.msg, "pid=42 missing") {
		t.Errorf("msg = %q, want it to contain %q", cap.msg, "pid=42 missing")
	}
}

func TestSetLoggerNilIsNoop(t *testing.T) {
	cap := &captureLogger{}
	SetLogger(cap)
	defer SetLogger(discardLogger())

	SetLogger(nil)
	Log(INFO, "still routed to cap")
	if cap.msg != "still routed to cap" {
		t.Errorf("SetLogger(nil) replaced the installed logger; msg = %q", cap.msg)
	}
}

func TestIsSelf(t *testing.T) {
	if !IsSelf(os.Getpid()) {
		t.Error("IsSelf(own pid) = false, want true")
	}
	if IsSelf(os.Getpid() + 1) {
		t.Error("IsSelf(a different pid) = true, want false")
	}
}

func TestPageSizePositive(t *testing.T) {
	if PageSize() <= 0 {
		t.Errorf("PageSize() = %d, want > 0", PageSize())
	}
}
