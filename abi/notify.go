// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"github.com/inferior/nativedbg/internal/debugger"
	"github.com/inferior/nativedbg/internal/plat"
)

// hostNotify is the debugger.NotifyFunc wired in at debugger_new. The
// exported surface has no dedicated "watchpoint fired" symbol, only
// native_log, so every watch/break/resumed event is routed through
// plat.Log at INFO, formatted so a host-side log scraper (or a test
// harness capturing via plat.SetLogger) can parse it. A future
// revision could add a dedicated polling symbol without touching the
// FSM in internal/debugger at all.
func hostNotify(ev debugger.Event) {
	plat.Log(plat.INFO, "debugger event kind=%s index=%d address=%#x pc=%#x", ev.Kind, ev.Index, ev.Address, ev.PC)
}
