// Package cmn provides low-level helpers shared by the range-cache
// background control plane and GC engine.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "github.com/golang/glog"

// Assert panics if cond is false. Reserved for contract violations that
// indicate a programming bug (see spec §7 "Contract violation (fatal)") —
// never for conditions a caller can legitimately trigger.
func Assert(cond bool) {
	if !cond {
		glog.Errorf("assertion failed")
		panic("assertion failed")
	}
}

// AssertMsg is Assert with a caller-supplied explanation, logged before the
// panic so the fatal reason survives in whatever log sink is attached.
func AssertMsg(cond bool, msg string) {
	if !cond {
		glog.Errorf("assertion failed: %s", msg)
		panic(msg)
	}
}
