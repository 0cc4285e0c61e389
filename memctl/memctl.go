// Package memctl is the Memory Controller (spec §4 C1): it tracks bytes
// held in the cache and publishes soft/hard threshold crossings so the
// Background Runner and Memory-Bounded Snapshot Loader can react.
//
// Grounded on the teacher's memsys.MMSA (memsys/mmsa.go), which tracks
// allocated bytes with atomics and exposes a MemPressure() watermark
// read; this controller is the same shape scaled down to the two
// watermarks this spec names (soft, hard) instead of MMSA's four-level
// pressure scale, since nothing in spec.md calls for more than two.
package memctl

import (
	"go.uber.org/atomic"

	"github.com/NVIDIA/rangecache/cmn"
)

// AcquireResult is the outcome of a call to Acquire.
type AcquireResult int

const (
	Ok AcquireResult = iota
	HardLimitReached
)

// Controller tracks used_bytes against soft_limit/hard_limit (spec §3
// "Memory-controller state"). acquire is wait-free: it is a single CAS
// loop over an atomic counter, never taking a lock.
type Controller struct {
	usedBytes      atomic.Int64
	softLimit      int64
	hardLimit      int64
	memoryChecking atomic.Bool // single-flights MemoryCheckAndEvict (spec §4.4)
}

func New(softLimit, hardLimit int64) *Controller {
	cmn.Assert(softLimit > 0 && hardLimit >= softLimit)
	return &Controller{softLimit: softLimit, hardLimit: hardLimit}
}

// Acquire reserves n bytes. On HardLimitReached the caller must not
// proceed with the insert that prompted the call; used_bytes is not
// incremented on that path (spec §4.5 step 4: "stop loading").
func (c *Controller) Acquire(n int64) AcquireResult {
	for {
		used := c.usedBytes.Load()
		if used+n > c.hardLimit {
			return HardLimitReached
		}
		if c.usedBytes.CAS(used, used+n) {
			return Ok
		}
	}
}

// Release returns n bytes to the budget. Per spec §3, used_bytes is
// decremented ONLY when entries are physically removed (Delete-Range or
// Filter) — callers must not call Release for entries that were merely
// logically superseded without a physical skiplist removal.
func (c *Controller) Release(n int64) {
	for {
		used := c.usedBytes.Load()
		next := used - n
		if next < 0 {
			next = 0 // defensive floor; a negative balance would indicate
			// a double-release bug upstream, not a condition to assert on
			// here since this path must never panic a background worker.
		}
		if c.usedBytes.CAS(used, next) {
			return
		}
	}
}

func (c *Controller) UsedBytes() int64 { return c.usedBytes.Load() }

func (c *Controller) ReachedSoftLimit() bool { return c.usedBytes.Load() > c.softLimit }

func (c *Controller) ReachedHardLimit() bool { return c.usedBytes.Load() >= c.hardLimit }

func (c *Controller) SoftLimit() int64 { return c.softLimit }

func (c *Controller) HardLimit() int64 { return c.hardLimit }

// SetLimits lets the embedder reconfigure thresholds at runtime.
func (c *Controller) SetLimits(softLimit, hardLimit int64) {
	cmn.Assert(softLimit > 0 && hardLimit >= softLimit)
	c.softLimit = softLimit
	c.hardLimit = hardLimit
}

// TryStartMemoryCheck CASes memory_checking false->true, single-flighting
// MemoryCheckAndEvict (spec §4.4). Returns false if a check is already
// running.
func (c *Controller) TryStartMemoryCheck() bool {
	return c.memoryChecking.CAS(false, true)
}

// FinishMemoryCheck clears the single-flight guard.
func (c *Controller) FinishMemoryCheck() { c.memoryChecking.Store(false) }

// EntrySize is the accounting unit charged per skiplist entry: key bytes
// plus value bytes. Kept as a free function (rather than a Column
// method) because the memory controller, not the skiplist, owns billing
// policy (spec §3: "Its memory accounting is performed through the
// memory controller").
func EntrySize(key, value []byte) int64 {
	return int64(len(key) + len(value))
}
