// Package background is the Background Runner (spec §4.4, component
// C5): the dispatcher that routes control-plane tasks onto four
// disjoint worker pools (range-load, gc, load-evict, lock-cleanup),
// none of which can block the others.
//
// Grounded on xaction/registry's dispatch-by-kind pattern and on the
// teacher's cmn.DynSemaphore/LimitedWaitGroup (cmn/sync.go) for
// bounding how many cooperative tasks a pool runs concurrently.
package background

import (
	"github.com/NVIDIA/rangecache/diskengine"
	"github.com/NVIDIA/rangecache/region"
)

// Task is the closed set of control-plane task kinds spec §3 and §4.4
// name. Runner.Handle type-switches on these.
type Task interface{ isTask() }

// SetDiskEngine installs the disk-engine handle (spec §4.4).
type SetDiskEngine struct{ Engine diskengine.Engine }

// Gc asks the runner to GC every Active region down to SafePoint (spec
// §4.4). safePoint is itself only a ceiling: the Region Manager's
// effective safe point per region is min(SafePoint, outstanding
// snapshot timestamps, historical-range timestamps) (spec §4.2).
type Gc struct{ SafePoint uint64 }

// LoadRegion asks the runner to load a region from a disk snapshot
// (spec §4.5).
type LoadRegion struct {
	ID    region.ID
	Epoch uint64
	Range region.KeyRange
}

// MemoryCheckAndEvict asks the runner to evict regions until used_bytes
// falls back under soft_limit (spec §4.4).
type MemoryCheckAndEvict struct{}

// TopRegionsLoadEvict asks the runner to recompute the target
// cached-region set and load/evict the delta (spec §4.4).
type TopRegionsLoadEvict struct{}

// CleanLockTombstone asks the runner to compact the lock column (spec
// §4.4).
type CleanLockTombstone struct{ Seqno uint64 }

// DeleteRegions is routed to the Delete-Range worker, not one of the
// four control-plane pools (spec §4.4/§4.8).
type DeleteRegions struct {
	Items []DeleteRegionsItem
}

type DeleteRegionsItem struct {
	ID    region.ID
	Range region.KeyRange
}

func (SetDiskEngine) isTask()       {}
func (Gc) isTask()                  {}
func (LoadRegion) isTask()          {}
func (MemoryCheckAndEvict) isTask() {}
func (TopRegionsLoadEvict) isTask() {}
func (CleanLockTombstone) isTask()  {}
func (DeleteRegions) isTask()       {}
