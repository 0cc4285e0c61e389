// Package deleterange is the Delete-Range Runner (spec §4.3, component
// C4): it performs physical range erasure from the skiplist, deferring
// any region whose erase would race an in-flight write or an in-flight
// GC pass.
//
// Grounded on the teacher's lru jogger (lru/lru.go), which walks a work
// list once per invocation and re-queues what it could not finish this
// pass, and on xaction/registry's housekeeping ticker, which re-runs a
// bounded task on a fixed interval rather than blocking for completion.
package deleterange

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/NVIDIA/rangecache/keys"
	"github.com/NVIDIA/rangecache/memctl"
	"github.com/NVIDIA/rangecache/region"
	"github.com/NVIDIA/rangecache/skiplist"
)

// retryInterval is the spec §4.3 "500 ms timer" that re-runs the task
// over deferred entries.
const retryInterval = 500 * time.Millisecond

// Task names one region's key range pending physical erasure (spec
// §4.3 "DeleteRegions{list}").
type Task struct {
	ID    region.ID
	Range region.KeyRange
}

// Columns bundles the three logical columns delete-range erases from
// (spec §3 "Logical columns: default, write, lock").
type Columns struct {
	Default *skiplist.Column
	Write    *skiplist.Column
	Lock     *skiplist.Column
}

func decodeUserKey(internal []byte) []byte {
	uk, _, _, err := keys.DecodeInternalKey(internal)
	if err != nil {
		return internal
	}
	return uk
}

// Runner is the Delete-Range worker (spec §4.3). The work manager calls
// Submit from its delete-range goroutine and RunDelayed from a separate
// retry-ticker goroutine, so the two can run concurrently: the delayed
// queue is guarded by mu, and each column erase takes that column's own
// lock.
type Runner struct {
	mgr *region.Manager
	mem *memctl.Controller
	cols Columns

	mu      sync.Mutex
	delayed []Task
}

func New(mgr *region.Manager, mem *memctl.Controller, cols Columns) *Runner {
	return &Runner{mgr: mgr, mem: mem, cols: cols}
}

// Submit consumes a DeleteRegions{list} task (spec §4.3): each region is
// either erased immediately or pushed onto the local delayed queue.
func (r *Runner) Submit(tasks []Task) {
	for _, t := range tasks {
		r.runOne(t)
	}
}

// RunDelayed re-runs the task over the delayed queue (spec §4.3's 500ms
// timer). Callers drive this from a time.Ticker at retryInterval; it is
// also exported directly so tests can force a retry pass without
// waiting on a real timer.
func (r *Runner) RunDelayed() {
	r.mu.Lock()
	pending := r.delayed
	r.delayed = nil
	r.mu.Unlock()

	for _, t := range pending {
		r.runOne(t)
	}
}

// RetryInterval is the fixed re-run period (spec §4.3).
func RetryInterval() time.Duration { return retryInterval }

func (r *Runner) runOne(t Task) {
	snap, ok := r.mgr.Get(t.ID)
	if ok && snap.InGC {
		r.deferTask(t)
		return
	}
	if r.mgr.IsOverlappedWithRegionsBeingWritten(t.Range) {
		r.deferTask(t)
		return
	}

	freed := int64(0)
	freed += int64(r.cols.Default.DeleteRange(t.Range.Start, t.Range.End, decodeUserKey))
	freed += int64(r.cols.Write.DeleteRange(t.Range.Start, t.Range.End, decodeUserKey))
	freed += int64(r.cols.Lock.DeleteRange(t.Range.Start, t.Range.End, decodeUserKey))
	if freed > 0 {
		r.mem.Release(freed)
	}

	r.mgr.OnDeleteRegions([]region.ID{t.ID})
	glog.V(4).Infof("deleterange: erased region %d, freed %d bytes", t.ID, freed)
}

func (r *Runner) deferTask(t Task) {
	r.mu.Lock()
	r.delayed = append(r.delayed, t)
	r.mu.Unlock()
}

// Pending returns the number of tasks currently in the delayed queue,
// for tests and diagnostics.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delayed)
}
