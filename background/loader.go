package background

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/NVIDIA/rangecache/cmn"
	"github.com/NVIDIA/rangecache/diskengine"
	"github.com/NVIDIA/rangecache/gcfilter"
	"github.com/NVIDIA/rangecache/keys"
	"github.com/NVIDIA/rangecache/memctl"
	"github.com/NVIDIA/rangecache/placement"
	"github.com/NVIDIA/rangecache/region"
	"github.com/NVIDIA/rangecache/skiplist"
)

// Loader is the Memory-Bounded Snapshot Loader (spec §4.5): it ingests
// one region from a disk snapshot into the skiplist, respecting the
// memory controller's hard limit and reacting to a concurrent evict
// that cancels the load.
//
// Grounded on the teacher's downloader package (downloader/download.go),
// which streams an external source into local storage under a byte
// budget and reports partial-progress failures the same shape as
// HardLimitReached here.
type Loader struct {
	mgr        *region.Manager
	mem        *memctl.Controller
	cols       Columns
	placement  placement.Service
	gcInterval time.Duration
	emit       func(Task)

	mu     sync.RWMutex
	engine diskengine.Engine
}

func NewLoader(mgr *region.Manager, mem *memctl.Controller, cols Columns, svc placement.Service, gcInterval time.Duration, emit func(Task)) *Loader {
	return &Loader{mgr: mgr, mem: mem, cols: cols, placement: svc, gcInterval: gcInterval, emit: emit}
}

func (l *Loader) SetDiskEngine(e diskengine.Engine) {
	l.mu.Lock()
	l.engine = e
	l.mu.Unlock()
}

func (l *Loader) DiskEngine() diskengine.Engine {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.engine
}

// Load runs spec §4.5's six steps for one LoadRegion task.
func (l *Loader) Load(t LoadRegion) {
	canceled, err := l.beginLoad(t.ID)
	if err != nil {
		glog.Warningf("background: LoadRegion(%d) rejected: %v", t.ID, err)
		return
	}
	if !canceled && l.mem.ReachedSoftLimit() {
		canceled = true
	}
	if canceled {
		l.onSnapshotLoadFailed(t, false)
		return
	}

	engine := l.DiskEngine()
	if engine == nil {
		glog.Warningf("background: LoadRegion(%d) dropped, no disk engine set", t.ID)
		l.onSnapshotLoadFailed(t, false)
		return
	}

	snap := engine.Snapshot()
	if failed := l.ingest(t, snap); failed {
		l.onSnapshotLoadFailed(t, true)
		return
	}

	safePoint := l.initialSafePoint(t)
	l.onSnapshotLoadFinished(t, safePoint)
}

// beginLoad is step 1: ReadyToLoad -> Loading, or detect a cancellation
// that raced ahead of this goroutine.
func (l *Loader) beginLoad(id region.ID) (canceled bool, err error) {
	err = l.mgr.MutRegionMeta(id, func(m *region.Meta) error {
		switch m.State {
		case region.ReadyToLoad:
			m.State = region.Loading
		case region.LoadingCanceled:
			canceled = true
		default:
			return &region.NotCached{ID: id}
		}
		return nil
	})
	return canceled, err
}

// ingest is step 4: copy every (key, value) pair from the disk
// snapshot, bounded by the region's range, across all three columns,
// charging the memory controller per entry. Returns failed=true on
// HardLimitReached or on observing a load cancellation mid-flight.
func (l *Loader) ingest(t LoadRegion, snap diskengine.Snapshot) (failed bool) {
	columns := []struct {
		col  diskengine.Column
		dest *skiplist.Column
	}{
		{diskengine.Default, l.cols.Default},
		{diskengine.Write, l.cols.Write},
		{diskengine.Lock, l.cols.Lock},
	}

	for _, c := range columns {
		if snapVal, ok := l.mgr.Get(t.ID); !ok || snapVal.State == region.LoadingCanceled {
			return true
		}
		it, err := snap.Iterator(c.col, diskengine.IterOptions{LowerBound: t.Range.Start, UpperBound: t.Range.End})
		if err != nil {
			glog.Warningf("background: LoadRegion(%d) iterator open failed: %v", t.ID, err)
			return true
		}
		failed = ingestColumn(l.mem, c.dest, it, snap.SequenceNumber())
		it.Close()
		if failed {
			return true
		}
	}
	return false
}

func ingestColumn(mem *memctl.Controller, col *skiplist.Column, it diskengine.Iterator, seq uint64) (failed bool) {
	for it.SeekToFirst(); it.Valid(); it.Next() {
		key, value := it.Key(), it.Value()
		size := memctl.EntrySize(key, value)
		if mem.Acquire(size) == memctl.HardLimitReached {
			return true
		}
		internal := keys.EncodeInternalKey(key, seq, keys.Value)
		col.Insert(internal, value)
	}
	return false
}

// initialSafePoint is step 5: fetch a timestamp, bounded by
// min(gc_interval, 5s), and derive an initial safe point to purge
// obsolete versions inside the data just loaded. A timestamp failure
// is soft: skip the initial GC with safe_point = 0.
func (l *Loader) initialSafePoint(t LoadRegion) uint64 {
	if l.placement == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), placement.TSOTimeout(l.gcInterval))
	defer cancel()
	ts, err := l.placement.GetTSO(ctx)
	if err != nil {
		glog.Warningf("background: LoadRegion(%d) initial timestamp fetch failed: %v", t.ID, err)
		return 0
	}
	safePoint := placement.Compose(ts.Physical-l.gcInterval.Milliseconds(), 0)
	gcfilter.Run(l.cols.Write, l.cols.Default, t.Range.Start, t.Range.End, safePoint, snapshotSeqnoCeiling)
	return safePoint
}

// snapshotSeqnoCeiling gates the initial in-load GC pass; everything
// just ingested came from one disk snapshot, so every internal
// sequence number is visible and the seqno gate never needs to hide
// anything.
const snapshotSeqnoCeiling = ^uint64(0)

// onSnapshotLoadFailed is spec §4.5 step 3 and the HardLimitReached
// branch of step 4: mark every Pending, ReadyToLoad, Loading or
// LoadingCanceled region overlapping t.Range Evicting and schedule
// their removal. Overlapping regions in any other state are left as
// they are.
func (l *Loader) onSnapshotLoadFailed(t LoadRegion, started bool) {
	reason := region.LoadFailedWithoutStart
	if started {
		reason = region.LoadFailed
	}
	var toDelete []DeleteRegionsItem
	l.mgr.IterOverlappedRegionsMut(t.Range, func(m *region.Meta) {
		switch m.State {
		case region.Loading, region.ReadyToLoad, region.Pending:
			m.State = region.Evicting
			m.EvictReason = reason
			toDelete = append(toDelete, DeleteRegionsItem{ID: m.ID, Range: m.Range})
		case region.LoadingCanceled:
			m.State = region.Evicting
			m.EvictReason = reason
			toDelete = append(toDelete, DeleteRegionsItem{ID: m.ID, Range: m.Range})
		}
	})
	if len(toDelete) > 0 && l.emit != nil {
		l.emit(DeleteRegions{Items: toDelete})
	}
}

// onSnapshotLoadFinished is spec §4.5 step 6.
func (l *Loader) onSnapshotLoadFinished(t LoadRegion, safePoint uint64) {
	var toDelete []DeleteRegionsItem
	err := l.mgr.MutRegionMeta(t.ID, func(m *region.Meta) error {
		if m.Epoch != t.Epoch {
			return &region.NotCached{ID: t.ID} // epoch mismatch: fall through to the overlap path below
		}
		switch m.State {
		case region.Loading:
			m.State = region.Active
			m.SafePoint = safePoint
		case region.LoadingCanceled:
			m.State = region.Evicting
			m.EvictReason = region.LoadFailed
			toDelete = append(toDelete, DeleteRegionsItem{ID: m.ID, Range: m.Range})
		default:
			cmn.AssertMsg(false, "on_snapshot_load_finished: region in unexpected state")
		}
		return nil
	})
	if err != nil {
		l.mgr.IterOverlappedRegionsMut(t.Range, func(m *region.Meta) {
			switch m.State {
			case region.Loading:
				m.State = region.Active
				m.SafePoint = safePoint
			case region.LoadingCanceled:
				m.State = region.Evicting
				m.EvictReason = region.LoadFailed
				toDelete = append(toDelete, DeleteRegionsItem{ID: m.ID, Range: m.Range})
			default:
				cmn.AssertMsg(false, "on_snapshot_load_finished: region in unexpected state")
			}
		})
	}
	if len(toDelete) > 0 && l.emit != nil {
		l.emit(DeleteRegions{Items: toDelete})
	}
}
