package background

import (
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/NVIDIA/rangecache/cmn"
	"github.com/NVIDIA/rangecache/diskengine"
	"github.com/NVIDIA/rangecache/gcfilter"
	"github.com/NVIDIA/rangecache/memctl"
	"github.com/NVIDIA/rangecache/region"
	"github.com/NVIDIA/rangecache/skiplist"
)

// Columns bundles the three logical skiplist columns the runner GCs
// and loads into (spec §3).
type Columns struct {
	Default *skiplist.Column
	Write   *skiplist.Column
	Lock    *skiplist.Column
}

// EvictionCandidate is one region offered up by the range-stats
// collaborator as a candidate for soft-limit eviction (spec §4.4
// "ask range-stats for eviction candidates"), in priority order
// (first = evict first) with its estimated resident size so the
// soft-limit loop can stop once it has freed enough without waiting
// for Delete-Range to actually run.
type EvictionCandidate struct {
	ID            region.ID
	EstimatedSize int64
}

// RangeStats is the range-stats collaborator spec §4.4 calls into for
// both eviction passes. Not named as an external interface in spec §6,
// but required by its prose; kept as its own small interface rather
// than folding its method onto Columns/region.Manager so a concrete
// implementation (backed by per-region access-time/size tracking) can
// live outside this package the way placement/diskengine do.
type RangeStats interface {
	// EvictionCandidates returns Active regions in the priority order
	// MemoryCheckAndEvict should consider evicting them (spec §4.4).
	EvictionCandidates() []EvictionCandidate
	// DesiredRegionSet returns the region set TopRegionsLoadEvict should
	// converge the cache toward (spec §4.4 "recomputes the target
	// cached-region set").
	DesiredRegionSet() map[region.ID]region.KeyRange
}

// NoRangeStats is a zero-value RangeStats for embedders that have not
// wired a real range-stats collaborator yet: MemoryCheckAndEvict and
// TopRegionsLoadEvict both become no-ops rather than panicking on a nil
// interface.
type NoRangeStats struct{}

func (NoRangeStats) EvictionCandidates() []EvictionCandidate        { return nil }
func (NoRangeStats) DesiredRegionSet() map[region.ID]region.KeyRange { return nil }

// Runner is the Background Runner (spec §4.4). One Runner instance owns
// the four disjoint worker pools; it holds no Delete-Range handle and
// hands DeleteRegions back through emit. The Work Manager (C8) is the
// only thing that calls Handle.
type Runner struct {
	mgr   *region.Manager
	mem   *memctl.Controller
	cols  Columns
	stats RangeStats

	rangeLoadPool  *cmn.LimitedWaitGroup
	gcPool         *cmn.LimitedWaitGroup
	loadEvictPool  *cmn.LimitedWaitGroup
	lockCleanPool  *cmn.LimitedWaitGroup

	topRegionsRunning int32 // CAS guard, single-flights TopRegionsLoadEvict

	lastLockSeqno uint64 // atomic, CleanLockTombstone's last_seen guard

	// emit forwards a task this runner produces (DeleteRegions, or a
	// recursive LoadRegion during TopRegionsLoadEvict) back to the work
	// manager for scheduling. Set by the core at wiring time.
	emit func(Task)

	loader *Loader
}

// Config sizes the four pools (SPEC_FULL §4 tunables: concurrency isn't
// named by spec.md, so these default to the teacher's typical jogger
// counts — one loader and one GC task in flight, a handful of
// load-evict and lock-cleanup tasks).
type Config struct {
	RangeLoadConcurrency int
	GcConcurrency        int
	LoadEvictConcurrency int
	LockCleanConcurrency int
}

func DefaultConfig() Config {
	return Config{RangeLoadConcurrency: 1, GcConcurrency: 1, LoadEvictConcurrency: 4, LockCleanConcurrency: 2}
}

func NewRunner(mgr *region.Manager, mem *memctl.Controller, cols Columns, stats RangeStats, cfg Config, loader *Loader, emit func(Task)) *Runner {
	return &Runner{
		mgr: mgr, mem: mem, cols: cols, stats: stats, loader: loader, emit: emit,
		rangeLoadPool: cmn.NewLimitedWaitGroup(max1(cfg.RangeLoadConcurrency)),
		gcPool:        cmn.NewLimitedWaitGroup(max1(cfg.GcConcurrency)),
		loadEvictPool: cmn.NewLimitedWaitGroup(max1(cfg.LoadEvictConcurrency)),
		lockCleanPool: cmn.NewLimitedWaitGroup(max1(cfg.LockCleanConcurrency)),
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Handle dispatches one control-plane task onto its pool (spec §4.4).
// DeleteRegions is never handled here: the work manager routes it
// straight to the Delete-Range runner (spec §4.8).
func (r *Runner) Handle(task Task) {
	switch t := task.(type) {
	case SetDiskEngine:
		r.loader.SetDiskEngine(t.Engine)
	case Gc:
		r.gcPool.Add(1)
		go func() {
			defer r.gcPool.Done()
			r.runGc(t)
		}()
	case LoadRegion:
		r.rangeLoadPool.Add(1)
		go func() {
			defer r.rangeLoadPool.Done()
			r.loader.Load(t)
		}()
	case MemoryCheckAndEvict:
		r.loadEvictPool.Add(1)
		go func() {
			defer r.loadEvictPool.Done()
			r.runMemoryCheckAndEvict()
		}()
	case TopRegionsLoadEvict:
		r.loadEvictPool.Add(1)
		go func() {
			defer r.loadEvictPool.Done()
			r.runTopRegionsLoadEvict()
		}()
	case CleanLockTombstone:
		r.lockCleanPool.Add(1)
		go func() {
			defer r.lockCleanPool.Done()
			r.runCleanLockTombstone(t)
		}()
	default:
		cmn.AssertMsg(false, "background: unroutable task reached Handle")
	}
}

func (r *Runner) diskEngine() diskengine.Engine {
	return r.loader.DiskEngine()
}

// runGc is spec §4.4's Gc handler.
func (r *Runner) runGc(t Gc) {
	engine := r.diskEngine()
	if engine == nil {
		glog.V(3).Info("background: Gc dropped, no disk engine set")
		return
	}
	oldestSeqno, ok := engine.OldestSnapshotSeqno()
	if !ok {
		oldestSeqno = engine.LatestSeqno()
	}

	if !r.mgr.TrySetRegionsInGC(true) {
		return
	}
	defer r.mgr.TrySetRegionsInGC(false)

	active := r.mgr.ActiveRegions()
	var total gcfilter.Metrics
	for _, snap := range active {
		if !r.mgr.BeginRegionGC(snap.ID) {
			continue
		}
		minSnap := r.mgr.MinActiveSnapshotTS(snap.ID)
		minHist := r.mgr.GetHistoryRegionsMinTS(snap.Range)
		effective, shouldRun := gcfilter.EffectiveSafePoint(t.SafePoint, minSnap, minHist, snap.SafePoint)
		if shouldRun {
			m := gcfilter.Run(r.cols.Write, r.cols.Default, snap.Range.Start, snap.Range.End, effective, oldestSeqno)
			r.mgr.SetSafePoint(snap.ID, effective)
			total.Total += m.Total
			total.Versions += m.Versions
			total.DeleteVersions += m.DeleteVersions
			total.Filtered += m.Filtered
			total.UniqueKey += m.UniqueKey
			total.MvccRollbackAndLocks += m.MvccRollbackAndLocks
		}
		r.mgr.OnGCRegionFinished(snap.ID)
	}
	glog.V(3).Infof("background: gc pass done, total=%d filtered=%d unique_key=%d", total.Total, total.Filtered, total.UniqueKey)
}

// runMemoryCheckAndEvict is spec §4.4's MemoryCheckAndEvict handler.
func (r *Runner) runMemoryCheckAndEvict() {
	if !r.mem.TryStartMemoryCheck() {
		return
	}
	defer r.mem.FinishMemoryCheck()

	if r.mem.UsedBytes() <= r.mem.SoftLimit() {
		return
	}

	estimatedUsed := r.mem.UsedBytes()
	var toDelete []DeleteRegionsItem
	for _, cand := range r.stats.EvictionCandidates() {
		if estimatedUsed <= r.mem.SoftLimit() {
			break
		}
		rngs, err := r.mgr.EvictRegion(cand.ID, region.MemoryLimitReached)
		if err != nil {
			continue
		}
		estimatedUsed -= cand.EstimatedSize
		for _, rng := range rngs {
			toDelete = append(toDelete, DeleteRegionsItem{ID: cand.ID, Range: rng})
		}
	}
	if len(toDelete) > 0 && r.emit != nil {
		r.emit(DeleteRegions{Items: toDelete})
	}
}

// runTopRegionsLoadEvict is spec §4.4's TopRegionsLoadEvict handler.
func (r *Runner) runTopRegionsLoadEvict() {
	if !atomic.CompareAndSwapInt32(&r.topRegionsRunning, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&r.topRegionsRunning, 0)

	desired := r.stats.DesiredRegionSet()
	active := r.mgr.ActiveRegions()

	activeByID := make(map[region.ID]region.KeyRange, len(active))
	for _, snap := range active {
		activeByID[snap.ID] = snap.Range
	}

	var toDelete []DeleteRegionsItem
	for id := range activeByID {
		if _, wanted := desired[id]; wanted {
			continue
		}
		if r.mem.UsedBytes() <= r.mem.SoftLimit() {
			continue // demote only while over soft limit (spec §4.4)
		}
		rngs, err := r.mgr.EvictRegion(id, region.Demoted)
		if err != nil {
			continue
		}
		for _, er := range rngs {
			toDelete = append(toDelete, DeleteRegionsItem{ID: id, Range: er})
		}
	}
	if len(toDelete) > 0 && r.emit != nil {
		r.emit(DeleteRegions{Items: toDelete})
	}

	for id, rng := range desired {
		if _, have := activeByID[id]; have {
			continue
		}
		if r.emit != nil {
			r.emit(LoadRegion{ID: id, Range: rng})
		}
	}
}

// runCleanLockTombstone is spec §4.4's CleanLockTombstone handler: scan
// the lock column, keeping at most one (the newest) version per user
// key, and dropping that survivor too if it is a tombstone older than
// seqno.
func (r *Runner) runCleanLockTombstone(t CleanLockTombstone) {
	for {
		last := atomic.LoadUint64(&r.lastLockSeqno)
		if t.Seqno < last {
			return
		}
		if atomic.CompareAndSwapUint64(&r.lastLockSeqno, last, t.Seqno) {
			break
		}
	}

	cleanLockColumn(r.cols.Lock, t.Seqno)
}
