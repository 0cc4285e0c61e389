package core

import (
	"context"

	"github.com/NVIDIA/rangecache/background"
	"github.com/NVIDIA/rangecache/deleterange"
	"github.com/NVIDIA/rangecache/diskengine"
	"github.com/NVIDIA/rangecache/hintwatcher"
	"github.com/NVIDIA/rangecache/keys"
	"github.com/NVIDIA/rangecache/memctl"
	"github.com/NVIDIA/rangecache/placement"
	"github.com/NVIDIA/rangecache/region"
	"github.com/NVIDIA/rangecache/skiplist"
	"github.com/NVIDIA/rangecache/tick"
	"github.com/NVIDIA/rangecache/workmanager"
	"github.com/NVIDIA/rangecache/writebatch"
)

// Engine is the range-cache background control plane and GC engine
// (spec §2 overview), wired from one Config the way the teacher's
// cluster/node.go builds memsys.MMSA, the LRU xaction, and the
// xaction/registry.Registry singleton off one daemon config at
// startup.
type Engine struct {
	cfg Config

	Mem    *memctl.Controller
	Region *region.Manager
	Cols   background.Columns

	runner      *background.Runner
	loader      *background.Loader
	deleteRange *deleterange.Runner
	tickDriver  *tick.Driver
	workManager *workmanager.Manager
	hintWatcher *hintwatcher.Watcher
}

// New constructs every component wired per SPEC_FULL §5's package
// layout. placementSvc and regionInfo are the upstream collaborators
// spec §6 names; stats may be background.NoRangeStats{} if the
// embedder has not wired a real range-stats source yet.
func New(cfg Config, placementSvc placement.Service, regionInfo placement.RegionInfoProvider, stats background.RangeStats) *Engine {
	e := &Engine{
		cfg:    cfg,
		Mem:    memctl.New(cfg.SoftLimitThreshold, cfg.HardLimitThreshold),
		Region: region.NewManager(cfg.HistoricalRangeTTL),
		Cols: background.Columns{
			Default: skiplist.NewColumn(),
			Write:   skiplist.NewColumn(),
			Lock:    skiplist.NewColumn(),
		},
	}

	e.deleteRange = deleterange.New(e.Region, e.Mem, deleterange.Columns{
		Default: e.Cols.Default, Write: e.Cols.Write, Lock: e.Cols.Lock,
	})

	emit := func(t background.Task) { e.workManager.Schedule(t) }

	e.loader = background.NewLoader(e.Region, e.Mem, e.Cols, placementSvc, cfg.GcInterval, emit)
	e.runner = background.NewRunner(e.Region, e.Mem, e.Cols, stats, background.Config(cfg.Pools), e.loader, emit)
	e.tickDriver = tick.New(cfg.GcInterval, cfg.LoadEvictInterval, placementSvc, emit)
	e.workManager = workmanager.New(e.runner, e.deleteRange, e.tickDriver)

	e.hintWatcher = hintwatcher.New(placementSvc, regionInfo, func(id region.ID, epoch uint64, rng region.KeyRange) {
		e.Schedule(background.LoadRegion{ID: id, Epoch: epoch, Range: rng})
	})

	return e
}

// Start begins the tick driver (spec §4.6); callers invoke
// StartHintService separately per spec §6's downstream surface
// ("start_hint_service()" is its own call, not implied by Start).
func (e *Engine) Start() { e.workManager.Start() }

// Stop performs spec §4.8's ordered shutdown.
func (e *Engine) Stop() { e.workManager.Stop() }

// Schedule is the downstream schedule(task) entry point (spec §6).
func (e *Engine) Schedule(task background.Task) { e.workManager.Schedule(task) }

// SetDiskEngine is the downstream set_disk_engine(handle) entry point
// (spec §6).
func (e *Engine) SetDiskEngine(engine diskengine.Engine) {
	e.Schedule(background.SetDiskEngine{Engine: engine})
}

// StartHintService starts the Hint Watcher's subscription loop (spec
// §6 "start_hint_service()"). ctx controls its lifetime; callers
// typically pass a context canceled on Stop.
func (e *Engine) StartHintService(ctx context.Context) {
	go e.hintWatcher.Watch(ctx)
}

// AcquireSnapshot is the read-path entry point (spec §6: "a read path
// obtains a snapshot by calling region_manager.acquire_snapshot
// (region_id, read_ts, seqno), which bumps the region's snapshot-list
// refcount"). The disk-level sequence number is the read path's own
// concern (it pins the disk snapshot, not this cache); only readTS is
// tracked here.
func (e *Engine) AcquireSnapshot(id region.ID, readTS uint64) error {
	return e.Region.AcquireSnapshot(id, readTS)
}

// ReleaseSnapshot drops the refcount AcquireSnapshot took.
func (e *Engine) ReleaseSnapshot(id region.ID, readTS uint64) {
	e.Region.ReleaseSnapshot(id, readTS)
}

// NewWriteBatch returns an empty write batch sized per Config
// (SPEC_FULL §4 "Write-batch split/merge semantics"). The apply path
// itself belongs to the external collaborator spec §1 places out of
// scope; ApplyWriteBatch is this cache's half of that contract, the
// same way Delete-Range's writing_ranges registry is this cache's half
// of the apply-path interlock.
func (e *Engine) NewWriteBatch() *writebatch.WriteBatch {
	return writebatch.New(e.cfg.DefaultWriteBatchSplit, e.cfg.WriteBatchMaxBatches)
}

// ApplyWriteBatch drains wb into the skiplist columns at seq, registering
// rng as being-written for the duration so Delete-Range defers any
// overlapping erase (spec §4.1, §4.3 "ranges_being_written").
func (e *Engine) ApplyWriteBatch(rng region.KeyRange, seq uint64, wb *writebatch.WriteBatch) error {
	e.Region.RegisterWriting(rng)
	defer e.Region.UnregisterWriting(rng)

	return wb.Apply(func(ops []writebatch.Op) error {
		for _, op := range ops {
			col := e.columnFor(op.Column)
			vtype := keys.Value
			if op.Value == nil {
				vtype = keys.Deletion
			}
			col.Insert(keys.EncodeInternalKey(op.Key, seq, vtype), op.Value)
		}
		return nil
	})
}

func (e *Engine) columnFor(c writebatch.Column) *skiplist.Column {
	switch c {
	case writebatch.Write:
		return e.Cols.Write
	case writebatch.Lock:
		return e.Cols.Lock
	default:
		return e.Cols.Default
	}
}
