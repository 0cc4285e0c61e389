package region

import (
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/NVIDIA/rangecache/cmn"
)

// AlreadyExists is returned by LoadRegion when region_id is already
// known or a new region's range overlaps an existing Active region
// (spec §4.1).
type AlreadyExists struct{ ID ID }

func (e *AlreadyExists) Error() string { return "region already exists or overlaps an active region" }

// NotCached is the user-visible failure for snapshot creation against a
// region that isn't Active (spec §7 "User-visible failure").
type NotCached struct{ ID ID }

func (e *NotCached) Error() string { return "region not cached" }

// Manager is the authoritative region-id -> region metadata map (spec
// §4.1 C2). Its entire state is guarded by one RWMutex (spec §5): reads
// (snapshot creation, overlap queries) take the read side, state
// transitions take the write side.
type Manager struct {
	mu      sync.RWMutex
	regions map[ID]*Meta

	historical []historicalRecord

	inGC          atomic.Bool // try_set_regions_in_gc guard (spec §4.1)
	writing       writingRanges
	historicalTTL time.Duration
}

func NewManager(historicalTTL time.Duration) *Manager {
	return &Manager{
		regions:       make(map[ID]*Meta),
		historicalTTL: historicalTTL,
		writing:       newWritingRanges(),
	}
}

// LoadRegion registers a new region in Pending state (spec §4.1).
func (m *Manager) LoadRegion(id ID, epoch uint64, rng KeyRange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regions[id]; ok {
		return &AlreadyExists{ID: id}
	}
	for _, r := range m.regions {
		if r.State == Active && r.Range.Overlaps(rng) {
			return &AlreadyExists{ID: id}
		}
	}
	m.regions[id] = &Meta{ID: id, Epoch: epoch, Range: rng, State: Pending, snapshots: snapshotList{}}
	return nil
}

// MutRegionMeta runs f against the region's metadata under the write
// lock — the single funnel every state transition not covered by a
// dedicated method goes through (spec §4.1).
func (m *Manager) MutRegionMeta(id ID, f func(*Meta) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.regions[id]
	if !ok {
		return &NotCached{ID: id}
	}
	return f(meta)
}

// IterOverlappedRegionsMut runs f against every region whose range
// overlaps rng, under the write lock.
func (m *Manager) IterOverlappedRegionsMut(rng KeyRange, f func(*Meta)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, meta := range m.regions {
		if meta.Range.Overlaps(rng) {
			f(meta)
		}
	}
}

// Get returns an immutable snapshot of a region's metadata.
func (m *Manager) Get(id ID) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.regions[id]
	if !ok {
		return Snapshot{}, false
	}
	return meta.snapshot(), true
}

// ActiveRegions returns a snapshot of every Active region (spec §4.4
// Gc step 3: "Ask the region manager for all Active regions").
func (m *Manager) ActiveRegions() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.regions))
	for _, meta := range m.regions {
		if meta.State == Active {
			out = append(out, meta.snapshot())
		}
	}
	return out
}

// Stats is a point-in-time count of regions by state, added per
// SPEC_FULL §4, mirroring the teacher's periodic capacity logging in
// lru.Run. The Background Runner does not call it; its GC-pass log
// line reports filter metrics only.
type Stats struct {
	Pending, ReadyToLoad, Loading, LoadingCanceled, Active, Evicting, Deleting int
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s Stats
	for _, meta := range m.regions {
		switch meta.State {
		case Pending:
			s.Pending++
		case ReadyToLoad:
			s.ReadyToLoad++
		case Loading:
			s.Loading++
		case LoadingCanceled:
			s.LoadingCanceled++
		case Active:
			s.Active++
		case Evicting:
			s.Evicting++
		case Deleting:
			s.Deleting++
		}
	}
	return s
}

// TrySetRegionsInGC is the CAS-style guard gating GC single-flighting
// (spec §4.1). Returns false if GC is already marked in progress.
func (m *Manager) TrySetRegionsInGC(want bool) bool {
	if want {
		return m.inGC.CAS(false, true)
	}
	ok := m.inGC.CAS(true, false)
	cmn.AssertMsg(ok, "try_set_regions_in_gc(false) called while not set — contract violation")
	return ok
}

// OnGCRegionFinished clears the in_gc flag for one region (spec §4.1).
func (m *Manager) OnGCRegionFinished(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta, ok := m.regions[id]; ok {
		meta.InGC = false
	}
}

// BeginRegionGC marks a single Active region in_gc, single-flighted per
// region (spec §3 invariant "GC on a region is single-flighted").
// Returns false if the region is missing, not Active, or already in_gc.
func (m *Manager) BeginRegionGC(id ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.regions[id]
	if !ok || meta.State != Active || meta.InGC {
		return false
	}
	meta.InGC = true
	return true
}

// AcquireSnapshot bumps a region's outstanding-snapshot refcount at
// readTS and returns a *NotCached error if the region isn't Active
// (spec §6 downstream interface, §7 "RegionNotCached").
func (m *Manager) AcquireSnapshot(id ID, readTS uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.regions[id]
	if !ok || meta.State != Active {
		return &NotCached{ID: id}
	}
	meta.snapshots.acquire(readTS)
	return nil
}

// ReleaseSnapshot drops one reference to readTS on region id.
func (m *Manager) ReleaseSnapshot(id ID, readTS uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta, ok := m.regions[id]; ok {
		meta.snapshots.release(readTS)
	}
}

// MinActiveSnapshotTS returns the minimum outstanding snapshot timestamp
// for a region, or +inf (no outstanding snapshots). Used by the GC
// filter to compute an effective safe point (spec §4.2).
func (m *Manager) MinActiveSnapshotTS(id ID) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.regions[id]
	if !ok {
		return noMinTS
	}
	return meta.snapshots.min()
}

// SetSafePoint installs a new safe point for an Active region. Per spec
// §3 invariant, safe_point only moves forward while a region stays
// Active; callers (the Background Runner's GC pass, via
// gcfilter.EffectiveSafePoint) are expected to have already checked
// strict monotonicity before calling this.
func (m *Manager) SetSafePoint(id ID, safePoint uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta, ok := m.regions[id]; ok {
		meta.SafePoint = safePoint
	}
}

// EvictRegion transitions a region toward removal and returns the
// skiplist key-ranges now deleteable (spec §4.1).
//
// Legal only from Pending|ReadyToLoad|Loading|Active. From Loading, the
// transition goes to LoadingCanceled instead of Evicting (tie-break,
// spec §4.1 "Tie-breaks"): the loader's own completion path observes
// LoadingCanceled and performs the transition to Evicting once it has
// safely stopped touching the skiplist, recording a load-failure reason
// (LoadFailed or LoadFailedWithoutStart) in place of reason.
func (m *Manager) EvictRegion(id ID, reason EvictReason) ([]KeyRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.regions[id]
	if !ok {
		return nil, &NotCached{ID: id}
	}
	switch meta.State {
	case Pending, ReadyToLoad:
		meta.State = Evicting
		meta.EvictReason = reason
		return []KeyRange{meta.Range}, nil
	case Loading:
		meta.State = LoadingCanceled
		meta.EvictReason = reason
		// Physical erase is deferred until the loader observes the
		// cancellation (spec §4.1): nothing is deleteable yet.
		return nil, nil
	case Active:
		m.retainHistorical(meta)
		meta.State = Evicting
		meta.EvictReason = reason
		return []KeyRange{meta.Range}, nil
	default:
		return nil, &NotCached{ID: id}
	}
}

// FinishLoadCancellation completes the Loading -> LoadingCanceled ->
// Evicting transition the tie-break in EvictRegion deferred, keeping
// the reason EvictRegion recorded, and returns the range now deleteable.
// The loader in package background does not call it: it performs that
// transition itself in onSnapshotLoadFailed/onSnapshotLoadFinished.
func (m *Manager) FinishLoadCancellation(id ID) (KeyRange, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.regions[id]
	if !ok || meta.State != LoadingCanceled {
		return KeyRange{}, false
	}
	meta.State = Evicting
	return meta.Range, true
}

// retainHistorical snapshots an Active region's outstanding-snapshot
// timestamps into the historical list before it leaves Active, so a
// later GC of an overlapping live region still respects them (spec §3
// "Historical range record").
func (m *Manager) retainHistorical(meta *Meta) {
	min := meta.snapshots.min()
	if min == noMinTS {
		return
	}
	rec := historicalRecord{
		id: uuid.New().String(), rng: meta.Range, minTS: min, createdAt: nowFn(),
	}
	m.historical = append(m.historical, rec)
	glog.V(4).Infof("region: retained historical record %s digest=%x min_ts=%d", rec.id, rangeDigest(rec.rng), min)
}

// digestSeed matches the teacher's cluster map digest convention
// (cluster/map.go's idDigest), a fixed seed rather than zero so the
// digest doesn't collide trivially with a plain CRC.
const digestSeed = 0x5bd1e995

// rangeDigest hashes a range's start key for log correlation (SPEC_FULL
// §3 domain stack) — historical records are looked up by overlap, not
// by digest, so this is a compact log key rather than an index.
func rangeDigest(rng KeyRange) uint64 {
	return xxhash.Checksum64S(rng.Start, digestSeed)
}

// GetHistoryRegionsMinTS returns the minimum snapshot timestamp over
// historical records overlapping rng, or +inf (spec §4.1).
func (m *Manager) GetHistoryRegionsMinTS(rng KeyRange) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	min := noMinTS
	for _, h := range m.historical {
		if h.rng.Overlaps(rng) && h.minTS < min {
			min = h.minTS
		}
	}
	return min
}

// ExpireHistorical drops historical records older than historicalTTL
// that no longer overlap any live region (SPEC_FULL §4 "Historical
// range compaction"). Nothing in this module calls it: the tick
// driver's GC tick does not, so records are dropped only when an
// embedder calls ExpireHistorical itself.
func (m *Manager) ExpireHistorical(now int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historicalTTL <= 0 {
		return
	}
	kept := m.historical[:0]
	for _, h := range m.historical {
		if now-h.createdAt < int64(m.historicalTTL) {
			kept = append(kept, h)
			continue
		}
		overlapsLive := false
		for _, meta := range m.regions {
			if meta.Range.Overlaps(h.rng) {
				overlapsLive = true
				break
			}
		}
		if overlapsLive {
			kept = append(kept, h)
		} else {
			glog.V(4).Infof("region: expired historical record %s digest=%x", h.id, rangeDigest(h.rng))
		}
	}
	m.historical = kept
}

// OnDeleteRegions transitions each listed region Deleting -> removed
// (spec §4.1).
func (m *Manager) OnDeleteRegions(ids []ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if meta, ok := m.regions[id]; ok && meta.State == Evicting {
			meta.State = Deleting
		}
	}
	for _, id := range ids {
		if meta, ok := m.regions[id]; ok && meta.State == Deleting {
			delete(m.regions, id)
		}
	}
}

// MarkReadyToLoad transitions a Pending region once its on-disk
// snapshot has been captured (spec §4.1 diagram).
func (m *Manager) MarkReadyToLoad(id ID) error {
	return m.MutRegionMeta(id, func(meta *Meta) error {
		if meta.State != Pending {
			return &NotCached{ID: id}
		}
		meta.State = ReadyToLoad
		return nil
	})
}

// IsOverlappedWithRegionsBeingWritten consults the ranges-being-written
// registry, consulted by Delete-Range to defer erase (spec §4.1, §4.3).
func (m *Manager) IsOverlappedWithRegionsBeingWritten(rng KeyRange) bool {
	return m.writing.overlaps(rng)
}

// RegisterWriting/UnregisterWriting let the write-batch/apply path (out
// of scope per spec §1, but its registration contract is not) mark a
// range as being written for the duration of an apply.
func (m *Manager) RegisterWriting(rng KeyRange) { m.writing.register(rng) }
func (m *Manager) UnregisterWriting(rng KeyRange) { m.writing.unregister(rng) }

// nowFn is overridable in tests so historical-record TTL expiry does
// not depend on wall-clock time (mirrors the teacher's cmn/mono
// indirection, e.g. lru.go's mono-clock reads, but via a package-level
// func var so table tests can fake time without a custom clock type).
var nowFn = func() int64 { return time.Now().UnixNano() }
