// Package region is the Region Manager (spec §4.1): the authoritative
// map of region-id to region metadata and state, and the region
// lifecycle state machine (spec §3, §4.1).
//
// Grounded on the teacher's cluster map (cluster/map.go), which keeps an
// authoritative node map behind value types plus a handful of lookup
// helpers, and on xaction/registry/registry.go, which guards its entire
// registry behind one sync.RWMutex the way spec §5 requires here
// ("the region-manager's entire state is guarded by a single
// reader-writer mutex").
package region

import "bytes"

// ID identifies a region across its lifetime. A region's Epoch changes
// on split/merge; ID does not.
type ID uint64

// KeyRange is a contiguous, half-open byte-key range [Start, End). A nil
// End means unbounded.
type KeyRange struct {
	Start []byte
	End   []byte
}

// Overlaps reports whether two half-open ranges intersect.
func (r KeyRange) Overlaps(o KeyRange) bool {
	startBeforeOtherEnd := o.End == nil || bytes.Compare(r.Start, o.End) < 0
	otherStartBeforeEnd := r.End == nil || bytes.Compare(o.Start, r.End) < 0
	return startBeforeOtherEnd && otherStartBeforeEnd
}

// Contains reports whether r fully covers o.
func (r KeyRange) Contains(o KeyRange) bool {
	startOK := bytes.Compare(r.Start, o.Start) <= 0
	endOK := r.End == nil || (o.End != nil && bytes.Compare(o.End, r.End) <= 0)
	return startOK && endOK
}

// State is a position in the region lifecycle state machine (spec
// §4.1's diagram).
type State int

const (
	Pending State = iota
	ReadyToLoad
	Loading
	LoadingCanceled
	Active
	Evicting
	Deleting
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case ReadyToLoad:
		return "ReadyToLoad"
	case Loading:
		return "Loading"
	case LoadingCanceled:
		return "LoadingCanceled"
	case Active:
		return "Active"
	case Evicting:
		return "Evicting"
	case Deleting:
		return "Deleting"
	default:
		return "Unknown"
	}
}

// EvictReason records why a region transitioned to Evicting, for
// logging and for choosing follow-up behavior (e.g. whether to retry a
// load).
type EvictReason int

const (
	AutoEvict EvictReason = iota
	LoadFailed
	LoadFailedWithoutStart
	MemoryLimitReached
	Demoted
)

func (r EvictReason) String() string {
	switch r {
	case AutoEvict:
		return "AutoEvict"
	case LoadFailed:
		return "LoadFailed"
	case LoadFailedWithoutStart:
		return "LoadFailedWithoutStart"
	case MemoryLimitReached:
		return "MemoryLimitReached"
	case Demoted:
		return "Demoted"
	default:
		return "Unknown"
	}
}

// snapshotList is a multiset of active read timestamps with refcounts
// (spec §3 "snapshot_list"). Implemented as a plain map: region counts
// and per-region outstanding-snapshot counts are small, so the O(n) Min
// scan costs nothing the single reader-writer mutex doesn't already
// bound (spec §5: "Lock hold times are bounded to O(region count)
// scans").
type snapshotList map[uint64]int

func (s snapshotList) acquire(ts uint64) {
	s[ts]++
}

// release drops one reference at ts; the entry is removed once its
// refcount reaches zero so min() need not skip dead entries.
func (s snapshotList) release(ts uint64) {
	if n, ok := s[ts]; ok {
		if n <= 1 {
			delete(s, ts)
		} else {
			s[ts] = n - 1
		}
	}
}

const noMinTS = ^uint64(0)

func (s snapshotList) min() uint64 {
	min := noMinTS
	for ts := range s {
		if ts < min {
			min = ts
		}
	}
	return min
}

func (s snapshotList) clone() snapshotList {
	out := make(snapshotList, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Meta is the metadata the manager maintains per region (spec §3
// "Region").
type Meta struct {
	ID         ID
	Epoch      uint64
	Range      KeyRange
	State      State
	SafePoint  uint64
	InGC       bool
	EvictReason EvictReason

	snapshots snapshotList
}

// Snapshot is an immutable copy of Meta safe to hand to callers outside
// the manager's lock.
type Snapshot struct {
	ID          ID
	Epoch       uint64
	Range       KeyRange
	State       State
	SafePoint   uint64
	InGC        bool
	EvictReason EvictReason
}

func (m *Meta) snapshot() Snapshot {
	return Snapshot{
		ID: m.ID, Epoch: m.Epoch, Range: m.Range, State: m.State,
		SafePoint: m.SafePoint, InGC: m.InGC, EvictReason: m.EvictReason,
	}
}

// historicalRecord retains an evicted region's outstanding snapshot
// timestamps keyed by its key range (spec §3 "Historical range record"),
// so GC of any live region overlapping that range still respects the
// minimum of those timestamps.
type historicalRecord struct {
	id        string // uuid, for log correlation across retain/expire
	rng       KeyRange
	minTS     uint64
	createdAt int64 // unix nanos, for historical_range_ttl (SPEC_FULL §4)
}
