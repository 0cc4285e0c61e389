// Package gcfilter is the MVCC GC Filter (spec §4.2, component C3): it
// walks the write column over a region's key range and removes
// versions obsolete below a safe point, honoring outstanding snapshots
// and sequence-number visibility.
//
// Grounded on the teacher's lru package (lru/lru.go), which is itself
// "a generic garbage-collection mechanism" (its own package doc) that
// walks a sorted structure once, classifies each entry, and tallies
// counters as it goes — the same shape this filter uses, scaled to
// MVCC-version semantics instead of access-time semantics.
package gcfilter

import (
	"bytes"

	"github.com/golang/glog"

	"github.com/NVIDIA/rangecache/keys"
	"github.com/NVIDIA/rangecache/skiplist"
	"github.com/NVIDIA/rangecache/writerec"
)

// Metrics are the counters spec §4.2 asks the filter to report.
type Metrics struct {
	Total               int // every write-column entry visited
	Versions            int // entries that carry an MVCC write record (Total - DeleteVersions)
	DeleteVersions       int // skiplist-level tombstones encountered (vtype == Deletion)
	Filtered            int // entries physically removed by classification (steps 2,5,6,7)
	UniqueKey           int // distinct (mvcc_prefix, commit_ts) user keys examined
	MvccRollbackAndLocks int // Rollback|Lock write records filtered
}

func decodeUserKey(internal []byte) []byte {
	uk, _, _, err := keys.DecodeInternalKey(internal)
	if err != nil {
		return internal
	}
	return uk
}

// EffectiveSafePoint computes min(requested, minActiveSnapshotTS,
// minHistoricalTS) and reports whether it is strictly greater than the
// region's current safe point — the gate spec §4.2 describes before
// "Algorithm" proper. noMinTS callers should pass the sentinel their
// region manager uses for "no outstanding snapshot" (math.MaxUint64).
func EffectiveSafePoint(requested, minActiveSnapshotTS, minHistoricalTS, currentSafePoint uint64) (effective uint64, shouldRun bool) {
	effective = requested
	if minActiveSnapshotTS < effective {
		effective = minActiveSnapshotTS
	}
	if minHistoricalTS < effective {
		effective = minHistoricalTS
	}
	return effective, effective > currentSafePoint
}

// Run executes the algorithm of spec §4.2 over [rangeStart, rangeEnd)
// of the write column, erasing corresponding default-column large-value
// payloads as it goes. Callers are expected to have already gated on
// EffectiveSafePoint and to hold whatever single-flight guard (spec
// §4.1 in_gc) protects this region's GC pass.
func Run(write, dflt *skiplist.Column, rangeStart, rangeEnd []byte, safePoint, oldestSeqno uint64) Metrics {
	var m Metrics

	it := write.NewIterator(rangeStart, rangeEnd)

	var (
		haveProcessed       bool
		prevUserKey         []byte // full mvcc user key (prefix+commit_ts) of the last non-gated entry
		prevPrefix          []byte
		removeOlder         bool
		cachedSkiplistDelete []byte // internal key of a cached skiplist-level tombstone
		cachedMvccDeleteKey  []byte // internal key of a cached MVCC logical-delete record
	)

	flushSkiplistDelete := func() {
		if cachedSkiplistDelete == nil {
			return
		}
		if _, ok := write.Remove(cachedSkiplistDelete); ok {
			m.Filtered++
		}
		cachedSkiplistDelete = nil
	}
	flushMvccDelete := func() {
		if cachedMvccDeleteKey == nil {
			return
		}
		if _, ok := write.Remove(cachedMvccDeleteKey); ok {
			m.Filtered++
		}
		cachedMvccDeleteKey = nil
	}

	for it.SeekToFirst(); it.Valid(); it.Next() {
		internalKey := append([]byte(nil), it.Key()...)
		value := it.Value()

		userKey, seq, vtype, err := keys.DecodeInternalKey(internalKey)
		if err != nil {
			glog.Warningf("gcfilter: skipping undecodable key: %v", err)
			continue
		}
		m.Total++
		if vtype == keys.Deletion {
			m.DeleteVersions++
		} else {
			m.Versions++
		}

		if seq > oldestSeqno {
			// May still be visible to an outstanding disk-level snapshot.
			continue
		}
		prefix, commitTS, err := keys.SplitUserKey(userKey)
		if err != nil {
			glog.Warningf("gcfilter: skipping undecodable write-column user key: %v", err)
			continue
		}
		if commitTS > safePoint {
			continue
		}

		// step 3: exact duplicate of the last-seen user key (same
		// mvcc_prefix and commit_ts) — keep only the first-seen
		// (highest-sequence) internal version.
		if haveProcessed && bytes.Equal(userKey, prevUserKey) {
			write.Remove(internalKey)
			continue
		}

		// step 4: new mvcc_prefix — reset remove_older and flush any
		// stashed MVCC delete key (all older versions of the previous
		// prefix have now been seen).
		if !haveProcessed || !bytes.Equal(prefix, prevPrefix) {
			removeOlder = false
			flushMvccDelete()
		}
		m.UniqueKey++ // reached past the step-3 duplicate check above: this is a distinct user key
		prevPrefix = prefix
		prevUserKey = userKey
		haveProcessed = true

		if vtype == keys.Deletion {
			// step 2: skiplist-level tombstone. Two consecutive
			// tombstones are both obsolete except the newest, kept as a
			// placeholder until another version of the same user key
			// is seen.
			flushSkiplistDelete()
			cachedSkiplistDelete = internalKey
			continue
		}

		if cachedSkiplistDelete != nil {
			cachedUserKey, _, _, _ := keys.DecodeInternalKey(cachedSkiplistDelete)
			if bytes.Equal(cachedUserKey, userKey) {
				// Non-deletion after a tombstone of the same user key:
				// the tombstone already obsoletes it.
				write.Remove(internalKey)
				continue
			}
			// Different user key: the tombstone is now provably dead.
			flushSkiplistDelete()
		}

		rec, err := writerec.Parse(value)
		if err != nil {
			glog.Warningf("gcfilter: skipping unparseable write record: %v", err)
			continue
		}

		if removeOlder {
			// An older version below the newest kept Put/Delete.
			write.Remove(internalKey)
			m.Filtered++
			if rec.Type == writerec.Put && !rec.HasShortValue() {
				eraseDefaultLargeValue(dflt, prefix, rec.StartTS)
			}
			continue
		}

		switch rec.Type {
		case writerec.Rollback, writerec.Lock:
			write.Remove(internalKey)
			m.Filtered++
			m.MvccRollbackAndLocks++
		case writerec.Put:
			removeOlder = true
			// newest Put below safe point survives.
		case writerec.Delete:
			removeOlder = true
			cachedMvccDeleteKey = internalKey
		}
	}

	// step 7: on drop of the filter, flush both cached delete keys.
	flushSkiplistDelete()
	flushMvccDelete()

	return m
}

// eraseDefaultLargeValue drops the default-column payload for a Put
// whose write record held no short value (spec §4.2 step 6): every
// entry whose user-key is exactly (mvcc_prefix, start_ts), regardless
// of sequence number.
func eraseDefaultLargeValue(dflt *skiplist.Column, mvccPrefix []byte, startTS uint64) {
	if dflt == nil {
		return
	}
	userKey := keys.EncodeMvccUserKey(mvccPrefix, startTS)
	upper := keys.PrefixRangeEnd(userKey)
	dflt.DeleteRange(userKey, upper, decodeUserKey)
}
