// Package diskengine declares the disk-engine client interface (spec
// §6 "Upstream"): the on-disk KV engine this cache sits in front of,
// from which regions are loaded and against which GC computes the
// oldest outstanding snapshot sequence number.
//
// Grounded on the teacher's cluster.Target/fs.Mountpath-style
// interfaces: a small, synchronous accessor surface the rest of the
// codebase treats as an opaque external dependency.
package diskengine

// Column names one of the three logical columns a disk snapshot can be
// iterated over (spec §3 "Logical columns: default, write, lock").
type Column int

const (
	Default Column = iota
	Write
	Lock
)

// IterOptions bounds an Iterator to a region's key range (spec §6
// "DiskSnapshot::iterator(column, IterOptions)").
type IterOptions struct {
	LowerBound []byte
	UpperBound []byte
}

// Iterator walks (key, value) pairs from a disk snapshot in ascending
// key order.
type Iterator interface {
	SeekToFirst()
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Close() error
}

// Snapshot is a point-in-time, immutable view of the disk engine (spec
// §6 "DiskSnapshot").
type Snapshot interface {
	Iterator(column Column, opts IterOptions) (Iterator, error)
	SequenceNumber() uint64
}

// Engine is the disk-engine client (spec §6 "Disk engine"). Set once
// via the core's SetDiskEngine downstream call (spec §4.4); until then
// the Background Runner drops Gc and LoadRegion tasks.
type Engine interface {
	LatestSeqno() uint64
	// OldestSnapshotSeqno reports the oldest outstanding disk-level
	// snapshot's sequence number, or ok=false if none are outstanding
	// (spec §6 "oldest_snapshot_seqno() → Option<u64>").
	OldestSnapshotSeqno() (seqno uint64, ok bool)
	Snapshot() Snapshot
}
