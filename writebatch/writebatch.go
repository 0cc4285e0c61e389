// Package writebatch implements the write-batch split/merge structure
// feeding the apply path the GC filter and loader read from (SPEC_FULL
// §4 "Write-batch split/merge semantics"): a batch of column writes that
// splits into bounded sub-batches as it grows, so a single apply never
// holds an unbounded number of pending ops in memory at once.
package writebatch

import "github.com/golang/glog"

// Column names which skiplist column an Op targets.
type Column int

const (
	Default Column = iota
	Write
	Lock
)

// Op is one pending write: a Put (Value set) or a Delete (Value nil).
type Op struct {
	Column Column
	Key    []byte
	Value  []byte
}

func (o Op) isDelete() bool { return o.Value == nil }

// WriteBatch accumulates Ops into a pending sub-batch, flushing it into
// the done list once it reaches split ops. Grounded on
// original_source's write_batch.rs: default_write_batch_split (16) caps
// each sub-batch, write_batch_max_batches (16) caps how many flushed
// sub-batches accumulate before a caller should drain the batch.
type WriteBatch struct {
	split      int
	maxBatches int

	batches [][]Op // flushed sub-batches, oldest first
	pending []Op   // current, not-yet-full sub-batch
}

// New constructs a WriteBatch. split and maxBatches are typically
// core.Config's DefaultWriteBatchSplit/WriteBatchMaxBatches (16/16).
func New(split, maxBatches int) *WriteBatch {
	if split < 1 {
		split = 1
	}
	if maxBatches < 1 {
		maxBatches = 1
	}
	return &WriteBatch{split: split, maxBatches: maxBatches}
}

func (wb *WriteBatch) add(op Op) {
	wb.pending = append(wb.pending, op)
	if len(wb.pending) >= wb.split {
		wb.batches = append(wb.batches, wb.pending)
		wb.pending = nil
	}
}

// Put appends a Put op.
func (wb *WriteBatch) Put(col Column, key, value []byte) {
	wb.add(Op{Column: col, Key: key, Value: value})
}

// Delete appends a Delete op (a nil Value marks deletion).
func (wb *WriteBatch) Delete(col Column, key []byte) {
	wb.add(Op{Column: col, Key: key})
}

// PendingCount is the size of the current, not-yet-flushed sub-batch
// (spec.md §9 Open Question 2, resolved by splitting the ambiguous
// "count()" into PendingCount and TotalCount instead of one method).
func (wb *WriteBatch) PendingCount() int { return len(wb.pending) }

// TotalCount is every op across flushed sub-batches plus the pending one.
func (wb *WriteBatch) TotalCount() int {
	total := len(wb.pending)
	for _, b := range wb.batches {
		total += len(b)
	}
	return total
}

// Batches is the number of fully flushed sub-batches, the quantity
// ShouldFlush compares against maxBatches.
func (wb *WriteBatch) Batches() int { return len(wb.batches) }

// ShouldFlush reports whether the flushed sub-batch count has reached
// maxBatches, the signal a caller uses to drain this batch into the
// disk engine before accumulating further.
func (wb *WriteBatch) ShouldFlush() bool { return len(wb.batches) >= wb.maxBatches }

// Merge appends other's ops onto wb, oldest first, preserving op order.
//
// original_source's write_batch.rs merge(other) appends other's last
// sub-batch other.index+1 times instead of iterating every one of
// other's sub-batches — almost certainly an off-by-the-index loop bug,
// not an intentional semantic (spec.md §9 Open Question 3). This
// implementation iterates all of other's flushed sub-batches, then its
// pending one, through add() so wb's own split boundary is respected
// rather than inheriting other's.
func (wb *WriteBatch) Merge(other *WriteBatch) {
	for _, batch := range other.batches {
		for _, op := range batch {
			wb.add(op)
		}
	}
	for _, op := range other.pending {
		wb.add(op)
	}
}

// Apply drains every op, oldest first, through apply, one sub-batch at a
// time, stopping at the first error. Applied sub-batches are removed
// from wb even on failure, so a retry resumes at the failing sub-batch
// rather than reapplying already-applied ops.
func (wb *WriteBatch) Apply(apply func([]Op) error) error {
	for len(wb.batches) > 0 {
		batch := wb.batches[0]
		if err := apply(batch); err != nil {
			return err
		}
		wb.batches = wb.batches[1:]
	}
	if len(wb.pending) > 0 {
		if err := apply(wb.pending); err != nil {
			return err
		}
		wb.pending = nil
	}
	return nil
}

// Reset drops every op without applying them, logging how many were
// discarded (mirrors the teacher's convention of logging dropped work
// rather than silently discarding it).
func (wb *WriteBatch) Reset() {
	n := wb.TotalCount()
	wb.batches = nil
	wb.pending = nil
	if n > 0 {
		glog.V(4).Infof("writebatch: reset discarded %d pending ops", n)
	}
}
