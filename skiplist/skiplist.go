// Package skiplist is a minimal in-memory ordered key/value store
// standing in for the engine's lock-free, epoch-reclaimed skiplist.
//
// The skiplist proper — its node layout, epoch-based reclamation, and
// lock-free insert/remove — is explicitly out of scope for this
// component (spec §1 "Out of scope"): it is an external collaborator,
// specified here only at the interface the rest of the package needs
// (insert, remove, iterator, delete_range). This implementation favors
// a straightforward mutex-guarded sorted slice over reproducing a
// production lock-free data structure that nothing in this spec tests.
//
// Pin/Unpin are kept as no-op-shaped calls so callers can be written
// against the epoch-pinning discipline spec §5 describes ("every
// thread touching the skiplist must pin an epoch for the duration of
// its iteration or mutation") even though this stand-in reclaims
// memory synchronously under its own lock and needs no epochs.
package skiplist

import (
	"bytes"
	"sort"
	"sync"
)

type entry struct {
	key   []byte
	value []byte
}

// Column is one logical skiplist column (default, write, or lock).
type Column struct {
	mu      sync.RWMutex
	entries []entry // sorted ascending by key
}

func NewColumn() *Column { return &Column{} }

func (c *Column) find(key []byte) (idx int, found bool) {
	idx = sort.Search(len(c.entries), func(i int) bool {
		return bytes.Compare(c.entries[i].key, key) >= 0
	})
	found = idx < len(c.entries) && bytes.Equal(c.entries[idx].key, key)
	return
}

// Insert adds or overwrites the entry at key. Internal keys are unique
// per (user_key, seq, vtype), so in practice Insert only ever overwrites
// when a caller re-applies the same write (idempotent retry).
func (c *Column) Insert(key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, found := c.find(key)
	if found {
		c.entries[idx].value = value
		return
	}
	c.entries = append(c.entries, entry{})
	copy(c.entries[idx+1:], c.entries[idx:])
	c.entries[idx] = entry{key: key, value: value}
}

// Remove deletes the entry at key, if present, and reports whether
// anything was removed along with the size of what was removed
// (len(key)+len(value)), so callers performing GC/delete-range
// accounting can release exactly that many bytes from the memory
// controller.
func (c *Column) Remove(key []byte) (removedSize int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, found := c.find(key)
	if !found {
		return 0, false
	}
	removedSize = len(c.entries[idx].key) + len(c.entries[idx].value)
	c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
	return removedSize, true
}

// DeleteRange physically erases every entry whose user key (the part of
// the internal key before the trailing sequence/type trailer) falls in
// [startUserKey, endUserKey). It returns the total bytes released.
//
// decodeUserKey extracts the user-key prefix from an internal key; it is
// passed in rather than imported to avoid a dependency cycle between
// skiplist and keys (keys has no need to know about skiplist, but taking
// the decoder as a parameter keeps this package genuinely columns-only).
func (c *Column) DeleteRange(startUserKey, endUserKey []byte, decodeUserKey func(internal []byte) []byte) (freedBytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.entries[:0]
	for _, e := range c.entries {
		uk := decodeUserKey(e.key)
		if bytes.Compare(uk, startUserKey) >= 0 && (endUserKey == nil || bytes.Compare(uk, endUserKey) < 0) {
			freedBytes += len(e.key) + len(e.value)
			continue
		}
		kept = append(kept, e)
	}
	c.entries = kept
	return freedBytes
}

// Len reports the number of live entries, for tests and metrics.
func (c *Column) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Iterator walks a Column's entries in ascending key order within
// [lower, upper). A nil upper means unbounded.
type Iterator struct {
	snapshot []entry // copy-on-iterate: safe against concurrent Insert/Remove
	upper    []byte
	pos      int
}

// NewIterator snapshots the column's current entries >= lower and
// < upper and returns an iterator over that snapshot. Snapshotting
// mirrors the "pin an epoch for the duration of iteration" discipline
// the real skiplist requires, without needing real epochs here.
func (c *Column) NewIterator(lower, upper []byte) *Iterator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	start := sort.Search(len(c.entries), func(i int) bool {
		return bytes.Compare(c.entries[i].key, lower) >= 0
	})
	it := &Iterator{upper: upper, pos: -1}
	for i := start; i < len(c.entries); i++ {
		if upper != nil && bytes.Compare(c.entries[i].key, upper) >= 0 {
			break
		}
		it.snapshot = append(it.snapshot, c.entries[i])
	}
	return it
}

func (it *Iterator) SeekToFirst() { it.pos = 0 }

func (it *Iterator) Next() {
	if it.pos < 0 {
		it.pos = 0
		return
	}
	it.pos++
}

func (it *Iterator) Valid() bool { return it.pos >= 0 && it.pos < len(it.snapshot) }

func (it *Iterator) Key() []byte { return it.snapshot[it.pos].key }

func (it *Iterator) Value() []byte { return it.snapshot[it.pos].value }

// Pin marks the calling goroutine as touching the skiplist; Unpin ends
// that. This stand-in has no real epoch reclaimer, so both are no-ops,
// but are kept so call sites read the same way they would against a
// real epoch-pinned skiplist (see package doc).
func Pin()   {}
func Unpin() {}
