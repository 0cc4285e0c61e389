package background

import (
	"bytes"

	"github.com/NVIDIA/rangecache/keys"
	"github.com/NVIDIA/rangecache/skiplist"
)

// cleanLockColumn implements spec §4.4's CleanLockTombstone body: at
// most one version of each user key survives — the one with the
// highest internal sequence — and even that survivor is dropped if it
// is a tombstone (Deletion) whose sequence is strictly less than
// seqno. Internal keys are ordered user-key ascending, sequence
// descending (spec §6 "Encoded key layout"), so the first entry seen
// for a user key is always its newest version.
func cleanLockColumn(lock *skiplist.Column, seqno uint64) {
	it := lock.NewIterator(nil, nil)

	var prevUserKey []byte
	var haveSeen bool

	for it.SeekToFirst(); it.Valid(); it.Next() {
		internalKey := append([]byte(nil), it.Key()...)
		userKey, seq, vtype, err := keys.DecodeInternalKey(internalKey)
		if err != nil {
			continue
		}

		if haveSeen && bytes.Equal(userKey, prevUserKey) {
			// Superseded: an older version of a key we already kept the
			// newest of.
			lock.Remove(internalKey)
			continue
		}
		haveSeen = true
		prevUserKey = userKey

		if vtype == keys.Deletion && seq < seqno {
			lock.Remove(internalKey)
		}
	}
}
