package background

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/rangecache/keys"
	"github.com/NVIDIA/rangecache/skiplist"
)

func lockPut(c *skiplist.Column, rawKey []byte, seq uint64, vtype keys.ValueType) {
	c.Insert(keys.EncodeInternalKey(rawKey, seq, vtype), []byte("v"))
}

func lockHas(c *skiplist.Column, rawKey []byte, seq uint64) bool {
	it := c.NewIterator(nil, nil)
	for it.SeekToFirst(); it.Valid(); it.Next() {
		uk, s, _, err := keys.DecodeInternalKey(it.Key())
		if err == nil && string(uk) == string(rawKey) && s == seq {
			return true
		}
	}
	return false
}

func TestCleanLockColumnKeepsNewestAndDropsOldTombstone(t *testing.T) {
	col := skiplist.NewColumn()
	lockPut(col, []byte("k1"), 5, keys.Value)
	lockPut(col, []byte("k1"), 10, keys.Value) // newer live version
	lockPut(col, []byte("k2"), 3, keys.Deletion)

	cleanLockColumn(col, 100)

	require.True(t, lockHas(col, []byte("k1"), 10))
	require.False(t, lockHas(col, []byte("k1"), 5))
	require.False(t, lockHas(col, []byte("k2"), 3))
}

func TestCleanLockColumnKeepsRecentTombstone(t *testing.T) {
	col := skiplist.NewColumn()
	lockPut(col, []byte("k1"), 50, keys.Deletion)

	cleanLockColumn(col, 10)

	require.True(t, lockHas(col, []byte("k1"), 50))
}
