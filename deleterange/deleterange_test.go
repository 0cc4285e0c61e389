package deleterange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/rangecache/keys"
	"github.com/NVIDIA/rangecache/memctl"
	"github.com/NVIDIA/rangecache/region"
	"github.com/NVIDIA/rangecache/skiplist"
)

func newCols() Columns {
	return Columns{Default: skiplist.NewColumn(), Write: skiplist.NewColumn(), Lock: skiplist.NewColumn()}
}

func insert(c *skiplist.Column, rawKey []byte, seq uint64) {
	ik := keys.EncodeInternalKey(rawKey, seq, keys.Value)
	c.Insert(ik, []byte("v"))
}

func TestRunnerErasesImmediately(t *testing.T) {
	mgr := region.NewManager(10 * time.Minute)
	require.NoError(t, mgr.LoadRegion(1, 1, region.KeyRange{Start: []byte("a"), End: []byte("z")}))
	require.NoError(t, mgr.MarkReadyToLoad(1))
	require.NoError(t, mgr.MutRegionMeta(1, func(m *region.Meta) error { m.State = region.Active; return nil }))

	cols := newCols()
	insert(cols.Write, []byte("b"), 1)
	insert(cols.Default, []byte("b"), 1)

	mem := memctl.New(1<<20, 1<<20)
	mem.Acquire(2)

	r := New(mgr, mem, cols)
	r.Submit([]Task{{ID: 1, Range: region.KeyRange{Start: []byte("a"), End: []byte("z")}}})

	require.Equal(t, 0, r.Pending())
	require.Equal(t, int64(0), mem.UsedBytes())

	it := cols.Write.NewIterator([]byte("a"), []byte("z"))
	it.SeekToFirst()
	require.False(t, it.Valid())
}

func TestRunnerDefersWhileInGC(t *testing.T) {
	mgr := region.NewManager(10 * time.Minute)
	require.NoError(t, mgr.LoadRegion(1, 1, region.KeyRange{Start: []byte("a"), End: []byte("z")}))
	require.NoError(t, mgr.MarkReadyToLoad(1))
	require.NoError(t, mgr.MutRegionMeta(1, func(m *region.Meta) error { m.State = region.Active; return nil }))
	require.True(t, mgr.BeginRegionGC(1))

	cols := newCols()
	insert(cols.Write, []byte("b"), 1)

	mem := memctl.New(1<<20, 1<<20)
	r := New(mgr, mem, cols)
	r.Submit([]Task{{ID: 1, Range: region.KeyRange{Start: []byte("a"), End: []byte("z")}}})

	require.Equal(t, 1, r.Pending())

	it := cols.Write.NewIterator([]byte("a"), []byte("z"))
	it.SeekToFirst()
	require.True(t, it.Valid())

	mgr.OnGCRegionFinished(1)
	r.RunDelayed()
	require.Equal(t, 0, r.Pending())

	it2 := cols.Write.NewIterator([]byte("a"), []byte("z"))
	it2.SeekToFirst()
	require.False(t, it2.Valid())
}

func TestRunnerDefersWhileBeingWritten(t *testing.T) {
	mgr := region.NewManager(10 * time.Minute)
	require.NoError(t, mgr.LoadRegion(1, 1, region.KeyRange{Start: []byte("a"), End: []byte("z")}))
	require.NoError(t, mgr.MarkReadyToLoad(1))
	require.NoError(t, mgr.MutRegionMeta(1, func(m *region.Meta) error { m.State = region.Active; return nil }))

	rng := region.KeyRange{Start: []byte("a"), End: []byte("z")}
	mgr.RegisterWriting(rng)

	cols := newCols()
	mem := memctl.New(1<<20, 1<<20)
	r := New(mgr, mem, cols)
	r.Submit([]Task{{ID: 1, Range: rng}})
	require.Equal(t, 1, r.Pending())

	mgr.UnregisterWriting(rng)
	r.RunDelayed()
	require.Equal(t, 0, r.Pending())
}
