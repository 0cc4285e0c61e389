package background

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/rangecache/deleterange"
	"github.com/NVIDIA/rangecache/diskengine"
	"github.com/NVIDIA/rangecache/memctl"
	"github.com/NVIDIA/rangecache/placement"
	"github.com/NVIDIA/rangecache/region"
	"github.com/NVIDIA/rangecache/skiplist"
)

type fakeIterator struct {
	keys   [][]byte
	values [][]byte
	pos    int
}

func (f *fakeIterator) SeekToFirst()  { f.pos = 0 }
func (f *fakeIterator) Valid() bool   { return f.pos < len(f.keys) }
func (f *fakeIterator) Next()         { f.pos++ }
func (f *fakeIterator) Key() []byte   { return f.keys[f.pos] }
func (f *fakeIterator) Value() []byte { return f.values[f.pos] }
func (f *fakeIterator) Close() error  { return nil }

type fakeSnapshot struct {
	data map[diskengine.Column]*fakeIterator
	seq  uint64
}

func (s *fakeSnapshot) Iterator(col diskengine.Column, _ diskengine.IterOptions) (diskengine.Iterator, error) {
	it, ok := s.data[col]
	if !ok {
		return &fakeIterator{}, nil
	}
	return &fakeIterator{keys: it.keys, values: it.values}, nil
}
func (s *fakeSnapshot) SequenceNumber() uint64 { return s.seq }

type fakeEngine struct {
	snap *fakeSnapshot
}

func (e *fakeEngine) LatestSeqno() uint64                      { return e.snap.seq }
func (e *fakeEngine) OldestSnapshotSeqno() (uint64, bool)       { return 0, false }
func (e *fakeEngine) Snapshot() diskengine.Snapshot             { return e.snap }

type fakePlacement struct{ err error }

func (p *fakePlacement) GetTSO(ctx context.Context) (placement.Timestamp, error) {
	if p.err != nil {
		return placement.Timestamp{}, p.err
	}
	return placement.Timestamp{Physical: 100000}, nil
}
func (p *fakePlacement) WatchRegionLabels(ctx context.Context) (<-chan placement.LabelRule, <-chan error) {
	return nil, nil
}

func TestLoaderIngestsAndActivates(t *testing.T) {
	mgr := region.NewManager(10 * time.Minute)
	rng := region.KeyRange{Start: []byte("a"), End: []byte("z")}
	require.NoError(t, mgr.LoadRegion(1, 1, rng))
	require.NoError(t, mgr.MarkReadyToLoad(1))

	cols := Columns{Default: skiplist.NewColumn(), Write: skiplist.NewColumn(), Lock: skiplist.NewColumn()}

	snap := &fakeSnapshot{seq: 7, data: map[diskengine.Column]*fakeIterator{
		diskengine.Default: {keys: [][]byte{[]byte("b")}, values: [][]byte{[]byte("v")}},
	}}
	engine := &fakeEngine{snap: snap}

	mem := memctl.New(1<<20, 1<<20)
	var emitted []Task
	loader := NewLoader(mgr, mem, cols, &fakePlacement{}, 5*time.Minute, func(tk Task) { emitted = append(emitted, tk) })
	loader.SetDiskEngine(engine)

	loader.Load(LoadRegion{ID: 1, Epoch: 1, Range: rng})

	got, ok := mgr.Get(1)
	require.True(t, ok)
	require.Equal(t, region.Active, got.State)
	require.Empty(t, emitted)
}

func TestLoaderCancellationEmitsDeleteRegions(t *testing.T) {
	mgr := region.NewManager(10 * time.Minute)
	rng := region.KeyRange{Start: []byte("a"), End: []byte("z")}
	require.NoError(t, mgr.LoadRegion(1, 1, rng))
	require.NoError(t, mgr.MarkReadyToLoad(1))

	cols := Columns{Default: skiplist.NewColumn(), Write: skiplist.NewColumn(), Lock: skiplist.NewColumn()}
	mem := memctl.New(1<<20, 1<<20)

	var emitted []Task
	loader := NewLoader(mgr, mem, cols, &fakePlacement{err: errors.New("timeout")}, time.Minute, func(tk Task) { emitted = append(emitted, tk) })

	// Simulate a concurrent evict_region(R, AutoEvict) racing the loader
	// past step 1 (spec §8 scenario S5): flip state to LoadingCanceled
	// before Load observes it.
	require.NoError(t, mgr.MutRegionMeta(1, func(m *region.Meta) error {
		m.State = region.LoadingCanceled
		return nil
	}))

	loader.Load(LoadRegion{ID: 1, Epoch: 1, Range: rng})

	got, ok := mgr.Get(1)
	require.True(t, ok)
	require.Equal(t, region.Evicting, got.State)
	require.Len(t, emitted, 1)
}

// rowsOfSize builds n (key, value) rows each totaling size bytes
// (key + value length), with distinct keys under prefix.
func rowsOfSize(prefix byte, n, size int) (keys [][]byte, values [][]byte) {
	for i := 0; i < n; i++ {
		key := []byte{prefix, byte('1' + i)}
		value := bytes.Repeat([]byte("v"), size-len(key))
		keys = append(keys, key)
		values = append(values, value)
	}
	return keys, values
}

// TestLoaderHardLimitMidLoadCleanupAndReload drives spec §8 scenario S4
// end to end: soft=1000/hard=1500, region A's load succeeds at 840
// bytes, region B's load fails mid-insert once the hard limit is
// crossed, Delete-Range physically removes the partial insert and
// evicts region B, and a reload after raising hard to 2000 succeeds.
func TestLoaderHardLimitMidLoadCleanupAndReload(t *testing.T) {
	mgr := region.NewManager(10 * time.Minute)
	cols := Columns{Default: skiplist.NewColumn(), Write: skiplist.NewColumn(), Lock: skiplist.NewColumn()}
	mem := memctl.New(1000, 1500)

	var emitted []Task
	loader := NewLoader(mgr, mem, cols, &fakePlacement{}, 5*time.Minute, func(tk Task) { emitted = append(emitted, tk) })

	// Region A: 6 rows of 140 bytes each (840 total) fits comfortably
	// under both watermarks.
	rngA := region.KeyRange{Start: []byte("a0"), End: []byte("a9")}
	require.NoError(t, mgr.LoadRegion(1, 1, rngA))
	require.NoError(t, mgr.MarkReadyToLoad(1))

	aKeys, aValues := rowsOfSize('a', 6, 140)
	loader.SetDiskEngine(&fakeEngine{snap: &fakeSnapshot{seq: 1, data: map[diskengine.Column]*fakeIterator{
		diskengine.Default: {keys: aKeys, values: aValues},
	}}})
	loader.Load(LoadRegion{ID: 1, Epoch: 1, Range: rngA})

	gotA, ok := mgr.Get(1)
	require.True(t, ok)
	require.Equal(t, region.Active, gotA.State)
	require.Equal(t, int64(840), mem.UsedBytes())
	require.Empty(t, emitted)

	// Region B: 4 rows of 200 bytes each. Three fit (840+600=1440 <=
	// 1500); the fourth would push used_bytes to 1640 > hard_limit, so
	// ingestColumn stops mid-column with a partial insert in place.
	rngB := region.KeyRange{Start: []byte("b0"), End: []byte("b9")}
	require.NoError(t, mgr.LoadRegion(2, 1, rngB))
	require.NoError(t, mgr.MarkReadyToLoad(2))

	bKeys, bValues := rowsOfSize('b', 4, 200)
	loader.SetDiskEngine(&fakeEngine{snap: &fakeSnapshot{seq: 2, data: map[diskengine.Column]*fakeIterator{
		diskengine.Default: {keys: bKeys, values: bValues},
	}}})
	loader.Load(LoadRegion{ID: 2, Epoch: 1, Range: rngB})

	gotB, ok := mgr.Get(2)
	require.True(t, ok)
	require.Equal(t, region.Evicting, gotB.State)
	require.Equal(t, region.LoadFailed, gotB.EvictReason)
	require.Len(t, emitted, 1)
	require.Equal(t, int64(1440), mem.UsedBytes())

	// Delete-Range consumes the emitted DeleteRegions task: the partial
	// insert is physically removed and region B is gone.
	del := emitted[0].(DeleteRegions)
	dr := deleterange.New(mgr, mem, deleterange.Columns{Default: cols.Default, Write: cols.Write, Lock: cols.Lock})
	tasks := make([]deleterange.Task, len(del.Items))
	for i, item := range del.Items {
		tasks[i] = deleterange.Task{ID: item.ID, Range: item.Range}
	}
	dr.Submit(tasks)

	_, ok = mgr.Get(2)
	require.False(t, ok)
	it := cols.Default.NewIterator(rngB.Start, rngB.End)
	it.SeekToFirst()
	require.False(t, it.Valid())

	// Raise hard_limit to 2000 and reload region B with its full 6 rows
	// (146 bytes each, 876 total): this succeeds and used_bytes lands
	// at the deterministic final total spec §8 S4 names.
	mem.SetLimits(1000, 2000)
	emitted = nil
	require.NoError(t, mgr.LoadRegion(2, 2, rngB))
	require.NoError(t, mgr.MarkReadyToLoad(2))

	bKeys2, bValues2 := rowsOfSize('b', 6, 146)
	loader.SetDiskEngine(&fakeEngine{snap: &fakeSnapshot{seq: 3, data: map[diskengine.Column]*fakeIterator{
		diskengine.Default: {keys: bKeys2, values: bValues2},
	}}})
	loader.Load(LoadRegion{ID: 2, Epoch: 2, Range: rngB})

	gotB2, ok := mgr.Get(2)
	require.True(t, ok)
	require.Equal(t, region.Active, gotB2.State)
	require.Empty(t, emitted)
	require.Equal(t, int64(1692), mem.UsedBytes())
}
