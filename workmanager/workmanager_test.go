package workmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/rangecache/background"
	"github.com/NVIDIA/rangecache/deleterange"
	"github.com/NVIDIA/rangecache/memctl"
	"github.com/NVIDIA/rangecache/placement"
	"github.com/NVIDIA/rangecache/region"
	"github.com/NVIDIA/rangecache/skiplist"
	"github.com/NVIDIA/rangecache/tick"
)

type noopStats struct{}

func (noopStats) EvictionCandidates() []background.EvictionCandidate { return nil }
func (noopStats) DesiredRegionSet() map[region.ID]region.KeyRange    { return nil }

type noopPlacement struct{}

func (noopPlacement) GetTSO(ctx context.Context) (placement.Timestamp, error) {
	return placement.Timestamp{}, context.DeadlineExceeded
}
func (noopPlacement) WatchRegionLabels(ctx context.Context) (<-chan placement.LabelRule, <-chan error) {
	return nil, nil
}

func TestScheduleRoutesDeleteRegionsToDeleteRange(t *testing.T) {
	mgr := region.NewManager(time.Minute)
	require.NoError(t, mgr.LoadRegion(1, 1, region.KeyRange{Start: []byte("a"), End: []byte("z")}))
	require.NoError(t, mgr.MarkReadyToLoad(1))
	require.NoError(t, mgr.MutRegionMeta(1, func(m *region.Meta) error { m.State = region.Active; return nil }))

	cols := background.Columns{Default: skiplist.NewColumn(), Write: skiplist.NewColumn(), Lock: skiplist.NewColumn()}
	mem := memctl.New(1<<20, 1<<20)
	dr := deleterange.New(mgr, mem, deleterange.Columns{Default: cols.Default, Write: cols.Write, Lock: cols.Lock})

	loader := background.NewLoader(mgr, mem, cols, noopPlacement{}, time.Hour, nil)
	runner := background.NewRunner(mgr, mem, cols, noopStats{}, background.DefaultConfig(), loader, nil)
	driver := tick.New(time.Hour, time.Hour, noopPlacement{}, func(background.Task) {})

	m := New(runner, dr, driver)
	defer m.Stop()

	rngs, err := mgr.EvictRegion(1, region.AutoEvict)
	require.NoError(t, err)
	require.Len(t, rngs, 1)

	m.Schedule(background.DeleteRegions{Items: []background.DeleteRegionsItem{
		{ID: 1, Range: rngs[0]},
	}})

	require.Eventually(t, func() bool {
		_, ok := mgr.Get(1)
		return !ok
	}, time.Second, time.Millisecond)
}
