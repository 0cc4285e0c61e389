package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/rangecache/background"
	"github.com/NVIDIA/rangecache/core"
	"github.com/NVIDIA/rangecache/placement"
	"github.com/NVIDIA/rangecache/region"
	"github.com/NVIDIA/rangecache/writebatch"
)

type noopPlacement struct{}

func (noopPlacement) GetTSO(context.Context) (placement.Timestamp, error) {
	return placement.Timestamp{}, context.DeadlineExceeded
}
func (noopPlacement) WatchRegionLabels(ctx context.Context) (<-chan placement.LabelRule, <-chan error) {
	rules := make(chan placement.LabelRule)
	errs := make(chan error)
	go func() { <-ctx.Done(); close(rules); close(errs) }()
	return rules, errs
}

func TestEngineAppliesWriteBatchIntoActiveRegion(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.GcInterval = time.Hour
	cfg.LoadEvictInterval = time.Hour

	e := core.New(cfg, noopPlacement{}, nil, background.NoRangeStats{})

	rng := region.KeyRange{Start: []byte("a"), End: []byte("z")}
	require.NoError(t, e.Region.LoadRegion(1, 1, rng))
	require.NoError(t, e.Region.MarkReadyToLoad(1))
	require.NoError(t, e.Region.MutRegionMeta(1, func(m *region.Meta) error { m.State = region.Active; return nil }))

	wb := e.NewWriteBatch()
	wb.Put(writebatch.Default, []byte("key1"), []byte("value1"))
	wb.Put(writebatch.Default, []byte("key2"), []byte("value2"))

	require.NoError(t, e.ApplyWriteBatch(rng, 1, wb))
	require.Equal(t, 2, e.Cols.Default.Len())
	require.False(t, e.Region.IsOverlappedWithRegionsBeingWritten(rng))
}
