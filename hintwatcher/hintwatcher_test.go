package hintwatcher

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/rangecache/placement"
	"github.com/NVIDIA/rangecache/region"
)

type fakePlacement struct {
	rules chan placement.LabelRule
	errs  chan error
}

func (p *fakePlacement) GetTSO(ctx context.Context) (placement.Timestamp, error) {
	return placement.Timestamp{}, nil
}
func (p *fakePlacement) WatchRegionLabels(ctx context.Context) (<-chan placement.LabelRule, <-chan error) {
	return p.rules, p.errs
}

type fakeRegionInfo struct {
	regions []placement.Region
	err     error
}

func (p *fakeRegionInfo) GetRegionsInRange(ctx context.Context, start, end []byte) ([]placement.Region, error) {
	return p.regions, p.err
}

func TestWatcherLoadsAlwaysCacheRules(t *testing.T) {
	placementSvc := &fakePlacement{rules: make(chan placement.LabelRule, 1), errs: make(chan error, 1)}
	regionInfo := &fakeRegionInfo{regions: []placement.Region{{ID: 1, Start: []byte("a"), End: []byte("z")}}}

	var loaded []region.ID
	w := New(placementSvc, regionInfo, func(id region.ID, epoch uint64, rng region.KeyRange) {
		loaded = append(loaded, id)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Watch(ctx); close(done) }()

	placementSvc.rules <- placement.LabelRule{
		Labels: []placement.Label{{Key: "cache", Value: "always"}},
		Data:   []placement.HexRange{{StartHex: hex.EncodeToString([]byte("a")), EndHex: hex.EncodeToString([]byte("z"))}},
	}

	require.Eventually(t, func() bool { return len(loaded) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, region.ID(1), loaded[0])

	cancel()
	<-done
}

func TestWatcherIgnoresRulesWithoutCacheTag(t *testing.T) {
	placementSvc := &fakePlacement{rules: make(chan placement.LabelRule, 1), errs: make(chan error, 1)}
	regionInfo := &fakeRegionInfo{}

	var loaded []region.ID
	w := New(placementSvc, regionInfo, func(id region.ID, epoch uint64, rng region.KeyRange) {
		loaded = append(loaded, id)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Watch(ctx); close(done) }()

	placementSvc.rules <- placement.LabelRule{
		Labels: []placement.Label{{Key: "team", Value: "storage"}},
		Data:   []placement.HexRange{{StartHex: "00", EndHex: "ff"}},
	}

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, loaded)

	cancel()
	<-done
}
