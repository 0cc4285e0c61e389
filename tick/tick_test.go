package tick

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/rangecache/background"
	"github.com/NVIDIA/rangecache/placement"
)

type fakePlacement struct{}

func (fakePlacement) GetTSO(ctx context.Context) (placement.Timestamp, error) {
	return placement.Timestamp{Physical: 1_000_000}, nil
}
func (fakePlacement) WatchRegionLabels(ctx context.Context) (<-chan placement.LabelRule, <-chan error) {
	return nil, nil
}

func TestDriverSchedulesGcAndTopRegions(t *testing.T) {
	scheduled := make(chan background.Task, 8)
	d := New(20*time.Millisecond, 25*time.Millisecond, fakePlacement{}, func(tk background.Task) { scheduled <- tk })

	go d.Run()
	defer func() {
		d.Stop()
		d.Join()
	}()

	var sawGc, sawTopRegions bool
	deadline := time.After(500 * time.Millisecond)
	for !sawGc || !sawTopRegions {
		select {
		case tk := <-scheduled:
			switch tk.(type) {
			case background.Gc:
				sawGc = true
			case background.TopRegionsLoadEvict:
				sawTopRegions = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for both tick kinds")
		}
	}
}

func TestDriverStopJoinsCleanly(t *testing.T) {
	d := New(time.Hour, time.Hour, fakePlacement{}, func(background.Task) {})
	go d.Run()
	d.Stop()
	done := make(chan struct{})
	go func() {
		d.Join()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Join did not return after Stop")
	}
}
